package ui

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/svanichkin/ipphone/phone"
)

// RateMeter turns the cumulative byte counters of phone.Stats into kB/s.
type RateMeter struct {
	mu     sync.RWMutex
	callID string
	last   time.Time
	txB    uint64
	rxB    uint64
	tx     float64
	rx     float64
}

// Sample feeds a stats snapshot taken at now. A new call id restarts the meter.
func (m *RateMeter) Sample(st phone.Stats, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.CallID == "" || st.CallID != m.callID {
		m.callID = st.CallID
		m.last, m.txB, m.rxB = now, st.TxBytes, st.RxBytes
		m.tx, m.rx = 0, 0
		return
	}
	dt := now.Sub(m.last).Seconds()
	if dt <= 0 {
		return
	}
	m.tx = float64(st.TxBytes-m.txB) / 1024 / dt
	m.rx = float64(st.RxBytes-m.rxB) / 1024 / dt
	m.last, m.txB, m.rxB = now, st.TxBytes, st.RxBytes
}

// Snapshot returns the latest send and receive rates in kB/s.
func (m *RateMeter) Snapshot() (txKBps, rxKBps float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tx, m.rx
}

func buildRateLabel(txKBps, rxKBps float64) string {
	return fmt.Sprintf("↑%skB/s ↓%skB/s", formatRateValue(txKBps), formatRateValue(rxKBps))
}

func formatRateValue(v float64) string {
	if v <= 0 {
		return "0"
	}
	if v < 10 {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.Itoa(int(math.Round(v)))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
