package ui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/svanichkin/ipphone/mediactrl"
	"github.com/svanichkin/ipphone/network"
	"github.com/svanichkin/ipphone/phone"
)

type fakePhone struct {
	mu      sync.Mutex
	calls   []string
	dialed  []network.Endpoint
	state   phone.CallState
	stats   phone.Stats
	failAll error
}

func (f *fakePhone) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.failAll
}

func (f *fakePhone) Dial(ep network.Endpoint) error {
	f.mu.Lock()
	f.dialed = append(f.dialed, ep)
	f.mu.Unlock()
	return f.record("dial")
}

func (f *fakePhone) Listen(port int) error {
	return f.record(fmt.Sprintf("listen %d", port))
}

func (f *fakePhone) StopListening() error { return f.record("stop") }
func (f *fakePhone) Hangup() error        { return f.record("hangup") }

func (f *fakePhone) State() phone.CallState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePhone) Stats() phone.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.stats
	st.State = f.state
	return st
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestConsole(in string) (*Console, *fakePhone, *syncBuffer) {
	ph := &fakePhone{}
	out := &syncBuffer{}
	contacts := map[string]string{"alice": "10.0.0.5:6000"}
	c := NewConsole(ph, Options{
		In:       strings.NewReader(in),
		Out:      out,
		Switches: mediactrl.New(),
		Port:     5000,
		Contacts: func(name string) (string, bool) {
			addr, ok := contacts[strings.ToLower(name)]
			return addr, ok
		},
	})
	return c, ph, out
}

func TestRunExecutesCommands(t *testing.T) {
	c, ph, out := newTestConsole("listen\nstop\nlisten 6100\ndial 10.0.0.2\ncall alice\nhangup\n\nquit\ndial 1.2.3.4\n")

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []string{"listen 5000", "stop", "listen 6100", "dial", "dial", "hangup"}, ph.calls)
	assert.Equal(t, []network.Endpoint{
		{Host: "10.0.0.2", Port: 5000},
		{Host: "10.0.0.5", Port: 6000},
	}, ph.dialed)
	assert.NotContains(t, out.String(), "> ", "no prompt without a terminal")
}

func TestRunStopsAtEndOfInput(t *testing.T) {
	c, ph, _ := newTestConsole("hangup\n")
	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"hangup"}, ph.calls)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ph := &fakePhone{}
	r, w := io.Pipe()
	defer w.Close()
	c := NewConsole(ph, Options{In: r, Out: &syncBuffer{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run ignored cancellation")
	}
}

func TestExecErrors(t *testing.T) {
	c, ph, _ := newTestConsole("")

	assert.ErrorContains(t, c.Exec("dial"), "usage")
	assert.ErrorContains(t, c.Exec("listen abc"), "bad port")
	assert.ErrorContains(t, c.Exec("frobnicate"), "unknown command")
	assert.ErrorIs(t, c.Exec("dial 10.0.0.1:99999"), network.ErrInvalidEndpoint)

	ph.failAll = phone.ErrNotConnected
	assert.ErrorIs(t, c.Exec("hangup"), phone.ErrNotConnected)
	assert.NoError(t, c.Exec("   "))
}

func TestRunReportsCommandErrors(t *testing.T) {
	c, ph, out := newTestConsole("hangup\nquit\n")
	ph.failAll = errors.New("boom")
	require.NoError(t, c.Run(context.Background()))
	assert.Contains(t, out.String(), "error: boom")
}

func TestMuteAndDeafen(t *testing.T) {
	c, _, out := newTestConsole("")
	sw := c.switches

	require.NoError(t, c.Exec("mute"))
	assert.False(t, sw.CaptureEnabled())
	require.NoError(t, c.Exec("deafen"))
	assert.False(t, sw.PlaybackEnabled())
	require.NoError(t, c.Exec("mute"))
	assert.True(t, sw.CaptureEnabled())

	assert.Contains(t, out.String(), "microphone off")
	assert.Contains(t, out.String(), "speaker off")
	assert.Contains(t, out.String(), "microphone on")
}

func TestStatus(t *testing.T) {
	c, ph, out := newTestConsole("")
	require.NoError(t, c.Exec("status"))
	assert.Contains(t, out.String(), "idle  mic on  speaker on")

	ph.state = phone.StateConnected
	ph.stats = phone.Stats{
		CallID: "c1", Remote: network.Endpoint{Host: "10.0.0.9", Port: 5000},
		Since: time.Now().Add(-65 * time.Second), TxPackets: 3, TxBytes: 3072, RxPackets: 2, RxBytes: 2048,
	}
	require.NoError(t, c.Exec("status"))
	s := out.String()
	assert.Contains(t, s, "connected to 10.0.0.9:5000")
	assert.Contains(t, s, "01:05")
	assert.Contains(t, s, "sent 3 packets (3072 bytes), received 2 packets (2048 bytes)")
}

func TestHandleEvent(t *testing.T) {
	c, _, out := newTestConsole("")
	remote := network.Endpoint{Host: "10.0.0.7", Port: 5000}

	c.HandleEvent(phone.Event{Kind: phone.EventListening, Remote: network.Endpoint{Port: 5000}})
	c.HandleEvent(phone.Event{Kind: phone.EventIncoming, Remote: remote})
	c.HandleEvent(phone.Event{Kind: phone.EventConnected, Remote: remote})
	c.HandleEvent(phone.Event{Kind: phone.EventSignal, Bytes: 1024})
	c.HandleEvent(phone.Event{Kind: phone.EventCallEnded, Remote: remote, Reason: phone.ReasonRemoteHangup, Duration: 3 * time.Second})
	c.HandleEvent(phone.Event{Kind: phone.EventCallEnded, Remote: remote, Reason: phone.ReasonCancelled})
	c.HandleEvent(phone.Event{Kind: phone.EventError, Err: errors.New("refused")})

	want := "waiting for a call on port 5000\n" +
		"incoming call from 10.0.0.7:5000\n" +
		"connected to 10.0.0.7:5000\n" +
		"call with 10.0.0.7:5000 ended (remote hangup) after 00:03\n" +
		"call to 10.0.0.7:5000 cancelled\n" +
		"error: refused\n"
	assert.Equal(t, want, out.String())
}

func TestRateMeter(t *testing.T) {
	var m RateMeter
	t0 := time.Now()
	m.Sample(phone.Stats{CallID: "a", TxBytes: 0, RxBytes: 0}, t0)
	m.Sample(phone.Stats{CallID: "a", TxBytes: 16 * 1024, RxBytes: 8 * 1024}, t0.Add(time.Second))
	tx, rx := m.Snapshot()
	assert.InDelta(t, 16, tx, 0.001)
	assert.InDelta(t, 8, rx, 0.001)

	m.Sample(phone.Stats{CallID: "b", TxBytes: 99999}, t0.Add(2*time.Second))
	tx, rx = m.Snapshot()
	assert.Zero(t, tx)
	assert.Zero(t, rx)

	assert.Equal(t, "↑16kB/s ↓2.5kB/s", buildRateLabel(16, 2.5))
	assert.Equal(t, "1:01:01", formatDuration(time.Hour+61*time.Second))
}

func TestAddContact(t *testing.T) {
	c, ph, out := newTestConsole("")
	saved := map[string]string{}
	c.save = func(name, addr string) error {
		if _, dup := saved[name]; dup {
			return errors.New("duplicate contact")
		}
		saved[name] = addr
		return nil
	}
	c.contacts = func(name string) (string, bool) {
		addr, ok := saved[name]
		return addr, ok
	}

	require.NoError(t, c.Exec("add bob 10.0.0.8:6000"))
	assert.Contains(t, out.String(), "saved bob")
	assert.ErrorContains(t, c.Exec("add bob 10.0.0.9"), "duplicate")
	assert.ErrorContains(t, c.Exec("add bob"), "usage")
	assert.ErrorIs(t, c.Exec("add eve 10.0.0.9:0"), network.ErrInvalidEndpoint)

	require.NoError(t, c.Exec("dial bob"))
	assert.Equal(t, []network.Endpoint{{Host: "10.0.0.8", Port: 6000}}, ph.dialed)

	c.save = nil
	assert.ErrorContains(t, c.Exec("add carol 10.0.0.7"), "cannot be saved")
}
