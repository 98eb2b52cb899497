// Package udp carries call audio: an uplink worker forwarding captured chunks as
// datagrams and a downlink worker playing every received datagram. There is no
// framing beyond one datagram per chunk, no sequencing and no retransmission.
package udp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/svanichkin/ipphone/logs"
	"github.com/svanichkin/ipphone/mediactrl"
)

const (
	// DefaultChunkSize is the capture unit and the largest datagram sent (~64 ms).
	DefaultChunkSize = 1024
	// DefaultDrainTimeout bounds how long Stop waits for queued playback.
	DefaultDrainTimeout = 500 * time.Millisecond

	maxDatagram = 65535
)

// Options tunes a media worker. The zero value is usable.
type Options struct {
	ChunkSize    int
	DrainTimeout time.Duration
	Switches     *mediactrl.Switches
	// OnChunk is called from the uplink goroutine for every non-empty capture.
	OnChunk func(n int)
	// Fields are attached to every log line of the worker.
	Fields logrus.Fields
}

func (o Options) chunkSize() int {
	if o.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

func (o Options) drainTimeout() time.Duration {
	if o.DrainTimeout <= 0 {
		return DefaultDrainTimeout
	}
	return o.DrainTimeout
}

// releaser is the part of capture and playback devices a worker releases on Stop.
type releaser interface {
	Stop() error
	Close() error
}

// Worker is the handle of one running media direction.
type Worker struct {
	name    string
	log     *logrus.Entry
	running atomic.Bool
	done    chan struct{}
	dev     releaser
	drain   func()

	stopOnce sync.Once

	mu  sync.Mutex
	err error

	packets atomic.Uint64
	bytes   atomic.Uint64
}

func newWorker(name string, dev releaser, opts Options) *Worker {
	w := &Worker{
		name: name,
		log:  logrus.WithFields(opts.Fields).WithField("worker", name),
		done: make(chan struct{}),
		dev:  dev,
	}
	w.running.Store(true)
	return w
}

// Stop requests shutdown and releases the device. It does not wait for the
// loop: a downlink stays blocked in its receive until the owner closes the socket.
func (w *Worker) Stop() {
	if w == nil {
		return
	}
	w.stopOnce.Do(func() {
		w.running.Store(false)
		if w.drain != nil {
			w.drain()
		}
		if err := w.dev.Stop(); err != nil {
			w.log.WithError(err).Warn("[voice/udp] device stop failed")
		}
		if err := w.dev.Close(); err != nil {
			w.log.WithError(err).Warn("[voice/udp] device close failed")
		}
	})
}

// Running reports whether Stop has not been requested yet.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// Done is closed once the worker loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err returns the failure that ended the loop while it was still running, if any.
// Errors caused by a requested shutdown are never recorded.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Stats returns the datagrams and payload bytes moved so far.
func (w *Worker) Stats() (packets, bytes uint64) {
	return w.packets.Load(), w.bytes.Load()
}

// fail is the single error path of both loops. The running flag is read here,
// after the failing call returned, so an error provoked by Stop plus a socket or
// device close is always classified as shutdown.
func (w *Worker) fail(op string, err error) {
	if !w.running.Load() {
		logs.LogV("[voice/udp] %s: %s after stop: %v", w.name, op, err)
		return
	}
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
	w.log.WithError(err).Errorf("[voice/udp] %s failed", op)
}

func (w *Worker) account(n int) {
	w.packets.Add(1)
	w.bytes.Add(uint64(n))
}

// rateLogger publishes verbose per-second packet rates like "tx: 15 pkts, 15.00 kB/s".
type rateLogger struct {
	label   string
	last    time.Time
	packets uint64
	bytes   uint64
}

func newRateLogger(label string) *rateLogger {
	return &rateLogger{label: label, last: time.Now()}
}

func (r *rateLogger) add(n int) {
	r.packets++
	r.bytes += uint64(n)
	r.publish(false)
}

func (r *rateLogger) publish(force bool) {
	elapsed := time.Since(r.last)
	if !force && elapsed < time.Second {
		return
	}
	if elapsed <= 0 {
		elapsed = time.Second
	}
	rate := (float64(r.bytes) / 1024) / elapsed.Seconds()
	logs.LogV("[voice/udp] %s: %d pkts, %.2f kB/s", r.label, r.packets, rate)
	r.packets, r.bytes = 0, 0
	r.last = time.Now()
}
