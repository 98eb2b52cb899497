package udp

import (
	"net"

	"github.com/svanichkin/ipphone/device"
)

// StartUplink forwards audio from source to peer over pc until Stop. Each
// non-empty read becomes exactly one datagram; zero-byte reads are skipped and
// nothing is retried. source must already be opened and started; the worker owns
// it from now on.
func StartUplink(pc net.PacketConn, peer net.Addr, source device.Capture, opts Options) *Worker {
	w := newWorker("uplink", source, opts)
	chunk := opts.chunkSize()
	go func() {
		defer close(w.done)
		rates := newRateLogger("tx")
		defer rates.publish(true)

		buf := make([]byte, chunk)
		for w.running.Load() {
			n, err := source.Read(buf)
			if err != nil {
				w.fail("capture", err)
				return
			}
			if n <= 0 {
				continue
			}
			if opts.OnChunk != nil {
				opts.OnChunk(n)
			}
			if !opts.Switches.CaptureEnabled() {
				continue
			}
			if _, err := pc.WriteTo(buf[:n], peer); err != nil {
				w.fail("send", err)
				return
			}
			w.account(n)
			rates.add(n)
		}
	}()
	return w
}

// StartDownlink plays every datagram arriving on pc through sink, in receipt
// order and from whatever source address. sink must already be opened and
// started; the worker owns it. The loop ends when the owner closes pc.
func StartDownlink(pc net.PacketConn, sink device.Playback, opts Options) *Worker {
	w := newWorker("downlink", sink, opts)
	drainTimeout := opts.drainTimeout()
	w.drain = func() { sink.Drain(drainTimeout) }
	go func() {
		defer close(w.done)
		rates := newRateLogger("rx")
		defer rates.publish(true)

		buf := make([]byte, maxDatagram)
		for {
			n, _, err := pc.ReadFrom(buf)
			if err != nil {
				w.fail("receive", err)
				return
			}
			if !w.running.Load() {
				return
			}
			if n == 0 {
				continue
			}
			w.account(n)
			rates.add(n)
			if !opts.Switches.PlaybackEnabled() {
				continue
			}
			if _, err := sink.Write(buf[:n]); err != nil {
				w.fail("playback", err)
				return
			}
		}
	}()
	return w
}
