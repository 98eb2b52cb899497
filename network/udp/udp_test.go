package udp

import (
	"encoding/binary"
	"math/rand"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/svanichkin/ipphone/device"
	"github.com/svanichkin/ipphone/mediactrl"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func openCapture(t *testing.T) *device.MemoryCapture {
	t.Helper()
	c := device.NewMemoryCapture()
	require.NoError(t, c.Open(device.DefaultFormat))
	require.NoError(t, c.Start())
	return c
}

func openPlayback(t *testing.T) *device.MemoryPlayback {
	t.Helper()
	p := &device.MemoryPlayback{}
	require.NoError(t, p.Open(device.DefaultFormat))
	require.NoError(t, p.Start())
	return p
}

func waitDone(t *testing.T, w *Worker) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not exit", w.name)
	}
}

func readDatagram(t *testing.T, pc *net.UDPConn) []byte {
	t.Helper()
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, maxDatagram)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestUplinkSendsOneDatagramPerChunk(t *testing.T) {
	local := listenLoopback(t)
	peer := listenLoopback(t)
	src := openCapture(t)

	var signals atomic.Int64
	w := StartUplink(local, peer.LocalAddr(), src, Options{
		ChunkSize: 1024,
		OnChunk:   func(n int) { signals.Add(int64(n)) },
	})

	full := make([]byte, 1024)
	full[0], full[1023] = 0xAA, 0xBB
	src.Feed(full)
	src.Feed(nil) // zero-byte capture is skipped
	src.Feed([]byte{1, 2, 3, 4})

	got := readDatagram(t, peer)
	assert.Equal(t, full, got)
	assert.Equal(t, []byte{1, 2, 3, 4}, readDatagram(t, peer))

	require.Eventually(t, func() bool { p, _ := w.Stats(); return p == 2 }, time.Second, 10*time.Millisecond)
	_, b := w.Stats()
	assert.EqualValues(t, 1028, b)
	assert.EqualValues(t, 1028, signals.Load())

	w.Stop()
	waitDone(t, w)
	assert.NoError(t, w.Err())
	assert.True(t, src.Released())
	assert.False(t, w.Running())
}

func TestUplinkChunkSizeCapsDatagrams(t *testing.T) {
	local := listenLoopback(t)
	peer := listenLoopback(t)
	src := openCapture(t)
	w := StartUplink(local, peer.LocalAddr(), src, Options{ChunkSize: 4})
	defer w.Stop()

	src.Feed([]byte{1, 2, 3, 4, 5, 6})
	assert.Equal(t, []byte{1, 2, 3, 4}, readDatagram(t, peer))
	assert.Equal(t, []byte{5, 6}, readDatagram(t, peer))
}

func TestUplinkMutedDropsChunks(t *testing.T) {
	local := listenLoopback(t)
	peer := listenLoopback(t)
	src := openCapture(t)
	sw := mediactrl.New()
	sw.SetCaptureEnabled(false)
	w := StartUplink(local, peer.LocalAddr(), src, Options{Switches: sw})
	defer w.Stop()

	src.Feed([]byte{1, 1})
	time.Sleep(50 * time.Millisecond)
	sw.SetCaptureEnabled(true)
	src.Feed([]byte{2, 2})

	assert.Equal(t, []byte{2, 2}, readDatagram(t, peer))
}

func TestUplinkSendErrorWhileRunningIsReported(t *testing.T) {
	local := listenLoopback(t)
	peer := listenLoopback(t)
	src := openCapture(t)
	w := StartUplink(local, peer.LocalAddr(), src, Options{})

	require.NoError(t, local.Close())
	src.Feed([]byte{1, 2})
	waitDone(t, w)

	assert.ErrorIs(t, w.Err(), net.ErrClosed)
	w.Stop()
}

func TestDownlinkForwardsExactPayload(t *testing.T) {
	local := listenLoopback(t)
	sink := openPlayback(t)
	w := StartDownlink(local, sink, Options{})

	sender := listenLoopback(t)
	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err := sender.WriteTo(payload, local.LocalAddr())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.Writes()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, payload, sink.Writes()[0])

	w.Stop()
	require.NoError(t, local.Close())
	waitDone(t, w)
	assert.True(t, sink.Drained())
	assert.True(t, sink.Released())
}

func TestDownlinkAcceptsAnySource(t *testing.T) {
	local := listenLoopback(t)
	sink := openPlayback(t)
	w := StartDownlink(local, sink, Options{})
	defer w.Stop()

	a := listenLoopback(t)
	b := listenLoopback(t)
	_, err := a.WriteTo([]byte{0xA}, local.LocalAddr())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sink.Writes()) == 1 }, 2*time.Second, 5*time.Millisecond)
	_, err = b.WriteTo([]byte{0xB}, local.LocalAddr())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.Writes()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]byte{{0xA}, {0xB}}, sink.Writes())
}

func TestDownlinkCloseAfterStopIsNotAnError(t *testing.T) {
	local := listenLoopback(t)
	sink := openPlayback(t)
	w := StartDownlink(local, sink, Options{})

	// Let the loop block in ReadFrom.
	time.Sleep(50 * time.Millisecond)
	w.Stop()
	require.NoError(t, local.Close())

	waitDone(t, w)
	assert.NoError(t, w.Err())
}

func TestDownlinkCloseWhileRunningIsReported(t *testing.T) {
	local := listenLoopback(t)
	sink := openPlayback(t)
	w := StartDownlink(local, sink, Options{})

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, local.Close())

	waitDone(t, w)
	assert.ErrorIs(t, w.Err(), net.ErrClosed)
	w.Stop()
}

func TestDownlinkMutedReceivesButDoesNotPlay(t *testing.T) {
	local := listenLoopback(t)
	sink := openPlayback(t)
	sw := mediactrl.New()
	sw.SetPlaybackEnabled(false)
	w := StartDownlink(local, sink, Options{Switches: sw})
	defer w.Stop()

	sender := listenLoopback(t)
	_, err := sender.WriteTo([]byte{1, 2}, local.LocalAddr())
	require.NoError(t, err)

	require.Eventually(t, func() bool { p, _ := w.Stats(); return p == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, sink.Writes())
}

// Datagrams are sent in shuffled sequence order; the sink must see them exactly
// as they arrived, with no attempt to restore sequence order.
func TestDownlinkDoesNotResequence(t *testing.T) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for round := 0; round < 5; round++ {
		local := listenLoopback(t)
		sink := openPlayback(t)
		w := StartDownlink(local, sink, Options{})

		sender := listenLoopback(t)
		order := rng.Perm(32)
		for _, seq := range order {
			b := make([]byte, 2+rng.Intn(64))
			binary.BigEndian.PutUint16(b, uint16(seq))
			_, err := sender.WriteTo(b, local.LocalAddr())
			require.NoError(t, err)
			// pace the sender so loopback never drops
			time.Sleep(time.Millisecond)
		}

		require.Eventually(t, func() bool { return len(sink.Writes()) == len(order) }, 2*time.Second, 5*time.Millisecond)
		got := make([]int, 0, len(order))
		for _, b := range sink.Writes() {
			got = append(got, int(binary.BigEndian.Uint16(b)))
		}
		assert.Equal(t, order, got)

		w.Stop()
		require.NoError(t, local.Close())
		waitDone(t, w)
	}
}
