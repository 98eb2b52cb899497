package device

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwap16(t *testing.T) {
	b := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	swap16(b)
	assert.Equal(t, []byte{0x02, 0x01, 0x04, 0x03, 0x05}, b)

	le := []byte{0x34, 0x12}
	fromNative(DefaultFormat, le)
	assert.Equal(t, []byte{0x12, 0x34}, le)
	toNative(Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}, le)
	assert.Equal(t, []byte{0x12, 0x34}, le, "little-endian formats are left alone")
}

func TestFormat(t *testing.T) {
	require.NoError(t, DefaultFormat.Validate())
	assert.Equal(t, 2, DefaultFormat.FrameSize())
	assert.Equal(t, 64*time.Millisecond, DefaultFormat.Duration(1024))

	bad := DefaultFormat
	bad.BitsPerSample = 8
	assert.ErrorIs(t, bad.Validate(), ErrUnsupportedFormat)
	bad = DefaultFormat
	bad.Channels = 0
	assert.ErrorIs(t, bad.Validate(), ErrUnsupportedFormat)
}

func TestMemoryCaptureReadAndStop(t *testing.T) {
	c := NewMemoryCapture()
	require.ErrorIs(t, c.Start(), ErrNotOpen)
	require.NoError(t, c.Open(DefaultFormat))
	require.NoError(t, c.Start())

	require.True(t, c.Feed([]byte{1, 2, 3, 4, 5}))
	require.True(t, c.Feed(nil))

	buf := make([]byte, 3)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf[:n])
	n, err = c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, buf[:n])
	n, err = c.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Read(buf)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDeviceClosed)
	case <-time.After(time.Second):
		t.Fatal("Read not unblocked by Close")
	}
	assert.True(t, c.Released())
	assert.False(t, c.Feed([]byte{1}))
}

func TestMemoryPlayback(t *testing.T) {
	p := &MemoryPlayback{}
	require.NoError(t, p.Open(DefaultFormat))
	require.NoError(t, p.Start())

	buf := []byte{9, 8}
	_, err := p.Write(buf)
	require.NoError(t, err)
	buf[0] = 0
	assert.Equal(t, [][]byte{{9, 8}}, p.Writes(), "writes are copied")

	p.Drain(time.Second)
	require.NoError(t, p.Close())
	_, err = p.Write(buf)
	assert.ErrorIs(t, err, ErrDeviceClosed)
	assert.True(t, p.Drained())
	assert.True(t, p.Released())
	assert.Equal(t, 2, p.Total())
}

func TestMemoryProviderPropagatesOpenErrors(t *testing.T) {
	boom := errors.New("no microphone")
	m := &Memory{CaptureErr: boom, Discard: true}

	assert.ErrorIs(t, m.NewCapture().Open(DefaultFormat), boom)
	pb := m.NewPlayback()
	require.NoError(t, pb.Open(DefaultFormat))
	_, err := pb.Write([]byte{1, 2})
	require.NoError(t, err)
	assert.Empty(t, m.LastPlayback().Writes())
	assert.Equal(t, 2, m.LastPlayback().Total())
	assert.NotNil(t, m.LastCapture())
}
