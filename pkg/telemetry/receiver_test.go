package telemetry

import (
	"encoding/binary"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssdigi/ssdigid/pkg/logging"
)

func newTestReceiver() *Receiver {
	return NewReceiver("127.0.0.1", 0, logging.NewConsoleLogger("error"))
}

func spectrumFrame(values []float32) []byte {
	frame := make([]byte, headerLen+len(values)*4)
	frame[0] = frameTypeSpectrum
	binary.BigEndian.PutUint16(frame[1:3], uint16(len(values)))
	for i, v := range values {
		binary.LittleEndian.PutUint32(frame[headerLen+i*4:], math.Float32bits(v))
	}
	return frame
}

func TestProcessSpectrumFrame(t *testing.T) {
	t.Run("valid frame round-trips", func(t *testing.T) {
		r := newTestReceiver()
		values := []float32{1.5, -2.25, 0.001, 42}
		r.processDatagram(spectrumFrame(values))

		got := r.Spectrum()
		require.Len(t, got, len(values))
		for i, v := range values {
			assert.InDelta(t, float64(v), got[i], 1e-6, "sample %d", i)
		}

		received, malformed := r.Stats()
		assert.Equal(t, uint64(1), received)
		assert.Equal(t, uint64(0), malformed)
	})

	t.Run("truncated frame dropped silently", func(t *testing.T) {
		r := newTestReceiver()
		frame := spectrumFrame([]float32{1, 2, 3})
		r.processDatagram(frame[:len(frame)-2])

		assert.Nil(t, r.Spectrum())
		received, malformed := r.Stats()
		assert.Equal(t, uint64(0), received)
		assert.Equal(t, uint64(1), malformed)
	})

	t.Run("oversized frame dropped", func(t *testing.T) {
		r := newTestReceiver()
		frame := append(spectrumFrame([]float32{1, 2}), 0xFF)
		r.processDatagram(frame)

		_, malformed := r.Stats()
		assert.Equal(t, uint64(1), malformed)
	})

	t.Run("zero-count frame dropped", func(t *testing.T) {
		r := newTestReceiver()
		r.processDatagram([]byte{frameTypeSpectrum, 0, 0})
		_, malformed := r.Stats()
		assert.Equal(t, uint64(1), malformed)
	})

	t.Run("later frame replaces snapshot", func(t *testing.T) {
		r := newTestReceiver()
		r.processDatagram(spectrumFrame([]float32{1, 2, 3}))
		r.processDatagram(spectrumFrame([]float32{9, 8}))

		got := r.Spectrum()
		require.Len(t, got, 2)
		assert.InDelta(t, 9.0, got[0], 1e-6)
	})

	t.Run("callback receives a copy", func(t *testing.T) {
		r := newTestReceiver()
		var mu sync.Mutex
		var calls [][]float64
		r.OnSpectrum(func(s []float64) {
			mu.Lock()
			calls = append(calls, s)
			mu.Unlock()
		})
		r.processDatagram(spectrumFrame([]float32{5}))

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, calls, 1)
		assert.InDelta(t, 5.0, calls[0][0], 1e-6)
	})
}

func TestFreshness(t *testing.T) {
	r := newTestReceiver()
	current := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return current }

	assert.False(t, r.Fresh(), "no frame yet")

	r.processDatagram(spectrumFrame([]float32{1, 2}))
	assert.True(t, r.Fresh(), "frame just arrived")

	current = current.Add(1900 * time.Millisecond)
	assert.True(t, r.Fresh(), "inside window")

	current = current.Add(200 * time.Millisecond)
	assert.False(t, r.Fresh(), "past window")
}

func TestBusySideChannel(t *testing.T) {
	r := newTestReceiver()
	var mu sync.Mutex
	var changes []bool
	r.OnBusy(func(b bool) {
		mu.Lock()
		changes = append(changes, b)
		mu.Unlock()
	})

	assert.False(t, r.Busy())

	r.processDatagram([]byte("BUSY TRUE\r"))
	assert.True(t, r.Busy())

	// Repeat does not fire the callback again.
	r.processDatagram([]byte("BUSY TRUE\r"))

	r.processDatagram([]byte("BUSY FALSE\r"))
	assert.False(t, r.Busy())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, changes)
}

func TestWaterfall(t *testing.T) {
	t.Run("most recent row first", func(t *testing.T) {
		r := newTestReceiver()
		r.processDatagram(spectrumFrame([]float32{1e-13, 1e-13})) // noise floor
		r.processDatagram(spectrumFrame([]float32{1, 1}))         // strong

		rows := r.Waterfall()
		require.NotNil(t, rows[0])
		require.NotNil(t, rows[1])
		assert.Equal(t, byte(255), rows[0][0], "strong signal clips to max")
		assert.Equal(t, byte(0), rows[1][0], "noise floor clips to min")
		assert.Nil(t, rows[2], "unwritten rows are nil")
	})

	t.Run("mid-range value maps between extremes", func(t *testing.T) {
		// 10*log10(1e-8) = -80 dB, the middle of the -130..-30 range.
		r := newTestReceiver()
		r.processDatagram(spectrumFrame([]float32{1e-8}))
		rows := r.Waterfall()
		require.NotNil(t, rows[0])
		assert.InDelta(t, 127, int(rows[0][0]), 2)
	})
}

func TestReceiverOverUDP(t *testing.T) {
	// End to end: real socket, real datagrams.
	r := NewReceiver("127.0.0.1", 39517, logging.NewConsoleLogger("error"))
	r.Start()
	defer r.Stop()

	conn, err := net.Dial("udp", "127.0.0.1:39517")
	require.NoError(t, err)
	defer conn.Close()

	frame := spectrumFrame([]float32{3, 4, 5})
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn.Write(frame)
		if r.Fresh() {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	require.True(t, r.Fresh(), "expected a frame to land")
	got := r.Spectrum()
	require.Len(t, got, 3)
	assert.InDelta(t, 3.0, got[0], 1e-6)
}
