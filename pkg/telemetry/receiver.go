// Package telemetry receives the modem engine's spectral data feed: UDP
// frames of FFT magnitudes for the waterfall display, plus a textual
// busy-detector side channel.
package telemetry

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ssdigi/ssdigid/pkg/logging"
)

const (
	frameTypeSpectrum = 'W'
	headerLen         = 3 // type byte + big-endian sample count

	// FreshWindow is how recently a frame must have arrived for the
	// spectrum snapshot to count as live.
	FreshWindow = 2 * time.Second

	rebindInterval = 5 * time.Second
	readTimeout    = 100 * time.Millisecond
	maxDatagram    = 16384

	// WaterfallRows is the depth of the history ring.
	WaterfallRows = 256

	waterfallMinDB = -130
	waterfallMaxDB = -30
)

// Receiver listens for spectrum frames on UDP. Frame layout:
//
//	[0]    'W'
//	[1:3]  sample count, big-endian
//	[3:]   count little-endian float32 magnitudes
//
// Anything else is dropped silently and counted.
type Receiver struct {
	mu         sync.RWMutex
	addr       string
	spectrum   []float64
	lastUpdate time.Time
	busy       bool
	packets    uint64
	malformed  uint64

	waterfall [][]byte
	wfIndex   int

	onSpectrum func([]float64)
	onBusy     func(bool)

	running bool
	stop    chan struct{}
	wg      sync.WaitGroup

	now    func() time.Time
	logger *logging.Logger
}

// NewReceiver creates a receiver bound to host:port once Start runs.
func NewReceiver(host string, port int, logger *logging.Logger) *Receiver {
	return &Receiver{
		addr:      fmt.Sprintf("%s:%d", host, port),
		waterfall: make([][]byte, WaterfallRows),
		now:       time.Now,
		logger:    logger,
	}
}

// OnSpectrum registers a callback invoked with a copy of each decoded
// frame. Set before Start.
func (r *Receiver) OnSpectrum(fn func([]float64)) {
	r.onSpectrum = fn
}

// OnBusy registers a callback invoked when the busy status changes.
// Set before Start.
func (r *Receiver) OnBusy(fn func(bool)) {
	r.onBusy = fn
}

// Start launches the receive loop. If the bind fails it keeps retrying
// every few seconds until Stop.
func (r *Receiver) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Warn("telemetry", "receiver already running")
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go r.receiveLoop()
	r.logger.Info("telemetry", "spectrum receiver started", map[string]interface{}{
		"addr": r.addr,
	})
}

// Stop shuts the receive loop down and waits for it.
func (r *Receiver) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("telemetry", "spectrum receiver stopped")
}

func (r *Receiver) receiveLoop() {
	defer r.wg.Done()
	buf := make([]byte, maxDatagram)

	for {
		conn, err := net.ListenPacket("udp", r.addr)
		if err != nil {
			r.logger.Warn("telemetry", "bind failed, will retry", map[string]interface{}{
				"addr":  r.addr,
				"error": err.Error(),
			})
			select {
			case <-r.stop:
				return
			case <-time.After(rebindInterval):
				continue
			}
		}

		if !r.readFrom(conn, buf) {
			conn.Close()
			return
		}
		conn.Close()

		// Socket error mid-stream: back off before rebinding.
		select {
		case <-r.stop:
			return
		case <-time.After(rebindInterval):
		}
	}
}

// readFrom pumps datagrams until the socket errors (returns true, caller
// rebinds) or stop is requested (returns false).
func (r *Receiver) readFrom(conn net.PacketConn, buf []byte) bool {
	for {
		select {
		case <-r.stop:
			return false
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			r.logger.Warn("telemetry", "read failed", map[string]interface{}{
				"error": err.Error(),
			})
			return true
		}
		if n > 0 {
			r.processDatagram(buf[:n])
		}
	}
}

// processDatagram decodes one packet. Spectrum frames update the
// snapshot and waterfall; text packets feed the busy side channel;
// everything else is counted and dropped.
func (r *Receiver) processDatagram(data []byte) {
	if len(data) >= 1 && data[0] == frameTypeSpectrum {
		r.processSpectrumFrame(data)
		return
	}
	if text := string(data); strings.Contains(text, "BUSY") {
		r.processBusyText(text)
		return
	}
	r.countMalformed()
}

func (r *Receiver) processSpectrumFrame(data []byte) {
	if len(data) < headerLen {
		r.countMalformed()
		return
	}
	count := int(binary.BigEndian.Uint16(data[1:3]))
	if len(data) != headerLen+count*4 || count == 0 {
		r.countMalformed()
		return
	}

	spectrum := make([]float64, count)
	for i := 0; i < count; i++ {
		bits := binary.LittleEndian.Uint32(data[headerLen+i*4:])
		spectrum[i] = float64(math.Float32frombits(bits))
	}

	r.mu.Lock()
	r.spectrum = spectrum
	r.lastUpdate = r.now()
	r.packets++
	r.waterfall[r.wfIndex] = spectrumToRow(spectrum)
	r.wfIndex = (r.wfIndex + 1) % WaterfallRows
	onSpectrum := r.onSpectrum
	r.mu.Unlock()

	if onSpectrum != nil {
		out := make([]float64, len(spectrum))
		copy(out, spectrum)
		onSpectrum(out)
	}
}

// processBusyText handles the engine's textual busy announcements.
func (r *Receiver) processBusyText(text string) {
	var busy bool
	switch {
	case strings.Contains(text, "BUSY TRUE"):
		busy = true
	case strings.Contains(text, "BUSY FALSE"):
		busy = false
	default:
		return
	}

	r.mu.Lock()
	changed := busy != r.busy
	r.busy = busy
	onBusy := r.onBusy
	r.mu.Unlock()

	if changed {
		r.logger.Info("telemetry", "channel busy status changed", map[string]interface{}{
			"busy": busy,
		})
		if onBusy != nil {
			onBusy(busy)
		}
	}
}

func (r *Receiver) countMalformed() {
	r.mu.Lock()
	r.malformed++
	r.mu.Unlock()
}

// spectrumToRow maps magnitudes to display bytes: dB scale clipped to
// the usable HF range, normalized to 0..255.
func spectrumToRow(spectrum []float64) []byte {
	row := make([]byte, len(spectrum))
	for i, v := range spectrum {
		db := 10 * math.Log10(v+1e-10)
		if db < waterfallMinDB {
			db = waterfallMinDB
		}
		if db > waterfallMaxDB {
			db = waterfallMaxDB
		}
		row[i] = byte((db - waterfallMinDB) / (waterfallMaxDB - waterfallMinDB) * 255)
	}
	return row
}

// Spectrum returns a copy of the latest frame, or nil before the first
// frame arrives.
func (r *Receiver) Spectrum() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.spectrum == nil {
		return nil
	}
	out := make([]float64, len(r.spectrum))
	copy(out, r.spectrum)
	return out
}

// Fresh reports whether a frame arrived within the freshness window.
func (r *Receiver) Fresh() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastUpdate.IsZero() {
		return false
	}
	return r.now().Sub(r.lastUpdate) < FreshWindow
}

// Busy returns the last reported busy-detector status.
func (r *Receiver) Busy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.busy
}

// Stats returns received and malformed packet counts.
func (r *Receiver) Stats() (received, malformed uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.packets, r.malformed
}

// Waterfall returns the history ring ordered most recent first. Rows
// never written yet are nil.
func (r *Receiver) Waterfall() [][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([][]byte, WaterfallRows)
	for i := 0; i < WaterfallRows; i++ {
		idx := (r.wfIndex - i - 1 + WaterfallRows) % WaterfallRows
		if r.waterfall[idx] != nil {
			row := make([]byte, len(r.waterfall[idx]))
			copy(row, r.waterfall[idx])
			out[i] = row
		}
	}
	return out
}
