// Package modem defines the engine abstraction shared by all modem
// implementations and the factory that builds them by mode name.
package modem

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ssdigi/ssdigid/pkg/config"
	"github.com/ssdigi/ssdigid/pkg/logging"
)

// Mode names a modem implementation, e.g. "ardop".
type Mode string

const ModeARDOP Mode = "ardop"

// Status is a point-in-time snapshot of an engine. Engines return it by
// value; callers never see live internal state.
type Status struct {
	State         string    // engine-reported state (OFFLINE, DISC, ISS, IRS, ...)
	Buffer        int       // outbound bytes queued inside the engine
	PeerCallsign  string    // remote station of the current ARQ link, if any
	PeerBandwidth int       // negotiated session bandwidth in Hz
	ChannelBusy   bool      // engine busy-detector verdict
	InputPeak     float64   // last input peak level in dB
	LastPingAck   time.Time // zero until a PINGACK arrives
	LastPingSNR   int
	LastCommand   string    // most recent command written to the control channel
	LastCommandAt time.Time // when it was written
}

// Linked reports whether the engine holds an ARQ link to a peer.
func (s Status) Linked() bool {
	return s.PeerCallsign != ""
}

// Engine is one modem implementation driving an external engine process
// (or an externally managed one).
type Engine interface {
	// Start brings the engine up: spawn (unless external), connect the
	// control and data channels, run the initialization sequence.
	Start() error
	// Stop tears everything down in order: data channel, CLOSE on the
	// control channel, then the process. Safe to call when stopped.
	Stop() error
	// Running reports whether the engine process (or external endpoint)
	// is currently usable.
	Running() bool
	Status() Status
	// SendData queues payload bytes on the data channel. Failures are
	// logged and reported as false, never fatal.
	SendData(payload []byte) bool
	// Ping sends the engine a self-directed ping for audio-path checks.
	Ping() error
	SetBandwidth(hz int) error
	// Apply pushes changed live parameters (callsign, grid, bandwidth,
	// drive level) to a running engine without restarting it.
	Apply(station config.StationConfig, mcfg config.ModemConfig) error
}

// Constructor builds an engine from configuration.
type Constructor func(cfg *config.Config, logger *logging.Logger) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = map[Mode]Constructor{}
)

// Register makes a constructor available under a mode name. Engine
// packages call this from init, like database/sql drivers.
func Register(mode Mode, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[mode] = ctor
}

// New builds the engine for cfg.Modem.Mode.
func New(cfg *config.Config, logger *logging.Logger) (Engine, error) {
	mode := Mode(strings.ToLower(cfg.Modem.Mode))
	registryMu.RLock()
	ctor, ok := registry[mode]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownMode, cfg.Modem.Mode, availableModes())
	}
	return ctor(cfg, logger)
}

func availableModes() string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for m := range registry {
		names = append(names, string(m))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
