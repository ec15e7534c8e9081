// Package session orchestrates the modem engine lifecycle: a small
// state machine over connect/disconnect, health monitoring, mode
// switching and live configuration updates.
package session

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ssdigi/ssdigid/pkg/config"
	"github.com/ssdigi/ssdigid/pkg/logging"
	"github.com/ssdigi/ssdigid/pkg/modem"
	"github.com/ssdigi/ssdigid/pkg/storage"
)

// State is the session's lifecycle state.
type State string

const (
	StateDisconnected State = "Disconnected"
	StateStarting     State = "Starting"
	StateConnected    State = "Connected"
)

const healthInterval = time.Second

// EventRecorder persists session events. *storage.EventStore satisfies
// it; tests substitute a recorder of their own.
type EventRecorder interface {
	Record(eventType, detail, peer string) error
}

// Status combines the session state with the engine's snapshot.
type Status struct {
	State  State        `json:"state"`
	Mode   string       `json:"mode"`
	Engine modem.Status `json:"engine"`
}

// Session owns at most one engine at a time and drives it through the
// lifecycle state machine.
type Session struct {
	mu     sync.RWMutex
	cfg    *config.Config
	state  State
	engine modem.Engine

	// newEngine is the factory used on each connect and mode switch.
	// Tests inject a stub here.
	newEngine func(cfg *config.Config, logger *logging.Logger) (modem.Engine, error)

	events   EventRecorder
	logger   *logging.Logger
	stop     chan struct{}
	wg       sync.WaitGroup
	closed   bool
	lastPeer string
}

// New creates a session. events may be nil when persistence is
// disabled.
func New(cfg *config.Config, events EventRecorder, logger *logging.Logger) *Session {
	return &Session{
		cfg:       cfg,
		state:     StateDisconnected,
		newEngine: modem.New,
		events:    events,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Run starts the health monitor. Call Close to stop it.
func (s *Session) Run() {
	s.wg.Add(1)
	go s.healthLoop()
}

// Close disconnects and stops the health monitor. Safe to call more
// than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	s.Disconnect()
}

func (s *Session) record(eventType, detail, peer string) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(eventType, detail, peer); err != nil {
		s.logger.Warn("session", "failed to record event", map[string]interface{}{
			"type":  eventType,
			"error": err.Error(),
		})
	}
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.announce(prev, next)
}

func (s *Session) announce(prev, next State) {
	if prev == next {
		return
	}
	s.logger.Info("session", "state changed", map[string]interface{}{
		"from": string(prev),
		"to":   string(next),
	})
	s.record(storage.EventStateChange, fmt.Sprintf("%s -> %s", prev, next), "")
}

// Connect brings the modem up. Connecting while already connected is a
// warning, not an error, and never creates a second engine. An empty
// callsign fails before any engine work happens.
func (s *Session) Connect() error {
	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		s.logger.Warn("session", "connect requested while already connected")
		return nil
	case StateStarting:
		s.mu.Unlock()
		return fmt.Errorf("connect already in progress")
	}
	if s.cfg.Station.Callsign == "" {
		s.mu.Unlock()
		return modem.ErrMissingIdentity
	}
	cfg := s.cfg
	factory := s.newEngine
	// Claim the starting state before releasing the lock so an
	// overlapping Connect cannot also pass the guard above.
	prev := s.state
	s.state = StateStarting
	s.mu.Unlock()
	s.announce(prev, StateStarting)

	engine, err := factory(cfg, s.logger)
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}
	if err := engine.Start(); err != nil {
		s.setState(StateDisconnected)
		return err
	}

	s.mu.Lock()
	s.engine = engine
	s.mu.Unlock()
	s.setState(StateConnected)
	return nil
}

// Disconnect tears the modem down. Disconnecting while disconnected is
// a no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	engine := s.engine
	s.engine = nil
	s.lastPeer = ""
	s.mu.Unlock()

	var err error
	if engine != nil {
		err = engine.Stop()
	}
	s.setState(StateDisconnected)
	return err
}

// SwitchMode changes the modem implementation: full teardown, then a
// fresh engine from the factory. Reconnects only if the session was
// connected.
func (s *Session) SwitchMode(mode string) error {
	s.mu.RLock()
	wasConnected := s.state == StateConnected
	current := s.cfg.Modem.Mode
	s.mu.RUnlock()

	if current == mode {
		return nil
	}

	if err := s.Disconnect(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg.Modem.Mode = mode
	s.mu.Unlock()
	s.record(storage.EventConfigChange, fmt.Sprintf("mode switched to %s", mode), "")

	if wasConnected {
		return s.Connect()
	}
	return nil
}

// ApplyConfig swaps the configuration and pushes live directives to a
// running engine without tearing it down.
func (s *Session) ApplyConfig(cfg *config.Config) error {
	s.mu.Lock()
	s.cfg = cfg
	engine := s.engine
	s.mu.Unlock()

	s.record(storage.EventConfigChange, "configuration applied", "")
	if engine == nil {
		return nil
	}
	return engine.Apply(cfg.Station, cfg.Modem)
}

// IsConnected reports whether the session is up.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateConnected
}

// SetCenterFrequency moves the audio passband center. The engine picks
// it up on the next start; no live directive exists for it.
func (s *Session) SetCenterFrequency(hz int) error {
	if hz < 1000 || hz > 2500 {
		return fmt.Errorf("center frequency %d Hz outside audio passband", hz)
	}
	s.mu.Lock()
	s.cfg.Modem.CenterFrequency = hz
	s.mu.Unlock()
	s.record(storage.EventConfigChange, fmt.Sprintf("center frequency set to %d Hz", hz), "")
	return nil
}

// Status returns the combined session and engine snapshot.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State: s.state,
		Mode:  s.cfg.Modem.Mode,
	}
	if s.engine != nil {
		st.Engine = s.engine.Status()
	}
	return st
}

// SendPayload queues payload bytes for transmission.
func (s *Session) SendPayload(payload []byte) bool {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()
	if engine == nil {
		return false
	}
	return engine.SendData(payload)
}

// Ping runs the engine's audio-path diagnostic.
func (s *Session) Ping() error {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()
	if engine == nil {
		return modem.ErrNotRunning
	}
	if err := engine.Ping(); err != nil {
		return err
	}
	s.record(storage.EventPingSent, "self ping", "")
	return nil
}

// SetBandwidth changes the modem bandwidth live and in configuration.
func (s *Session) SetBandwidth(hz int) error {
	if !config.IsValidBandwidth(hz) {
		return fmt.Errorf("invalid bandwidth %d Hz", hz)
	}
	s.mu.Lock()
	s.cfg.Modem.Bandwidth = hz
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return nil
	}
	return engine.SetBandwidth(hz)
}

// healthLoop watches for engine death and peer link changes.
func (s *Session) healthLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.checkHealth()
		}
	}
}

func (s *Session) checkHealth() {
	s.mu.RLock()
	state := s.state
	engine := s.engine
	s.mu.RUnlock()

	if state != StateConnected || engine == nil {
		return
	}

	if !engine.Running() {
		s.logger.Error("session", "engine died unexpectedly")
		s.record(storage.EventEngineDied, "engine process or channel lost", "")
		s.mu.Lock()
		s.engine = nil
		s.lastPeer = ""
		s.mu.Unlock()
		engine.Stop()
		s.setState(StateDisconnected)
		return
	}

	peer := engine.Status().PeerCallsign
	s.mu.Lock()
	last := s.lastPeer
	s.lastPeer = peer
	s.mu.Unlock()
	if peer != last {
		if peer != "" {
			bw := strconv.Itoa(engine.Status().PeerBandwidth)
			s.record(storage.EventPeerLinked, "ARQ link established, bandwidth "+bw+" Hz", peer)
		} else {
			s.record(storage.EventPeerUnlinked, "ARQ link closed", last)
		}
	}
}
