package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssdigi/ssdigid/pkg/config"
	"github.com/ssdigi/ssdigid/pkg/logging"
	"github.com/ssdigi/ssdigid/pkg/modem"
)

// stubEngine records lifecycle calls.
type stubEngine struct {
	mu         sync.Mutex
	started    int
	stopped    int
	running    bool
	applied    int
	startErr   error
	status     modem.Status
	sentData   [][]byte
	bandwidths []int
}

func (e *stubEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started++
	if e.startErr != nil {
		return e.startErr
	}
	e.running = true
	return nil
}

func (e *stubEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped++
	e.running = false
	return nil
}

func (e *stubEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *stubEngine) Status() modem.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *stubEngine) SendData(p []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sentData = append(e.sentData, p)
	return true
}

func (e *stubEngine) Ping() error { return nil }

func (e *stubEngine) SetBandwidth(hz int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bandwidths = append(e.bandwidths, hz)
	return nil
}

func (e *stubEngine) Apply(config.StationConfig, config.ModemConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied++
	return nil
}

// recorder collects events in memory.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Record(eventType, detail, peer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return nil
}

func (r *recorder) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Station.Callsign = "KX1ABC"
	cfg.Modem.Mode = "ardop"
	cfg.Modem.Bandwidth = 500
	return cfg
}

func newTestSession(cfg *config.Config) (*Session, *stubEngine, *recorder) {
	rec := &recorder{}
	s := New(cfg, rec, logging.NewConsoleLogger("error"))
	engine := &stubEngine{}
	s.newEngine = func(*config.Config, *logging.Logger) (modem.Engine, error) {
		return engine, nil
	}
	return s, engine, rec
}

func TestConnect(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		s, engine, rec := newTestSession(testConfig())
		require.NoError(t, s.Connect())
		assert.Equal(t, StateConnected, s.Status().State)
		assert.Equal(t, 1, engine.started)
		assert.True(t, rec.has("STATE_CHANGE"))
	})

	t.Run("idempotent while connected", func(t *testing.T) {
		s, engine, _ := newTestSession(testConfig())
		require.NoError(t, s.Connect())
		require.NoError(t, s.Connect(), "second connect succeeds with a warning")
		assert.Equal(t, 1, engine.started, "exactly one engine")
	})

	t.Run("missing callsign fails before engine work", func(t *testing.T) {
		cfg := testConfig()
		cfg.Station.Callsign = ""
		s, engine, _ := newTestSession(cfg)
		err := s.Connect()
		require.ErrorIs(t, err, modem.ErrMissingIdentity)
		assert.Equal(t, 0, engine.started, "no engine I/O without identity")
		assert.Equal(t, StateDisconnected, s.Status().State)
	})

	t.Run("engine start failure returns to disconnected", func(t *testing.T) {
		s, engine, _ := newTestSession(testConfig())
		engine.startErr = errors.New("boom")
		require.Error(t, s.Connect())
		assert.Equal(t, StateDisconnected, s.Status().State)
	})

	t.Run("overlapping connect rejected while starting", func(t *testing.T) {
		s, engine, _ := newTestSession(testConfig())
		release := make(chan struct{})
		s.newEngine = func(*config.Config, *logging.Logger) (modem.Engine, error) {
			<-release
			return engine, nil
		}

		done := make(chan error, 1)
		go func() { done <- s.Connect() }()

		deadline := time.Now().Add(2 * time.Second)
		for s.Status().State != StateStarting && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		require.Equal(t, StateStarting, s.Status().State)

		require.Error(t, s.Connect(), "second connect during startup must fail")

		close(release)
		require.NoError(t, <-done)
		assert.Equal(t, StateConnected, s.Status().State)
		assert.Equal(t, 1, engine.started, "exactly one engine")
	})
}

func TestClose(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		s, _, _ := newTestSession(testConfig())
		s.Run()
		require.NoError(t, s.Connect())
		s.Close()
		s.Close()
		assert.Equal(t, StateDisconnected, s.Status().State)
	})

	t.Run("safe without run", func(t *testing.T) {
		s, _, _ := newTestSession(testConfig())
		s.Close()
		s.Close()
	})
}

func TestDisconnect(t *testing.T) {
	t.Run("stops the engine", func(t *testing.T) {
		s, engine, _ := newTestSession(testConfig())
		require.NoError(t, s.Connect())
		require.NoError(t, s.Disconnect())
		assert.Equal(t, StateDisconnected, s.Status().State)
		assert.Equal(t, 1, engine.stopped)
	})

	t.Run("no-op when disconnected", func(t *testing.T) {
		s, engine, _ := newTestSession(testConfig())
		require.NoError(t, s.Disconnect())
		assert.Equal(t, 0, engine.stopped)
	})
}

func TestSwitchMode(t *testing.T) {
	t.Run("rebuilds engine when connected", func(t *testing.T) {
		cfg := testConfig()
		s, engine, _ := newTestSession(cfg)
		require.NoError(t, s.Connect())
		require.NoError(t, s.SwitchMode("othermode"))
		assert.Equal(t, "othermode", cfg.Modem.Mode)
		assert.Equal(t, 1, engine.stopped, "old engine torn down")
		assert.Equal(t, 2, engine.started, "fresh engine brought up")
		assert.Equal(t, StateConnected, s.Status().State)
	})

	t.Run("stays down when disconnected", func(t *testing.T) {
		cfg := testConfig()
		s, engine, _ := newTestSession(cfg)
		require.NoError(t, s.SwitchMode("othermode"))
		assert.Equal(t, 0, engine.started)
		assert.Equal(t, StateDisconnected, s.Status().State)
	})

	t.Run("same mode is a no-op", func(t *testing.T) {
		s, engine, _ := newTestSession(testConfig())
		require.NoError(t, s.Connect())
		require.NoError(t, s.SwitchMode("ardop"))
		assert.Equal(t, 0, engine.stopped)
	})
}

func TestApplyConfig(t *testing.T) {
	t.Run("pushes live directives without teardown", func(t *testing.T) {
		s, engine, _ := newTestSession(testConfig())
		require.NoError(t, s.Connect())

		next := testConfig()
		next.Modem.DriveLevel = 50
		require.NoError(t, s.ApplyConfig(next))
		assert.Equal(t, 1, engine.applied)
		assert.Equal(t, 0, engine.stopped, "no teardown on config apply")
		assert.Equal(t, StateConnected, s.Status().State)
	})

	t.Run("only swaps config when disconnected", func(t *testing.T) {
		s, engine, _ := newTestSession(testConfig())
		require.NoError(t, s.ApplyConfig(testConfig()))
		assert.Equal(t, 0, engine.applied)
	})
}

func TestHealthCheck(t *testing.T) {
	t.Run("engine death transitions to disconnected", func(t *testing.T) {
		s, engine, rec := newTestSession(testConfig())
		require.NoError(t, s.Connect())

		engine.mu.Lock()
		engine.running = false
		engine.mu.Unlock()

		s.checkHealth()
		assert.Equal(t, StateDisconnected, s.Status().State)
		assert.True(t, rec.has("ENGINE_DIED"))
	})

	t.Run("peer link changes are recorded", func(t *testing.T) {
		s, engine, rec := newTestSession(testConfig())
		require.NoError(t, s.Connect())

		engine.mu.Lock()
		engine.status.PeerCallsign = "W1AW"
		engine.status.PeerBandwidth = 500
		engine.mu.Unlock()
		s.checkHealth()
		assert.True(t, rec.has("PEER_LINKED"))

		engine.mu.Lock()
		engine.status.PeerCallsign = ""
		engine.mu.Unlock()
		s.checkHealth()
		assert.True(t, rec.has("PEER_UNLINKED"))
	})

	t.Run("dead link is not unlinked after engine death", func(t *testing.T) {
		s, engine, rec := newTestSession(testConfig())
		require.NoError(t, s.Connect())

		engine.mu.Lock()
		engine.status.PeerCallsign = "W1AW"
		engine.mu.Unlock()
		s.checkHealth()
		require.True(t, rec.has("PEER_LINKED"))

		engine.mu.Lock()
		engine.running = false
		engine.status.PeerCallsign = ""
		engine.mu.Unlock()
		s.checkHealth()
		require.True(t, rec.has("ENGINE_DIED"))

		require.NoError(t, s.Connect())
		s.checkHealth()
		assert.False(t, rec.has("PEER_UNLINKED"), "link died with the engine")
	})

	t.Run("peer state resets across disconnect", func(t *testing.T) {
		s, engine, rec := newTestSession(testConfig())
		require.NoError(t, s.Connect())

		engine.mu.Lock()
		engine.status.PeerCallsign = "W1AW"
		engine.mu.Unlock()
		s.checkHealth()

		engine.mu.Lock()
		engine.status.PeerCallsign = ""
		engine.mu.Unlock()
		require.NoError(t, s.Disconnect())
		require.NoError(t, s.Connect())
		s.checkHealth()
		assert.False(t, rec.has("PEER_UNLINKED"))
	})
}

func TestPassthrough(t *testing.T) {
	t.Run("payload routed to engine", func(t *testing.T) {
		s, engine, _ := newTestSession(testConfig())
		require.NoError(t, s.Connect())
		assert.True(t, s.SendPayload([]byte("hi")))
		assert.Len(t, engine.sentData, 1)
	})

	t.Run("payload refused when disconnected", func(t *testing.T) {
		s, _, _ := newTestSession(testConfig())
		assert.False(t, s.SendPayload([]byte("hi")))
	})

	t.Run("ping requires a running engine", func(t *testing.T) {
		s, _, _ := newTestSession(testConfig())
		assert.ErrorIs(t, s.Ping(), modem.ErrNotRunning)
	})

	t.Run("connected flag tracks state", func(t *testing.T) {
		s, _, _ := newTestSession(testConfig())
		assert.False(t, s.IsConnected())
		require.NoError(t, s.Connect())
		assert.True(t, s.IsConnected())
		require.NoError(t, s.Disconnect())
		assert.False(t, s.IsConnected())
	})

	t.Run("center frequency bounded and stored", func(t *testing.T) {
		cfg := testConfig()
		s, _, _ := newTestSession(cfg)
		require.Error(t, s.SetCenterFrequency(300))
		require.NoError(t, s.SetCenterFrequency(2000))
		assert.Equal(t, 2000, cfg.Modem.CenterFrequency)
	})

	t.Run("bandwidth validated and forwarded", func(t *testing.T) {
		s, engine, _ := newTestSession(testConfig())
		require.NoError(t, s.Connect())
		require.Error(t, s.SetBandwidth(750))
		require.NoError(t, s.SetBandwidth(2000))
		assert.Equal(t, []int{2000}, engine.bandwidths)
	})
}
