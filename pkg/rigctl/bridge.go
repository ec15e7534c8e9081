package rigctl

import (
	"fmt"
	"sync"
	"time"

	"github.com/ssdigi/ssdigid/pkg/config"
	"github.com/ssdigi/ssdigid/pkg/logging"
	"github.com/ssdigi/ssdigid/pkg/supervisor"
)

// State is a snapshot of the last successfully read rig values. Failed
// reads leave the cache untouched.
type State struct {
	Frequency int64
	PTT       bool
	Strength  int
	Updated   time.Time
}

// Bridge supervises a rigctld process and keeps a polled cache of rig
// state on top of the request/reply client.
type Bridge struct {
	mu     sync.RWMutex
	cfg    config.HamlibConfig
	client *Client
	state  State

	proc    *supervisor.Supervisor
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool

	logger *logging.Logger
}

// NewBridge creates a bridge from configuration. Nothing starts until
// Start is called.
func NewBridge(cfg config.HamlibConfig, logger *logging.Logger) *Bridge {
	return &Bridge{
		cfg:    cfg,
		proc:   supervisor.New(logger),
		logger: logger,
	}
}

// rigctldArgs builds the daemon's command line. The dummy rig (model 1)
// needs no device or baud rate.
func rigctldArgs(cfg config.HamlibConfig) []string {
	args := []string{"-m", fmt.Sprintf("%d", cfg.RigModel)}
	if cfg.Device != "" {
		args = append(args, "-r", cfg.Device)
	}
	if cfg.BaudRate > 0 && cfg.Device != "" {
		args = append(args, "-s", fmt.Sprintf("%d", cfg.BaudRate))
	}
	args = append(args, "-t", fmt.Sprintf("%d", cfg.Port))
	return args
}

// Start launches rigctld, connects the client, and begins the periodic
// status refresh.
func (b *Bridge) Start() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		b.logger.Warn("rigctl", "bridge already running")
		return nil
	}
	cfg := b.cfg
	b.mu.Unlock()

	if err := b.proc.Start(cfg.RigctldPath, rigctldArgs(cfg)...); err != nil {
		return fmt.Errorf("failed to start rigctld: %w", err)
	}

	client, err := DialClient(fmt.Sprintf("127.0.0.1:%d", cfg.Port), b.logger)
	if err != nil {
		b.proc.Stop(2 * time.Second)
		return err
	}

	b.mu.Lock()
	b.client = client
	b.running = true
	b.stop = make(chan struct{})
	b.mu.Unlock()

	b.wg.Add(1)
	go b.refreshLoop(time.Duration(cfg.PollInterval) * time.Millisecond)

	b.logger.Info("rigctl", "bridge started", map[string]interface{}{
		"model": cfg.RigModel,
		"port":  cfg.Port,
	})
	return nil
}

// Stop tears the bridge down: worker, client, process. No-op when not
// running.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stop)
	client := b.client
	b.client = nil
	b.mu.Unlock()

	b.wg.Wait()
	if client != nil {
		client.Close()
	}
	b.proc.Stop(2 * time.Second)
	b.logger.Info("rigctl", "bridge stopped")
}

// Running reports whether the bridge and its rigctld are up.
func (b *Bridge) Running() bool {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	return running && b.proc.IsAlive()
}

func (b *Bridge) refreshLoop(interval time.Duration) {
	defer b.wg.Done()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.refresh()
		}
	}
}

// refresh polls frequency and signal strength, updating only the values
// that read back successfully.
func (b *Bridge) refresh() {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	if client == nil {
		return
	}

	hz, freqErr := client.Frequency()
	strength, strengthErr := client.SignalStrength()

	b.mu.Lock()
	if freqErr == nil {
		b.state.Frequency = hz
		b.state.Updated = time.Now()
	}
	if strengthErr == nil {
		b.state.Strength = strength
		b.state.Updated = time.Now()
	}
	b.mu.Unlock()

	if freqErr != nil {
		b.logger.Debug("rigctl", "frequency poll failed", map[string]interface{}{
			"error": freqErr.Error(),
		})
	}
}

// State returns the cached rig values.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// SetFrequency tunes the rig and updates the cache on success.
func (b *Bridge) SetFrequency(hz int64) error {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("rig bridge is not running")
	}
	if err := client.SetFrequency(hz); err != nil {
		return err
	}
	b.mu.Lock()
	b.state.Frequency = hz
	b.state.Updated = time.Now()
	b.mu.Unlock()
	return nil
}

// SetPTT keys or unkeys the rig and updates the cache on success.
func (b *Bridge) SetPTT(on bool) error {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("rig bridge is not running")
	}
	if err := client.SetPTT(on); err != nil {
		return err
	}
	b.mu.Lock()
	b.state.PTT = on
	b.state.Updated = time.Now()
	b.mu.Unlock()
	return nil
}
