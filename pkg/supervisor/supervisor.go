// Package supervisor manages external engine processes: launch with a
// startup grace window, liveness polling, and graceful shutdown.
package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ssdigi/ssdigid/pkg/logging"
)

// ErrNotFound is returned by Start when the engine binary does not exist
// or is not executable.
var ErrNotFound = errors.New("engine binary not found")

// StartupError is returned when the process exits during the startup
// grace window. Stderr carries whatever the process wrote before dying.
type StartupError struct {
	Path   string
	Stderr string
}

func (e *StartupError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("engine %s exited during startup: %s", e.Path, e.Stderr)
	}
	return fmt.Sprintf("engine %s exited during startup", e.Path)
}

// DefaultStartupGrace is how long Start waits to confirm the process
// survived launch before returning success.
const DefaultStartupGrace = 1500 * time.Millisecond

// Supervisor runs one external process at a time.
type Supervisor struct {
	mu           sync.Mutex
	cmd          *exec.Cmd
	stderr       *bytes.Buffer
	stdout       *bytes.Buffer
	done         chan struct{}
	logger       *logging.Logger
	StartupGrace time.Duration
}

// New creates a supervisor. The logger must not be nil.
func New(logger *logging.Logger) *Supervisor {
	return &Supervisor{
		logger:       logger,
		StartupGrace: DefaultStartupGrace,
	}
}

// Start launches the binary at path with args and waits the startup grace
// window. It returns ErrNotFound if the binary is missing, a *StartupError
// if the process dies inside the window, and nil once the process has
// survived it.
func (s *Supervisor) Start(path string, args ...string) error {
	s.mu.Lock()
	if s.aliveLocked() {
		pid := s.cmd.Process.Pid
		s.mu.Unlock()
		return fmt.Errorf("process already running (pid %d)", pid)
	}
	s.mu.Unlock()

	resolved, err := exec.LookPath(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if info, err := os.Stat(resolved); err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	cmd := exec.Command(resolved, args...)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", path, err)
	}

	s.logger.Info("supervisor", "engine process started", map[string]interface{}{
		"path": path,
		"pid":  cmd.Process.Pid,
	})

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	s.mu.Lock()
	s.cmd = cmd
	s.stdout = stdout
	s.stderr = stderr
	s.done = done
	grace := s.StartupGrace
	s.mu.Unlock()

	select {
	case <-done:
		msg := truncate(stderr.String())
		s.logger.Error("supervisor", "engine died during startup", map[string]interface{}{
			"path":   path,
			"stderr": msg,
		})
		s.clear()
		return &StartupError{Path: path, Stderr: msg}
	case <-time.After(grace):
		return nil
	}
}

func truncate(out string) string {
	const max = 2048
	if len(out) > max {
		return out[:max]
	}
	return out
}

// IsAlive reports whether the supervised process is currently running.
// It never blocks.
func (s *Supervisor) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliveLocked()
}

func (s *Supervisor) aliveLocked() bool {
	if s.cmd == nil || s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Pid returns the pid of the supervised process, or 0 when none runs.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.aliveLocked() {
		return 0
	}
	return s.cmd.Process.Pid
}

// Stderr returns what the process has written to stderr so far.
func (s *Supervisor) Stderr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stderr == nil {
		return ""
	}
	return s.stderr.String()
}

// Stop terminates the process: SIGTERM, then SIGKILL after grace expires.
// Calling Stop with no process running is a no-op.
func (s *Supervisor) Stop(grace time.Duration) error {
	s.mu.Lock()
	if !s.aliveLocked() {
		s.cmd = nil
		s.done = nil
		s.mu.Unlock()
		return nil
	}
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	s.logger.Info("supervisor", "stopping engine process", map[string]interface{}{
		"pid": cmd.Process.Pid,
	})

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone between the liveness check and the signal.
		s.clear()
		return nil
	}

	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn("supervisor", "engine ignored SIGTERM, killing", map[string]interface{}{
			"pid": cmd.Process.Pid,
		})
		_ = cmd.Process.Kill()
		<-done
	}

	s.clear()
	return nil
}

func (s *Supervisor) clear() {
	s.mu.Lock()
	s.cmd = nil
	s.done = nil
	s.mu.Unlock()
}
