// Package ardop drives an ARDOP modem engine over its TCP host
// interface: a CR-delimited command channel, a raw data channel, and an
// optionally supervised engine process.
package ardop

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ssdigi/ssdigid/pkg/config"
	"github.com/ssdigi/ssdigid/pkg/logging"
	"github.com/ssdigi/ssdigid/pkg/modem"
	"github.com/ssdigi/ssdigid/pkg/supervisor"
)

func init() {
	modem.Register(modem.ModeARDOP, func(cfg *config.Config, logger *logging.Logger) (modem.Engine, error) {
		return New(cfg, logger), nil
	})
}

// Engine implements modem.Engine for ARDOP.
type Engine struct {
	mu      sync.RWMutex
	station config.StationConfig
	mcfg    config.ModemConfig
	status  modem.Status
	control *ControlChannel
	data    *DataChannel
	running bool

	proc   *supervisor.Supervisor
	logger *logging.Logger
}

// New creates an engine from configuration. Nothing is started until
// Start is called.
func New(cfg *config.Config, logger *logging.Logger) *Engine {
	return &Engine{
		station: cfg.Station,
		mcfg:    cfg.Modem,
		status:  modem.Status{State: "DISCONNECTED"},
		proc:    supervisor.New(logger),
		logger:  logger,
	}
}

// Start brings the engine up: spawn the process (unless external mode),
// connect both channels, and run the initialization sequence. It
// performs no I/O when the callsign is missing.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.Warn("ardop", "engine already started")
		return nil
	}
	station := e.station
	mcfg := e.mcfg
	e.mu.Unlock()

	if station.Callsign == "" {
		return modem.ErrMissingIdentity
	}

	if !mcfg.External {
		args := EngineArgs(station, mcfg)
		e.logger.Info("ardop", "launching engine", map[string]interface{}{
			"path": mcfg.EnginePath,
			"args": strings.Join(args, " "),
		})
		if err := e.proc.Start(mcfg.EnginePath, args...); err != nil {
			return err
		}
	} else {
		e.logger.Info("ardop", "using external engine", map[string]interface{}{
			"host": mcfg.Host,
			"port": mcfg.CommandPort,
		})
	}

	control, err := DialControl(fmt.Sprintf("%s:%d", mcfg.Host, mcfg.CommandPort), e.handleLine, e.logger)
	if err != nil {
		e.teardownProcess(mcfg)
		return err
	}

	data, err := DialData(fmt.Sprintf("%s:%d", mcfg.Host, mcfg.DataPort), e.logger)
	if err != nil {
		control.Close()
		e.teardownProcess(mcfg)
		return err
	}

	for _, cmd := range InitCommands(station, mcfg) {
		if err := e.send(control, cmd); err != nil {
			data.Close()
			control.Close()
			e.teardownProcess(mcfg)
			return fmt.Errorf("initialization failed: %w", err)
		}
	}

	e.mu.Lock()
	e.control = control
	e.data = data
	e.running = true
	e.status = modem.Status{State: "DISC"}
	e.mu.Unlock()

	e.logger.Info("ardop", "engine started")
	return nil
}

// Stop tears the engine down: data channel first, then CLOSE on the
// control channel so the engine exits cleanly, then the process. Safe to
// call when already stopped.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	control := e.control
	data := e.data
	mcfg := e.mcfg
	e.control = nil
	e.data = nil
	e.running = false
	e.status = modem.Status{State: "DISCONNECTED"}
	e.mu.Unlock()

	if data != nil {
		data.Close()
	}
	if control != nil {
		if err := control.Send("CLOSE"); err == nil {
			// Give the engine a moment to act on CLOSE before the
			// socket goes away.
			time.Sleep(200 * time.Millisecond)
		}
		control.Close()
	}
	e.teardownProcess(mcfg)

	e.logger.Info("ardop", "engine stopped")
	return nil
}

// send writes one command and records it in the status snapshot.
func (e *Engine) send(control *ControlChannel, cmd string) error {
	e.mu.Lock()
	e.status.LastCommand = cmd
	e.status.LastCommandAt = time.Now()
	e.mu.Unlock()
	return control.Send(cmd)
}

func (e *Engine) teardownProcess(mcfg config.ModemConfig) {
	if !mcfg.External {
		e.proc.Stop(2 * time.Second)
	}
}

// Running reports whether the engine is usable: channels connected and,
// for a supervised engine, the process still alive.
func (e *Engine) Running() bool {
	e.mu.RLock()
	running := e.running
	external := e.mcfg.External
	e.mu.RUnlock()
	if !running {
		return false
	}
	if external {
		return true
	}
	return e.proc.IsAlive()
}

// Status returns a snapshot of engine state.
func (e *Engine) Status() modem.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// SendData queues payload bytes on the data channel.
func (e *Engine) SendData(payload []byte) bool {
	e.mu.RLock()
	data := e.data
	e.mu.RUnlock()
	if data == nil {
		e.logger.Warn("ardop", "data send with no channel")
		return false
	}
	return data.Send(payload)
}

// Ping asks the engine to ping our own callsign, exercising the full
// transmit and receive audio path.
func (e *Engine) Ping() error {
	e.mu.RLock()
	control := e.control
	e.mu.RUnlock()
	if control == nil {
		return modem.ErrNotRunning
	}
	return e.send(control, "PING MYCALL 1")
}

// SetBandwidth changes the ARQ bandwidth on a running engine and records
// it for future restarts.
func (e *Engine) SetBandwidth(hz int) error {
	if !config.IsValidBandwidth(hz) {
		return fmt.Errorf("invalid bandwidth %d Hz", hz)
	}
	e.mu.Lock()
	e.mcfg.Bandwidth = hz
	control := e.control
	mode := strings.ToUpper(e.mcfg.ARQBWMode)
	e.mu.Unlock()
	if control == nil {
		return nil
	}
	return e.send(control, fmt.Sprintf("ARQBW %d%s", hz, mode))
}

// Apply updates stored configuration and re-sends the live directives to
// a running engine without restarting it.
func (e *Engine) Apply(station config.StationConfig, mcfg config.ModemConfig) error {
	e.mu.Lock()
	e.station = station
	e.mcfg = mcfg
	control := e.control
	e.mu.Unlock()

	if control == nil {
		return nil
	}

	e.logger.Info("ardop", "applying configuration to running engine")
	cmds := []string{
		fmt.Sprintf("ARQBW %d%s", mcfg.Bandwidth, strings.ToUpper(mcfg.ARQBWMode)),
		fmt.Sprintf("MYCALL %s", strings.ToUpper(station.Callsign)),
	}
	if station.Grid != "" {
		cmds = append(cmds, fmt.Sprintf("GRIDSQUARE %s", station.Grid))
	}
	cmds = append(cmds, fmt.Sprintf("DRIVELEVEL %d", mcfg.DriveLevel))

	for _, cmd := range cmds {
		if err := e.send(control, cmd); err != nil {
			return err
		}
	}
	return nil
}

// handleLine dispatches one unsolicited line from the control channel.
// Unrecognized lines are ignored; the engine emits plenty of chatter.
func (e *Engine) handleLine(line string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch parts[0] {
	case "STATE":
		if len(parts) >= 2 {
			e.status.State = parts[1]
		}

	case "BUFFER":
		if len(parts) >= 2 {
			if n, err := strconv.Atoi(parts[1]); err == nil {
				e.status.Buffer = n
			}
		}

	case "CONNECTED":
		if len(parts) >= 3 {
			e.status.PeerCallsign = parts[1]
			if bw, err := strconv.Atoi(parts[2]); err == nil {
				e.status.PeerBandwidth = bw
			}
			e.logger.Info("ardop", "linked to peer", map[string]interface{}{
				"peer":      parts[1],
				"bandwidth": parts[2],
			})
		}

	case "DISCONNECTED":
		if e.status.PeerCallsign != "" {
			e.logger.Info("ardop", "peer link closed", map[string]interface{}{
				"peer": e.status.PeerCallsign,
			})
		}
		e.status.PeerCallsign = ""
		e.status.PeerBandwidth = 0

	case "PINGACK":
		e.status.LastPingAck = time.Now()
		if len(parts) >= 2 {
			if snr, err := strconv.Atoi(parts[1]); err == nil {
				e.status.LastPingSNR = snr
			}
		}
		e.logger.Info("ardop", "ping acknowledged", map[string]interface{}{"reply": line})

	case "INPUTPEAKS":
		if len(parts) >= 2 {
			if peak, err := strconv.ParseFloat(parts[1], 64); err == nil {
				e.status.InputPeak = 20 * math.Log10(math.Abs(peak)+1e-10)
			}
		}

	case "BUSY":
		e.status.ChannelBusy = true

	case "FREE":
		e.status.ChannelBusy = false
	}
}
