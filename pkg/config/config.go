package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// ValidBandwidths lists the ARQ bandwidths (Hz) the modem engine accepts.
var ValidBandwidths = []int{200, 500, 1000, 2000}

// StationConfig identifies the operator.
type StationConfig struct {
	Callsign string `yaml:"callsign"`
	Grid     string `yaml:"grid"`
}

// PTTConfig selects the transmit-key method passed to the modem engine.
type PTTConfig struct {
	Method      string `yaml:"method"` // VOX, RTS, CAT, GPIO, CM108
	Port        string `yaml:"port"`
	Baud        int    `yaml:"baud"`
	KeyString   string `yaml:"key_string"`   // hex bytes sent to key the rig
	UnkeyString string `yaml:"unkey_string"` // hex bytes sent to unkey
	GPIOPin     int    `yaml:"gpio_pin"`
	CM108Device string `yaml:"cm108_device"`
}

// ModemConfig configures the modem engine and its session parameters.
type ModemConfig struct {
	Mode        string `yaml:"mode"`
	EnginePath  string `yaml:"engine_path"`
	External    bool   `yaml:"external"` // connect to an already-running engine
	Host        string `yaml:"host"`
	CommandPort int    `yaml:"command_port"`
	DataPort    int    `yaml:"data_port"`

	Bandwidth       int    `yaml:"bandwidth"`
	CenterFrequency int    `yaml:"center_frequency"`
	ProtocolMode    string `yaml:"protocol_mode"` // ARQ, FEC, RXO
	ARQBWMode       string `yaml:"arqbw_mode"`    // MAX or FORCE
	CallBW          string `yaml:"callbw"`        // bandwidth for outgoing calls, e.g. 500MAX
	ARQTimeout      int    `yaml:"arq_timeout"`
	FECMode         string `yaml:"fec_mode"`
	FECRepeats      int    `yaml:"fec_repeats"`
	FECID           bool   `yaml:"fec_id"`
	Leader          int    `yaml:"leader"`
	Trailer         int    `yaml:"trailer"`
	Squelch         int    `yaml:"squelch"`
	BusyDet         int    `yaml:"busydet"`
	DriveLevel      int    `yaml:"drive_level"`
	TuningRange     int    `yaml:"tuning_range"`
	AutoBreak       bool   `yaml:"autobreak"`
	BusyBlock       bool   `yaml:"busyblock"`
	CWID            bool   `yaml:"cwid"`
	FSKOnly         bool   `yaml:"fskonly"`
	Use600Modes     bool   `yaml:"use600modes"`
	FastStart       bool   `yaml:"faststart"`
	ExtraDelay      int    `yaml:"extradelay"` // extra RX/TX switch delay in ms
	CmdTrace        bool   `yaml:"cmdtrace"`
	ConsoleLog      int    `yaml:"consolelog"`
	LogDir          string `yaml:"logdir"`
	ExtraCommands   string `yaml:"extra_commands"` // semicolon-separated

	PTT PTTConfig `yaml:"ptt"`
}

// HamlibConfig configures the rigctld bridge.
type HamlibConfig struct {
	Enabled      bool   `yaml:"enabled"`
	RigctldPath  string `yaml:"rigctld_path"`
	RigModel     int    `yaml:"rig_model"`
	Device       string `yaml:"device"`
	BaudRate     int    `yaml:"baud_rate"`
	Port         int    `yaml:"port"` // rigctld TCP control port
	PollInterval int    `yaml:"poll_interval"` // milliseconds
}

// TelemetryConfig configures the UDP spectrum receiver.
type TelemetryConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// WebConfig configures the HTTP API.
type WebConfig struct {
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"`
}

// StorageConfig configures the session event log.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	MaxEvents    int    `yaml:"max_events"`
}

// LoggingConfig configures the rotating log output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
	Structured bool   `yaml:"structured"`
}

// Config represents the ssdigid configuration
type Config struct {
	Station   StationConfig   `yaml:"station"`
	Modem     ModemConfig     `yaml:"modem"`
	Hamlib    HamlibConfig    `yaml:"hamlib"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Web       WebConfig       `yaml:"web"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills in defaults for fields left empty in the file.
func (c *Config) applyDefaults() {
	if c.Modem.Mode == "" {
		c.Modem.Mode = "ardop"
	}
	if c.Modem.Host == "" {
		c.Modem.Host = "127.0.0.1"
	}
	if c.Modem.CommandPort == 0 {
		c.Modem.CommandPort = 8515
	}
	if c.Modem.DataPort == 0 {
		c.Modem.DataPort = c.Modem.CommandPort + 1
	}
	if c.Modem.Bandwidth == 0 {
		c.Modem.Bandwidth = 500
	}
	if c.Modem.CenterFrequency == 0 {
		c.Modem.CenterFrequency = 1500
	}
	if c.Modem.ProtocolMode == "" {
		c.Modem.ProtocolMode = "ARQ"
	}
	if c.Modem.ARQBWMode == "" {
		c.Modem.ARQBWMode = "MAX"
	}
	if c.Modem.ARQTimeout == 0 {
		c.Modem.ARQTimeout = 120
	}
	if c.Modem.FECMode == "" {
		c.Modem.FECMode = "4FSK.500.100S"
	}
	if c.Modem.Leader == 0 {
		c.Modem.Leader = 120
	}
	if c.Modem.Squelch == 0 {
		c.Modem.Squelch = 5
	}
	if c.Modem.BusyDet == 0 {
		c.Modem.BusyDet = 5
	}
	if c.Modem.DriveLevel == 0 {
		c.Modem.DriveLevel = 90
	}
	if c.Modem.TuningRange == 0 {
		c.Modem.TuningRange = 100
	}
	if c.Modem.ConsoleLog == 0 {
		c.Modem.ConsoleLog = 6
	}
	if c.Modem.PTT.Method == "" {
		c.Modem.PTT.Method = "VOX"
	}
	if c.Modem.PTT.Baud == 0 {
		c.Modem.PTT.Baud = 19200
	}
	if c.Hamlib.RigctldPath == "" {
		c.Hamlib.RigctldPath = "rigctld"
	}
	if c.Hamlib.RigModel == 0 {
		c.Hamlib.RigModel = 1 // hamlib dummy rig
	}
	if c.Hamlib.BaudRate == 0 {
		c.Hamlib.BaudRate = 38400
	}
	if c.Hamlib.Port == 0 {
		c.Hamlib.Port = 4532
	}
	if c.Hamlib.PollInterval == 0 {
		c.Hamlib.PollInterval = 1000
	}
	if c.Telemetry.Host == "" {
		c.Telemetry.Host = "127.0.0.1"
	}
	if c.Telemetry.Port == 0 {
		c.Telemetry.Port = 8517
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "0.0.0.0"
	}
	if c.Storage.MaxEvents == 0 {
		c.Storage.MaxEvents = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 30
	}
}

// Validate checks if the configuration is valid. An empty callsign is
// allowed here; connecting without one is rejected by the session.
func (c *Config) Validate() error {
	if c.Station.Callsign != "" {
		if err := ValidateCallsign(c.Station.Callsign); err != nil {
			return err
		}
	}
	if !IsValidBandwidth(c.Modem.Bandwidth) {
		return fmt.Errorf("invalid bandwidth %d Hz (valid: %v)", c.Modem.Bandwidth, ValidBandwidths)
	}
	switch strings.ToUpper(c.Modem.ProtocolMode) {
	case "ARQ", "FEC", "RXO":
	default:
		return fmt.Errorf("invalid protocol mode %q (valid: ARQ, FEC, RXO)", c.Modem.ProtocolMode)
	}
	if c.Modem.DriveLevel < 0 || c.Modem.DriveLevel > 100 {
		return fmt.Errorf("drive level %d out of range 0-100", c.Modem.DriveLevel)
	}
	switch strings.ToUpper(c.Modem.ARQBWMode) {
	case "MAX", "FORCE":
	default:
		return fmt.Errorf("invalid arqbw mode %q (valid: MAX, FORCE)", c.Modem.ARQBWMode)
	}
	if c.Hamlib.Enabled && c.Hamlib.RigModel != 1 && c.Hamlib.Device == "" {
		return fmt.Errorf("hamlib device is required for rig model %d", c.Hamlib.RigModel)
	}
	return nil
}

// ValidateCallsign checks the callsign format the modem engine accepts:
// at most 8 characters, alphanumeric only.
func ValidateCallsign(callsign string) error {
	if callsign == "" {
		return fmt.Errorf("callsign is empty")
	}
	if len(callsign) > 8 {
		return fmt.Errorf("callsign %q exceeds 8 characters", callsign)
	}
	for _, r := range callsign {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return fmt.Errorf("callsign %q contains non-alphanumeric character", callsign)
		}
	}
	return nil
}

// IsValidBandwidth reports whether bw is one of the engine's ARQ bandwidths.
func IsValidBandwidth(bw int) bool {
	for _, v := range ValidBandwidths {
		if bw == v {
			return true
		}
	}
	return false
}
