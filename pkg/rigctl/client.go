// Package rigctl bridges to a hamlib rigctld daemon: process
// supervision plus a strict request/reply client for frequency, PTT and
// signal strength.
package rigctl

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ssdigi/ssdigid/pkg/logging"
)

// CommandError reports a non-zero RPRT code from rigctld.
type CommandError struct {
	Cmd  string
	Code int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("rigctld command %q failed: RPRT %d", e.Cmd, e.Code)
}

const requestTimeout = 2 * time.Second

// Client speaks the rigctld line protocol over one TCP connection.
// rigctld is strictly request/reply, so every exchange holds the lock
// for the full send-and-read round trip.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	logger *logging.Logger
}

// DialClient connects to rigctld at addr.
func DialClient(addr string, logger *logging.Logger) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rigctld at %s: %w", addr, err)
	}
	return NewClient(conn, logger), nil
}

// NewClient wraps an existing connection. Used by tests.
func NewClient(conn net.Conn, logger *logging.Logger) *Client {
	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		logger: logger,
	}
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// roundTrip sends one command and reads exactly one reply line.
func (c *Client) roundTrip(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetDeadline(time.Now().Add(requestTimeout))
	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("rigctld send failed: %w", err)
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("rigctld read failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// checkReport interprets a reply line as an RPRT status.
func checkReport(cmd, line string) error {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "RPRT" {
		return fmt.Errorf("unexpected rigctld reply to %q: %q", cmd, line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("unexpected rigctld reply to %q: %q", cmd, line)
	}
	if code != 0 {
		return &CommandError{Cmd: cmd, Code: code}
	}
	return nil
}

// parseValue extracts the numeric payload from a reply line, accepting
// both the bare form ("14074000") and the labeled form
// ("Frequency: 14074000"). An RPRT line here means the command failed.
func parseValue(cmd, line string) (string, error) {
	if strings.HasPrefix(line, "RPRT") {
		if err := checkReport(cmd, line); err != nil {
			return "", err
		}
		return "", fmt.Errorf("missing value in rigctld reply to %q", cmd)
	}
	if idx := strings.Index(line, ":"); idx >= 0 {
		return strings.TrimSpace(line[idx+1:]), nil
	}
	return line, nil
}

// SetFrequency tunes the rig to hz.
func (c *Client) SetFrequency(hz int64) error {
	cmd := fmt.Sprintf("F %d", hz)
	line, err := c.roundTrip(cmd)
	if err != nil {
		return err
	}
	return checkReport(cmd, line)
}

// Frequency reads the rig's current frequency in Hz.
func (c *Client) Frequency() (int64, error) {
	line, err := c.roundTrip("f")
	if err != nil {
		return 0, err
	}
	value, err := parseValue("f", line)
	if err != nil {
		return 0, err
	}
	hz, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable frequency %q: %w", value, err)
	}
	return hz, nil
}

// SetPTT keys or unkeys the transmitter.
func (c *Client) SetPTT(on bool) error {
	cmd := "T 0"
	if on {
		cmd = "T 1"
	}
	line, err := c.roundTrip(cmd)
	if err != nil {
		return err
	}
	return checkReport(cmd, line)
}

// PTT reads the current transmit state.
func (c *Client) PTT() (bool, error) {
	line, err := c.roundTrip("t")
	if err != nil {
		return false, err
	}
	value, err := parseValue("t", line)
	if err != nil {
		return false, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return false, fmt.Errorf("unparseable PTT state %q: %w", value, err)
	}
	return n != 0, nil
}

// SignalStrength reads the S-meter level in dB relative to S9.
func (c *Client) SignalStrength() (int, error) {
	line, err := c.roundTrip("l STRENGTH")
	if err != nil {
		return 0, err
	}
	value, err := parseValue("l STRENGTH", line)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("unparseable signal strength %q: %w", value, err)
	}
	return n, nil
}
