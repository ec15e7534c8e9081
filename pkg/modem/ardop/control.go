package ardop

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ssdigi/ssdigid/pkg/logging"
	"github.com/ssdigi/ssdigid/pkg/modem"
)

const dialTimeout = 3 * time.Second

// ControlChannel is the CR-delimited command connection to the engine.
// Writes are serialized; a dedicated read loop splits incoming bytes on
// CR and hands complete lines to the registered handler.
type ControlChannel struct {
	mu      sync.Mutex
	conn    net.Conn
	closed  bool
	handler func(line string)
	logger  *logging.Logger
	wg      sync.WaitGroup
}

// DialControl connects to the engine's command port and starts the read
// loop. Every complete line, stripped of its CR, is passed to handler.
func DialControl(addr string, handler func(line string), logger *logging.Logger) (*ControlChannel, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect control channel %s: %w", addr, err)
	}

	c := &ControlChannel{
		conn:    conn,
		handler: handler,
		logger:  logger,
	}
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

// NewControlChannel wraps an existing connection. Used by tests with
// net.Pipe.
func NewControlChannel(conn net.Conn, handler func(line string), logger *logging.Logger) *ControlChannel {
	c := &ControlChannel{
		conn:    conn,
		handler: handler,
		logger:  logger,
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

// readLoop reads until the connection dies. bufio buffers partial lines
// across reads, so commands split over multiple TCP segments reassemble
// correctly.
func (c *ControlChannel) readLoop() {
	defer c.wg.Done()
	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadString('\r')
		if n := len(line); n > 0 && line[n-1] == '\r' {
			if line = line[:n-1]; line != "" {
				c.handler(line)
			}
		}
		// An unterminated tail on a dying connection is dropped.
		if err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.mu.Unlock()
			if !wasClosed && err != io.EOF {
				c.logger.Warn("ardop", "control channel read failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return
		}
	}
}

// Send writes one command, appending the CR terminator.
func (c *ControlChannel) Send(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return modem.ErrChannelClosed
	}
	c.logger.Debug("ardop", "sending command", map[string]interface{}{"command": cmd})
	if _, err := c.conn.Write([]byte(cmd + "\r")); err != nil {
		return fmt.Errorf("failed to send %q: %w", cmd, err)
	}
	return nil
}

// Close shuts the connection down and waits for the read loop to exit.
func (c *ControlChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	err := c.conn.Close()
	c.mu.Unlock()
	c.wg.Wait()
	return err
}
