package ardop

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ssdigi/ssdigid/pkg/logging"
)

// DataChannel is the engine's payload connection. Bytes written here are
// queued by the engine for over-the-air transmission; framing is the
// engine's business.
type DataChannel struct {
	mu     sync.Mutex
	conn   net.Conn
	closed bool
	logger *logging.Logger
}

// DialData connects to the engine's data port.
func DialData(addr string, logger *logging.Logger) (*DataChannel, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect data channel %s: %w", addr, err)
	}
	return &DataChannel{conn: conn, logger: logger}, nil
}

// NewDataChannel wraps an existing connection. Used by tests.
func NewDataChannel(conn net.Conn, logger *logging.Logger) *DataChannel {
	return &DataChannel{conn: conn, logger: logger}
}

// Send writes payload bytes. A failure is logged and reported as false;
// it never takes the control channel down.
func (d *DataChannel) Send(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("ardop", "data send on closed channel")
		return false
	}
	d.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := d.conn.Write(payload); err != nil {
		d.logger.Error("ardop", "data send failed", map[string]interface{}{
			"bytes": len(payload),
			"error": err.Error(),
		})
		return false
	}
	return true
}

// Close shuts the connection down. Safe to call more than once.
func (d *DataChannel) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.conn.Close()
}
