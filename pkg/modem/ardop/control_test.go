package ardop

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ssdigi/ssdigid/pkg/logging"
)

func collectLines() (func(string), func() []string) {
	var mu sync.Mutex
	var lines []string
	add := func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	}
	get := func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := make([]string, len(lines))
		copy(out, lines)
		return out
	}
	return add, get
}

func waitForLines(t *testing.T, get func() []string, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lines := get(); len(lines) >= n {
			return lines
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lines, have %v", n, get())
	return nil
}

func TestControlChannelReadLoop(t *testing.T) {
	logger := logging.NewConsoleLogger("error")

	t.Run("splits lines on CR", func(t *testing.T) {
		client, server := net.Pipe()
		add, get := collectLines()
		c := NewControlChannel(client, add, logger)
		defer c.Close()
		defer server.Close()

		go server.Write([]byte("STATE ARQ\rBUFFER 42\rCONNECTED KX1ABC 500\r"))

		lines := waitForLines(t, get, 3)
		want := []string{"STATE ARQ", "BUFFER 42", "CONNECTED KX1ABC 500"}
		for i := range want {
			if lines[i] != want[i] {
				t.Errorf("line %d: expected %q, got %q", i, want[i], lines[i])
			}
		}
	})

	t.Run("reassembles lines split across reads", func(t *testing.T) {
		client, server := net.Pipe()
		add, get := collectLines()
		c := NewControlChannel(client, add, logger)
		defer c.Close()
		defer server.Close()

		go func() {
			server.Write([]byte("STATE "))
			time.Sleep(20 * time.Millisecond)
			server.Write([]byte("IRS\rBUF"))
			time.Sleep(20 * time.Millisecond)
			server.Write([]byte("FER 7\r"))
		}()

		lines := waitForLines(t, get, 2)
		if lines[0] != "STATE IRS" || lines[1] != "BUFFER 7" {
			t.Errorf("expected reassembled lines, got %v", lines)
		}
	})

	t.Run("empty lines are dropped", func(t *testing.T) {
		client, server := net.Pipe()
		add, get := collectLines()
		c := NewControlChannel(client, add, logger)
		defer c.Close()
		defer server.Close()

		go server.Write([]byte("\r\rFREE\r"))

		lines := waitForLines(t, get, 1)
		if len(lines) != 1 || lines[0] != "FREE" {
			t.Errorf("expected only FREE, got %v", lines)
		}
	})
}

func TestControlChannelSend(t *testing.T) {
	logger := logging.NewConsoleLogger("error")

	t.Run("appends CR terminator", func(t *testing.T) {
		client, server := net.Pipe()
		add, _ := collectLines()
		c := NewControlChannel(client, add, logger)
		defer c.Close()
		defer server.Close()

		errCh := make(chan error, 1)
		go func() { errCh <- c.Send("MYCALL KX1ABC") }()

		reader := bufio.NewReader(server)
		line, err := reader.ReadString('\r')
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if line != "MYCALL KX1ABC\r" {
			t.Errorf("expected CR-terminated command, got %q", line)
		}
		if err := <-errCh; err != nil {
			t.Errorf("Send failed: %v", err)
		}
	})

	t.Run("send after close fails", func(t *testing.T) {
		client, server := net.Pipe()
		add, _ := collectLines()
		c := NewControlChannel(client, add, logger)
		server.Close()
		c.Close()

		if err := c.Send("STATE"); err == nil {
			t.Error("expected error sending on closed channel")
		}
	})
}

func TestDataChannel(t *testing.T) {
	logger := logging.NewConsoleLogger("error")

	t.Run("sends payload bytes", func(t *testing.T) {
		client, server := net.Pipe()
		d := NewDataChannel(client, logger)
		defer d.Close()
		defer server.Close()

		payload := []byte("hello over the air")
		okCh := make(chan bool, 1)
		go func() { okCh <- d.Send(payload) }()

		buf := make([]byte, len(payload))
		if _, err := server.Read(buf); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if string(buf) != string(payload) {
			t.Errorf("expected %q, got %q", payload, buf)
		}
		if !<-okCh {
			t.Error("expected Send to report success")
		}
	})

	t.Run("empty payload is rejected", func(t *testing.T) {
		client, server := net.Pipe()
		d := NewDataChannel(client, logger)
		defer d.Close()
		defer server.Close()
		if d.Send(nil) {
			t.Error("expected false for empty payload")
		}
	})

	t.Run("send after close reports false", func(t *testing.T) {
		client, server := net.Pipe()
		d := NewDataChannel(client, logger)
		server.Close()
		d.Close()
		if d.Send([]byte("x")) {
			t.Error("expected false after close")
		}
	})
}

func TestHandleLine(t *testing.T) {
	logger := logging.NewConsoleLogger("error")

	newEngine := func() *Engine {
		e := &Engine{logger: logger}
		e.status.State = "DISC"
		return e
	}

	t.Run("state and buffer", func(t *testing.T) {
		e := newEngine()
		e.handleLine("STATE ISS")
		e.handleLine("BUFFER 42")
		st := e.Status()
		if st.State != "ISS" {
			t.Errorf("expected state ISS, got %q", st.State)
		}
		if st.Buffer != 42 {
			t.Errorf("expected buffer 42, got %d", st.Buffer)
		}
	})

	t.Run("connected and disconnected", func(t *testing.T) {
		e := newEngine()
		e.handleLine("CONNECTED KX1ABC 500")
		st := e.Status()
		if !st.Linked() || st.PeerCallsign != "KX1ABC" || st.PeerBandwidth != 500 {
			t.Errorf("unexpected status after CONNECTED: %+v", st)
		}
		e.handleLine("DISCONNECTED")
		st = e.Status()
		if st.Linked() || st.PeerBandwidth != 0 {
			t.Errorf("unexpected status after DISCONNECTED: %+v", st)
		}
	})

	t.Run("pingack records time and snr", func(t *testing.T) {
		e := newEngine()
		before := time.Now()
		e.handleLine("PINGACK 10 80")
		st := e.Status()
		if st.LastPingAck.Before(before) {
			t.Error("expected LastPingAck to be set")
		}
		if st.LastPingSNR != 10 {
			t.Errorf("expected SNR 10, got %d", st.LastPingSNR)
		}
	})

	t.Run("inputpeaks converts to dB", func(t *testing.T) {
		e := newEngine()
		e.handleLine("INPUTPEAKS 1.0")
		st := e.Status()
		// 20*log10(1.0 + 1e-10) is approximately 0 dB.
		if st.InputPeak < -0.01 || st.InputPeak > 0.01 {
			t.Errorf("expected ~0 dB for unit peak, got %f", st.InputPeak)
		}
		e.handleLine("INPUTPEAKS 0.1")
		st = e.Status()
		if st.InputPeak > -19 || st.InputPeak < -21 {
			t.Errorf("expected ~-20 dB for 0.1 peak, got %f", st.InputPeak)
		}
	})

	t.Run("busy and free", func(t *testing.T) {
		e := newEngine()
		e.handleLine("BUSY TRUE")
		if !e.Status().ChannelBusy {
			t.Error("expected busy after BUSY")
		}
		e.handleLine("FREE")
		if e.Status().ChannelBusy {
			t.Error("expected free after FREE")
		}
	})

	t.Run("unrecognized lines ignored", func(t *testing.T) {
		e := newEngine()
		before := e.Status()
		e.handleLine("NEWSTATE NONSENSE")
		e.handleLine("")
		if e.Status() != before {
			t.Error("expected unrecognized lines to leave status unchanged")
		}
	})
}
