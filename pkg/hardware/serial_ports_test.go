package hardware

import "testing"

func TestIsUSBSerial(t *testing.T) {
	tests := []struct {
		device string
		want   bool
	}{
		{"/dev/ttyUSB0", true},
		{"/dev/ttyACM1", true},
		{"/dev/cu.usbserial-1420", true},
		{"/dev/cu.usbmodem14101", true},
		{"/dev/ttyS0", false},
		{"COM3", false},
	}
	for _, tt := range tests {
		if got := isUSBSerial(tt.device); got != tt.want {
			t.Errorf("isUSBSerial(%q) = %v, want %v", tt.device, got, tt.want)
		}
	}
}

func TestListSerialPorts(t *testing.T) {
	// Enumeration must not fail even on hosts with no serial hardware.
	ports, err := ListSerialPorts()
	if err != nil {
		t.Skipf("serial enumeration unavailable on this host: %v", err)
	}
	for i := 1; i < len(ports); i++ {
		if !ports[i-1].USB && ports[i].USB {
			t.Error("expected USB ports to sort first")
		}
	}
}
