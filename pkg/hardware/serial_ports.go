// Package hardware exposes the host's serial ports for PTT and CAT
// configuration.
package hardware

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial"
)

// SerialPort describes one candidate PTT/CAT device.
type SerialPort struct {
	Device string `json:"device"`
	USB    bool   `json:"usb"`
}

// ListSerialPorts enumerates the host's serial devices, USB adapters
// first since those are almost always the rig interface.
func ListSerialPorts() ([]SerialPort, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := make([]SerialPort, 0, len(names))
	for _, name := range names {
		ports = append(ports, SerialPort{
			Device: name,
			USB:    isUSBSerial(name),
		})
	}

	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].USB != ports[j].USB {
			return ports[i].USB
		}
		return ports[i].Device < ports[j].Device
	})
	return ports, nil
}

func isUSBSerial(device string) bool {
	return strings.Contains(device, "ttyUSB") ||
		strings.Contains(device, "ttyACM") ||
		strings.Contains(device, "usbserial") ||
		strings.Contains(device, "usbmodem")
}
