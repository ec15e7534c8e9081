package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ssdigi/ssdigid/pkg/client"
)

var (
	addr = flag.String("addr", "http://127.0.0.1:8080", "Daemon API address")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		showHelp()
		return
	}

	c := client.NewAPIClient(*addr)

	var (
		result map[string]interface{}
		err    error
	)

	switch strings.ToLower(args[0]) {
	case "status":
		result, err = c.Status()
	case "connect":
		result, err = c.Connect()
	case "disconnect":
		result, err = c.Disconnect()
	case "ping":
		err = c.Ping()
		if err == nil {
			fmt.Println("ping sent")
			return
		}
	case "send":
		if len(args) < 2 {
			fail("send requires a payload argument")
		}
		result, err = c.SendPayload(strings.Join(args[1:], " "))
	case "bandwidth":
		if len(args) < 2 {
			fail("bandwidth requires a value in Hz")
		}
		hz, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			fail("bandwidth must be an integer: %v", convErr)
		}
		err = c.SetBandwidth(hz)
		if err == nil {
			fmt.Printf("bandwidth set to %d Hz\n", hz)
			return
		}
	case "center":
		if len(args) < 2 {
			fail("center requires a value in Hz")
		}
		hz, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			fail("center frequency must be an integer: %v", convErr)
		}
		err = c.SetCenterFrequency(hz)
		if err == nil {
			fmt.Printf("center frequency set to %d Hz\n", hz)
			return
		}
	case "mode":
		if len(args) < 2 {
			fail("mode requires a modem mode name")
		}
		err = c.SwitchMode(args[1])
		if err == nil {
			fmt.Printf("mode switched to %s\n", args[1])
			return
		}
	case "radio":
		result, err = c.Radio()
	case "frequency":
		if len(args) < 2 {
			fail("frequency requires a value in Hz")
		}
		hz, convErr := strconv.ParseInt(args[1], 10, 64)
		if convErr != nil {
			fail("frequency must be an integer: %v", convErr)
		}
		err = c.SetFrequency(hz)
		if err == nil {
			fmt.Printf("frequency set to %d Hz\n", hz)
			return
		}
	case "ptt":
		if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
			fail("ptt requires 'on' or 'off'")
		}
		err = c.SetPTT(args[1] == "on")
		if err == nil {
			fmt.Printf("ptt %s\n", args[1])
			return
		}
	case "events":
		limit := 20
		eventType := ""
		if len(args) > 1 {
			if n, convErr := strconv.Atoi(args[1]); convErr == nil {
				limit = n
			} else {
				eventType = args[1]
			}
		}
		result, err = c.Events(limit, eventType)
	case "telemetry":
		result, err = c.Telemetry()
	case "ports":
		result, err = c.SerialPorts()
	case "help":
		showHelp()
		return
	default:
		fail("unknown command %q (try 'help')", args[0])
	}

	if err != nil {
		fail("%v", err)
	}

	pretty, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(pretty))
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func showHelp() {
	fmt.Println("ssdigictl - ssdigid control tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command> [args]\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -addr <url>       Daemon API address (default: http://127.0.0.1:8080)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status            Get daemon status")
	fmt.Println("  connect           Bring the modem up")
	fmt.Println("  disconnect        Tear the modem down")
	fmt.Println("  ping              Send a self ping over the air")
	fmt.Println("  send <payload>    Queue payload bytes for transmission")
	fmt.Println("  bandwidth <hz>    Set the ARQ bandwidth")
	fmt.Println("  center <hz>       Set the audio passband center frequency")
	fmt.Println("  mode <name>       Switch modem implementation")
	fmt.Println("  radio             Get cached rig state")
	fmt.Println("  frequency <hz>    Tune the rig")
	fmt.Println("  ptt on|off        Key or unkey the transmitter")
	fmt.Println("  events [n|type]   Show recent session events")
	fmt.Println("  telemetry         Show the latest spectrum snapshot")
	fmt.Println("  ports             List serial ports on the daemon host")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s status\n", os.Args[0])
	fmt.Printf("  %s bandwidth 2000\n", os.Args[0])
	fmt.Printf("  %s events PEER_LINKED\n", os.Args[0])
}
