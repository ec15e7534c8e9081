package ardop

import (
	"fmt"
	"strings"

	"github.com/ssdigi/ssdigid/pkg/config"
)

func boolWord(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// InitCommands is the sequence sent over the control channel right after
// it connects. Order matters: the engine rejects session parameters
// before INITIALIZE.
func InitCommands(station config.StationConfig, mcfg config.ModemConfig) []string {
	cmds := []string{
		"INITIALIZE",
		fmt.Sprintf("MYCALL %s", strings.ToUpper(station.Callsign)),
	}
	if station.Grid != "" {
		cmds = append(cmds, fmt.Sprintf("GRIDSQUARE %s", station.Grid))
	}
	cmds = append(cmds,
		fmt.Sprintf("PROTOCOLMODE %s", strings.ToUpper(mcfg.ProtocolMode)),
		fmt.Sprintf("ARQBW %d%s", mcfg.Bandwidth, strings.ToUpper(mcfg.ARQBWMode)),
	)
	return cmds
}

// HostCommands builds the startup command list passed to the engine with
// -H. LISTEN always comes first so the engine starts in receive mode.
func HostCommands(station config.StationConfig, mcfg config.ModemConfig) []string {
	cmds := []string{"LISTEN"}

	if mcfg.Bandwidth > 0 {
		cmds = append(cmds, fmt.Sprintf("ARQBW %d%s", mcfg.Bandwidth, strings.ToUpper(mcfg.ARQBWMode)))
	}
	if mcfg.CallBW != "" {
		cmds = append(cmds, fmt.Sprintf("CALLBW %s", strings.ToUpper(mcfg.CallBW)))
	}

	protocolMode := strings.ToUpper(mcfg.ProtocolMode)
	cmds = append(cmds,
		fmt.Sprintf("PROTOCOLMODE %s", protocolMode),
		fmt.Sprintf("ARQTIMEOUT %d", mcfg.ARQTimeout),
	)

	if station.Callsign != "" {
		cmds = append(cmds, fmt.Sprintf("MYCALL %s", strings.ToUpper(station.Callsign)))
	}
	if station.Grid != "" {
		cmds = append(cmds, fmt.Sprintf("GRIDSQUARE %s", station.Grid))
	}

	if protocolMode == "FEC" {
		cmds = append(cmds,
			fmt.Sprintf("FECMODE %s", mcfg.FECMode),
			fmt.Sprintf("FECRPT %d", mcfg.FECRepeats),
		)
		if mcfg.FECID {
			cmds = append(cmds, "FECID TRUE")
		}
	}

	cmds = append(cmds,
		fmt.Sprintf("LEADER %d", mcfg.Leader),
		fmt.Sprintf("TRAILER %d", mcfg.Trailer),
		fmt.Sprintf("SQUELCH %d", mcfg.Squelch),
		fmt.Sprintf("BUSYDET %d", mcfg.BusyDet),
		fmt.Sprintf("DRIVELEVEL %d", mcfg.DriveLevel),
		fmt.Sprintf("TUNINGRANGE %d", mcfg.TuningRange),
		fmt.Sprintf("AUTOBREAK %s", boolWord(mcfg.AutoBreak)),
		fmt.Sprintf("BUSYBLOCK %s", boolWord(mcfg.BusyBlock)),
		fmt.Sprintf("CWID %s", boolWord(mcfg.CWID)),
		fmt.Sprintf("FSKONLY %s", boolWord(mcfg.FSKOnly)),
		fmt.Sprintf("USE600MODES %s", boolWord(mcfg.Use600Modes)),
		fmt.Sprintf("FASTSTART %s", boolWord(mcfg.FastStart)),
	)

	if mcfg.ExtraDelay > 0 {
		cmds = append(cmds, fmt.Sprintf("EXTRADELAY %d", mcfg.ExtraDelay))
	}

	cmds = append(cmds,
		fmt.Sprintf("CMDTRACE %s", boolWord(mcfg.CmdTrace)),
		fmt.Sprintf("CONSOLELOG %d", mcfg.ConsoleLog),
	)

	for _, extra := range strings.Split(mcfg.ExtraCommands, ";") {
		if extra = strings.TrimSpace(extra); extra != "" {
			cmds = append(cmds, extra)
		}
	}

	return cmds
}

// HostCommandString joins the startup commands the way the engine's -H
// flag expects them.
func HostCommandString(station config.StationConfig, mcfg config.ModemConfig) string {
	return strings.Join(HostCommands(station, mcfg), ";")
}

// EngineArgs assembles the argument list for launching the engine
// binary: PTT flags, log directory, host commands, then the command port
// (the engine derives the data port from it).
func EngineArgs(station config.StationConfig, mcfg config.ModemConfig) []string {
	var args []string

	ptt := mcfg.PTT
	switch strings.ToUpper(ptt.Method) {
	case "RTS":
		if ptt.Port != "" {
			args = append(args, "-p", fmt.Sprintf("%s:%d", ptt.Port, ptt.Baud))
		}
	case "CAT":
		if ptt.Port != "" && ptt.KeyString != "" && ptt.UnkeyString != "" {
			args = append(args,
				"-c", fmt.Sprintf("%s:%d", ptt.Port, ptt.Baud),
				"--keystring", ptt.KeyString,
				"--unkeystring", ptt.UnkeyString,
			)
		}
	case "GPIO":
		if ptt.GPIOPin > 0 {
			args = append(args, "--gpio", fmt.Sprintf("%d", ptt.GPIOPin))
		}
	case "CM108":
		if ptt.CM108Device != "" {
			args = append(args, "--cm108", ptt.CM108Device)
		}
	}
	// VOX and anything unrecognized need no PTT arguments.

	if mcfg.LogDir != "" {
		args = append(args, "--logdir", mcfg.LogDir)
	}

	if hostCmds := HostCommandString(station, mcfg); hostCmds != "" {
		args = append(args, "-H", hostCmds)
	}

	args = append(args, fmt.Sprintf("%d", mcfg.CommandPort))

	return args
}
