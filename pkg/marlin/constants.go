// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

// Package marlin implements the line-numbered, checksummed serial command
// protocol spoken by Marlin and Marlin-derived 3D printer firmwares.
//
// The package provides command framing and sanitizing, classification of
// received lines, temperature report parsing, and a CommandManager that
// drives the request/response cycle with acknowledgement gating and resend
// recovery over a duplex byte stream.
package marlin

// Protocol tokens (ASCII, newline-terminated lines, case-sensitive)
const (
	AcknowledgementToken = "ok"
	StartupToken         = "start"
	ResendPrefix         = "Resend:"
	ErrorPrefix          = "Error:"
	UnknownCommandPrefix = "echo:Unknown Command:"
	SettingsEchoPrefix   = "echo:"

	// KilledMessage is the remainder of an Error: line that indicates the
	// firmware has halted and will no longer accept commands.
	KilledMessage = "Printer halted. kill() called!"

	// FirmwareInfoPrefix starts the M115 response line.
	FirmwareInfoPrefix = "FIRMWARE_NAME:"

	// CapabilityPrefix starts the M115 capability advertisement lines.
	CapabilityPrefix = "Cap:"
)

// Well-known commands used by the command manager and the printer driver.
const (
	CommandSetLineNumber      = "M110"
	CommandReportTemperatures = "M105"
	CommandAutoReportTemp     = "M155"
	CommandFirmwareInfo       = "M115"
	CommandReportSettings     = "M503"

	CommandSetHotendTemp  = "M104"
	CommandWaitHotendTemp = "M109"
	CommandSetBedTemp     = "M140"
	CommandWaitBedTemp    = "M190"
	CommandSetFanSpeed    = "M106"

	// CommandEmergencyStop is honored out of band by firmwares advertising
	// CapabilityEmergencyParser.
	CommandEmergencyStop = "M112"
)

// Capability flags advertised by M115 "Cap:" lines.
const (
	CapabilityAutoReportTemp  = "AUTOREPORT_TEMP"
	CapabilityEmergencyParser = "EMERGENCY_PARSER"
)

// MaxLineNumber is the largest line number transmitted in a frame. Marlin
// parses line numbers as a signed 32-bit integer, so the counter is reset
// to zero (via M110) before it would exceed this value.
const MaxLineNumber uint64 = 1<<31 - 1
