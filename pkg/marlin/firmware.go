// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package marlin

import (
	"regexp"
	"strconv"
	"strings"
)

// FirmwareInfo holds the fields parsed from an M115 response. All fields
// are best-effort: anything the firmware omits stays zero.
type FirmwareInfo struct {
	Name          string
	MachineType   string
	UUID          string
	ExtruderCount int
	Capabilities  map[string]bool
}

// Supports reports whether the firmware advertised the named capability
// with value 1.
func (fi FirmwareInfo) Supports(capability string) bool {
	return fi.Capabilities[capability]
}

// firmwareInfoKeys are the uppercase field markers Marlin concatenates into
// its single FIRMWARE_NAME response line.
var firmwareInfoKeys = regexp.MustCompile(`(?:^|\s)(FIRMWARE_NAME|SOURCE_CODE_URL|PROTOCOL_VERSION|MACHINE_TYPE|EXTRUDER_COUNT|UUID):`)

// ParseFirmwareInfo parses a "FIRMWARE_NAME:..." line. The second return
// value is false when the line is not a firmware info line at all; field
// values that fail to parse are simply left unset.
func ParseFirmwareInfo(line string) (FirmwareInfo, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, FirmwareInfoPrefix) {
		return FirmwareInfo{}, false
	}

	info := FirmwareInfo{Capabilities: make(map[string]bool)}

	locs := firmwareInfoKeys.FindAllStringSubmatchIndex(trimmed, -1)
	for i, loc := range locs {
		key := trimmed[loc[2]:loc[3]]
		end := len(trimmed)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		value := strings.TrimSpace(trimmed[loc[1]:end])

		switch key {
		case "FIRMWARE_NAME":
			info.Name = value
		case "MACHINE_TYPE":
			info.MachineType = value
		case "UUID":
			info.UUID = value
		case "EXTRUDER_COUNT":
			if n, err := strconv.Atoi(value); err == nil {
				info.ExtruderCount = n
			}
		}
	}

	return info, true
}

// ParseCapability parses a "Cap:NAME:0|1" advertisement line. The third
// return value is false when the line is not a capability line.
func ParseCapability(line string) (name string, enabled bool, ok bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, CapabilityPrefix) {
		return "", false, false
	}

	rest := trimmed[len(CapabilityPrefix):]
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", false, false
	}

	name = strings.TrimSpace(rest[:i])
	value := strings.TrimSpace(rest[i+1:])
	if name == "" || (value != "0" && value != "1") {
		return "", false, false
	}

	return name, value == "1", true
}
