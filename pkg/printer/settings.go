// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package printer

import (
	"strings"

	"github.com/256dpi/gcode"
)

// MachineLimits holds the per-axis limits echoed by the firmware's settings
// report (M503): M201 maximum acceleration and M203 maximum feedrate.
type MachineLimits struct {
	MaxAcceleration map[string]float64
	MaxFeedrate     map[string]float64
}

func (l MachineLimits) clone() MachineLimits {
	out := MachineLimits{}
	if l.MaxAcceleration != nil {
		out.MaxAcceleration = make(map[string]float64, len(l.MaxAcceleration))
		for axis, v := range l.MaxAcceleration {
			out.MaxAcceleration[axis] = v
		}
	}
	if l.MaxFeedrate != nil {
		out.MaxFeedrate = make(map[string]float64, len(l.MaxFeedrate))
		for axis, v := range l.MaxFeedrate {
			out.MaxFeedrate[axis] = v
		}
	}
	return out
}

// parseSettingsLine folds one settings-report echo line into the limits.
// Returns false when the line is not a recognized settings echo.
func (l *MachineLimits) parseSettingsLine(text string) bool {
	trimmed := strings.TrimSpace(strings.TrimPrefix(text, "echo:"))
	if !strings.HasPrefix(trimmed, "M") {
		return false
	}

	line, err := gcode.ParseLine(trimmed)
	if err != nil || len(line.Codes) == 0 {
		return false
	}

	head := line.Codes[0]
	if head.Letter != "M" {
		return false
	}

	var target *map[string]float64
	switch int(head.Value) {
	case 201:
		target = &l.MaxAcceleration
	case 203:
		target = &l.MaxFeedrate
	default:
		return false
	}

	if *target == nil {
		*target = make(map[string]float64, 4)
	}
	for _, code := range line.Codes[1:] {
		switch code.Letter {
		case "X", "Y", "Z", "E":
			(*target)[code.Letter] = code.Value
		}
	}
	return true
}
