// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package marlin

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// readingPattern matches one "<sensor>:<current>/<target>" token. Marlin
// inserts whitespace around the slash depending on version, so the pattern
// tolerates it.
var readingPattern = regexp.MustCompile(`([A-Za-z@]+\d*):\s*(-?\d+(?:\.\d+)?)\s*/\s*(-?\d+(?:\.\d+)?)`)

// TemperatureReading is one sensor's reported current/target pair, in
// firmware-reported units.
type TemperatureReading struct {
	Sensor  string
	Current float64
	Target  float64
}

// PrinterTemperatures is a snapshot of all temperature sensors from one
// report line. Snapshots replace each other wholesale; fields are never
// merged across reports.
type PrinterTemperatures struct {
	// ActiveHotend is the unlabeled "T" reading for whichever hotend is
	// currently selected, when the firmware reports one.
	ActiveHotend *TemperatureReading

	// Hotends holds the "T0".."Tn" readings in first-appearance order. A
	// repeated sensor name replaces its earlier reading.
	Hotends []TemperatureReading

	// BuildPlate is the "B" reading, when a heated bed is present.
	BuildPlate *TemperatureReading
}

// ParseTemperatures extracts temperature sensor readings from one received
// line. It returns the snapshot and whether the line contained any
// recognized reading at all; lines with no match must leave the caller's
// cached temperatures unchanged.
//
// Recognized sensors are "B" (build plate), "T" (active hotend) and
// "T<n>" (a specific hotend). Anything else is logged and skipped so that
// reports from newer firmwares with additional sensors still parse.
func ParseTemperatures(line string, log *logrus.Entry) (PrinterTemperatures, bool) {
	var temps PrinterTemperatures

	matches := readingPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return temps, false
	}

	hotendIndex := make(map[string]int)
	matched := false

	for _, m := range matches {
		sensor := m[1]
		current, err1 := strconv.ParseFloat(m[2], 64)
		target, err2 := strconv.ParseFloat(m[3], 64)
		if err1 != nil || err2 != nil {
			continue
		}

		reading := TemperatureReading{Sensor: sensor, Current: current, Target: target}

		switch {
		case sensor == "B":
			temps.BuildPlate = &reading
			matched = true

		case sensor == "T":
			if temps.ActiveHotend == nil {
				temps.ActiveHotend = &reading
			}
			matched = true

		case strings.HasPrefix(sensor, "T") && isDigits(sensor[1:]):
			if i, seen := hotendIndex[sensor]; seen {
				temps.Hotends[i] = reading
			} else {
				hotendIndex[sensor] = len(temps.Hotends)
				temps.Hotends = append(temps.Hotends, reading)
			}
			matched = true

		default:
			if log != nil {
				log.WithField("sensor", sensor).Debug("ignoring unrecognized temperature sensor")
			}
		}
	}

	return temps, matched
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
