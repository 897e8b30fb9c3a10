// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

// Package gcodefile preprocesses print files before streaming: one forward
// scan extracts slicer metadata (flavor, total estimated time, per-position
// time checkpoints, material usage), after which the file can be enumerated
// line by line with comments stripped.
package gcodefile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Flavor identifies the slicer output convention of a file.
type Flavor string

const (
	// FlavorMarlin is ordinary G-code carrying its own temperature and
	// priming commands.
	FlavorMarlin Flavor = "Marlin"

	// FlavorUltiGCode carries no temperature commands; the driver has to
	// synthesize heating and priming from configured material settings.
	FlavorUltiGCode Flavor = "UltiGCode"
)

// MaterialUnit distinguishes how a slicer reported material usage.
type MaterialUnit int

const (
	// UnitLength is filament length in millimeters.
	UnitLength MaterialUnit = iota

	// UnitVolume is filament volume in cubic millimeters.
	UnitVolume
)

// MaterialAmount is the reported material usage for one extruder.
type MaterialAmount struct {
	Quantity float64
	Unit     MaterialUnit
}

// ProgressStep is one (byte position, estimated time remaining) checkpoint.
// Steps are strictly increasing by position and immutable after
// preprocessing.
type ProgressStep struct {
	BytePosition  int64
	TimeRemaining float64
}

// File is the result of preprocessing one print file.
type File struct {
	path string
	size int64

	Flavor    Flavor
	TotalTime float64
	Steps     []ProgressStep
	Materials []MaterialAmount
}

// Slicer metadata conventions. Each is optional and independent; a file
// with none of them simply yields zero checkpoints.
var (
	flavorPattern      = regexp.MustCompile(`^;\s*FLAVOR\s*:\s*(\S+)`)
	timePattern        = regexp.MustCompile(`^;\s*TIME\s*:\s*(\d+(?:\.\d+)?)`)
	printTimePattern   = regexp.MustCompile(`^;\s*PRINT\.TIME\s*:\s*(\d+(?:\.\d+)?)`)
	timeElapsedPattern = regexp.MustCompile(`^;\s*TIME_ELAPSED\s*:\s*(\d+(?:\.\d+)?)`)
	materialPattern    = regexp.MustCompile(`^;\s*MATERIAL(2?)\s*:\s*(\d+(?:\.\d+)?)`)
	filamentPattern    = regexp.MustCompile(`(?i)^;\s*filament used\s*[:=]\s*(\d+(?:\.\d+)?)\s*m`)
	estimatedPattern   = regexp.MustCompile(`(?i)^;\s*estimated printing time.*[:=]\s*(.+)$`)
	durationPattern    = regexp.MustCompile(`(\d+)\s*([dhms])`)
)

// Preprocess scans path once and extracts whatever slicer metadata is
// present. The file itself is left untouched for later enumeration.
func Preprocess(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open print file: %w", err)
	}
	defer f.Close()

	file := &File{path: path, Flavor: FlavorMarlin}

	// Checkpoints are collected as elapsed seconds first; remaining time is
	// derived once the total is known, since slicers are inconsistent about
	// where they place the total.
	type elapsedStep struct {
		position int64
		elapsed  float64
	}
	var elapsed []elapsedStep

	r := bufio.NewReader(f)
	var pos int64
	for {
		line, err := r.ReadString('\n')
		pos += int64(len(line))
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("scan print file: %w", err)
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":

		case !strings.HasPrefix(trimmed, ";"):
			// Command lines carry no metadata; keep scanning for trailing
			// TIME_ELAPSED checkpoints.

		default:
			file.scanMetadataLine(trimmed, pos, func(e float64) {
				elapsed = append(elapsed, elapsedStep{position: pos, elapsed: e})
			})
		}

		if err == io.EOF {
			break
		}
	}
	file.size = pos

	if file.TotalTime == 0 && len(elapsed) > 0 {
		file.TotalTime = elapsed[len(elapsed)-1].elapsed
	}

	var lastPos int64 = -1
	for _, e := range elapsed {
		if e.position <= lastPos {
			continue
		}
		remaining := file.TotalTime - e.elapsed
		if remaining < 0 {
			remaining = 0
		}
		file.Steps = append(file.Steps, ProgressStep{BytePosition: e.position, TimeRemaining: remaining})
		lastPos = e.position
	}

	return file, nil
}

// scanMetadataLine matches one comment line against the known slicer
// conventions. Unrecognized comments are simply skipped.
func (f *File) scanMetadataLine(line string, pos int64, checkpoint func(float64)) {
	if m := flavorPattern.FindStringSubmatch(line); m != nil {
		if strings.EqualFold(m[1], string(FlavorUltiGCode)) {
			f.Flavor = FlavorUltiGCode
		}
		return
	}
	if m := timeElapsedPattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			checkpoint(v)
		}
		return
	}
	if m := timePattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && f.TotalTime == 0 {
			f.TotalTime = v
		}
		return
	}
	if m := printTimePattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && f.TotalTime == 0 {
			f.TotalTime = v
		}
		return
	}
	if m := materialPattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[2], 64); err == nil && v > 0 {
			f.Materials = append(f.Materials, MaterialAmount{Quantity: v, Unit: UnitVolume})
		}
		return
	}
	if m := filamentPattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			// Reported in meters, stored in millimeters.
			f.Materials = append(f.Materials, MaterialAmount{Quantity: v * 1000, Unit: UnitLength})
		}
		return
	}
	if m := estimatedPattern.FindStringSubmatch(line); m != nil {
		if v := parseDuration(m[1]); v > 0 && f.TotalTime == 0 {
			f.TotalTime = v
		}
	}
}

// parseDuration parses "1d 2h 3m 4s" style durations into seconds.
func parseDuration(s string) float64 {
	var total float64
	for _, m := range durationPattern.FindAllStringSubmatch(s, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		switch m[2] {
		case "d":
			total += v * 86400
		case "h":
			total += v * 3600
		case "m":
			total += v * 60
		case "s":
			total += v
		}
	}
	return total
}

// Size returns the file size in bytes, as measured during preprocessing.
func (f *File) Size() int64 {
	return f.size
}

// Path returns the on-disk path of the preprocessed file.
func (f *File) Path() string {
	return f.path
}
