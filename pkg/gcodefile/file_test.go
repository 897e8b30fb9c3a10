// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package gcodefile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.gcode")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	return path
}

func TestPreprocess_CuraMarlinFlavor(t *testing.T) {
	content := ";FLAVOR:Marlin\n" +
		";TIME:3600\n" +
		";Filament used: 1.5m\n" +
		"M104 S210\n" +
		"G28\n" +
		";TIME_ELAPSED:600\n" +
		"G1 X10 Y10\n" +
		";TIME_ELAPSED:1800\n" +
		"G1 X20 Y20\n" +
		";TIME_ELAPSED:3600\n"

	file, err := Preprocess(writeTestFile(t, content))
	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}

	if file.Flavor != FlavorMarlin {
		t.Errorf("Flavor = %q, want %q", file.Flavor, FlavorMarlin)
	}
	if file.TotalTime != 3600 {
		t.Errorf("TotalTime = %v, want 3600", file.TotalTime)
	}

	if len(file.Steps) != 3 {
		t.Fatalf("len(Steps) = %d, want 3", len(file.Steps))
	}
	wantRemaining := []float64{3000, 1800, 0}
	var lastPos int64 = -1
	for i, step := range file.Steps {
		if step.TimeRemaining != wantRemaining[i] {
			t.Errorf("Steps[%d].TimeRemaining = %v, want %v", i, step.TimeRemaining, wantRemaining[i])
		}
		if step.BytePosition <= lastPos {
			t.Errorf("Steps[%d].BytePosition = %d, not strictly increasing", i, step.BytePosition)
		}
		lastPos = step.BytePosition
	}

	if len(file.Materials) != 1 {
		t.Fatalf("len(Materials) = %d, want 1", len(file.Materials))
	}
	if file.Materials[0].Unit != UnitLength || file.Materials[0].Quantity != 1500 {
		t.Errorf("Materials[0] = %+v, want 1500 mm length", file.Materials[0])
	}

	if file.Size() != int64(len(content)) {
		t.Errorf("Size() = %d, want %d", file.Size(), len(content))
	}
}

func TestPreprocess_UltiGCodeFlavor(t *testing.T) {
	content := ";FLAVOR:UltiGCode\n" +
		";TIME:7200\n" +
		";MATERIAL:11364\n" +
		";MATERIAL2:500\n" +
		"G1 X10\n" +
		";TIME_ELAPSED:3600\n" +
		"G1 X20\n" +
		";TIME_ELAPSED:7200\n"

	file, err := Preprocess(writeTestFile(t, content))
	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}

	if file.Flavor != FlavorUltiGCode {
		t.Errorf("Flavor = %q, want %q", file.Flavor, FlavorUltiGCode)
	}
	if len(file.Materials) != 2 {
		t.Fatalf("len(Materials) = %d, want 2", len(file.Materials))
	}
	for i, want := range []float64{11364, 500} {
		if file.Materials[i].Unit != UnitVolume || file.Materials[i].Quantity != want {
			t.Errorf("Materials[%d] = %+v, want %v volume", i, file.Materials[i], want)
		}
	}
}

func TestPreprocess_TotalTimeFromLastElapsed(t *testing.T) {
	// No TIME header: the total falls back to the last elapsed checkpoint.
	content := "G28\n" +
		";TIME_ELAPSED:100\n" +
		"G1 X10\n" +
		";TIME_ELAPSED:400\n"

	file, err := Preprocess(writeTestFile(t, content))
	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}

	if file.TotalTime != 400 {
		t.Errorf("TotalTime = %v, want 400", file.TotalTime)
	}
	if len(file.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(file.Steps))
	}
	if file.Steps[0].TimeRemaining != 300 {
		t.Errorf("Steps[0].TimeRemaining = %v, want 300", file.Steps[0].TimeRemaining)
	}
	if file.Steps[1].TimeRemaining != 0 {
		t.Errorf("Steps[1].TimeRemaining = %v, want 0", file.Steps[1].TimeRemaining)
	}
}

func TestPreprocess_EstimatedPrintingTimeHeader(t *testing.T) {
	content := "; estimated printing time (normal mode) = 1d 2h 3m 4s\n" +
		"G28\n"

	file, err := Preprocess(writeTestFile(t, content))
	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}

	want := float64(1*86400 + 2*3600 + 3*60 + 4)
	if file.TotalTime != want {
		t.Errorf("TotalTime = %v, want %v", file.TotalTime, want)
	}
}

func TestPreprocess_EmptyFile(t *testing.T) {
	file, err := Preprocess(writeTestFile(t, ""))
	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	if file.Flavor != FlavorMarlin {
		t.Errorf("Flavor = %q, want default %q", file.Flavor, FlavorMarlin)
	}
	if len(file.Steps) != 0 || file.TotalTime != 0 {
		t.Errorf("expected no metadata, got %d steps, total %v", len(file.Steps), file.TotalTime)
	}
}

func TestPreprocess_MissingFile(t *testing.T) {
	if _, err := Preprocess(filepath.Join(t.TempDir(), "absent.gcode")); err == nil {
		t.Error("Preprocess of a missing file succeeded")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1d 2h 3m 4s", 93784},
		{"45m", 2700},
		{"2h30m", 9000},
		{"10s", 10},
		{"", 0},
		{"soon", 0},
	}

	for _, tt := range tests {
		if got := parseDuration(tt.in); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
