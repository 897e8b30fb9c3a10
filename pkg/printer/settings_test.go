// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package printer

import "testing"

func TestMachineLimits_ParseSettingsLine(t *testing.T) {
	var limits MachineLimits

	if !limits.parseSettingsLine("echo:M201 X500.00 Y500.00 Z100.00 E5000.00") {
		t.Fatal("M201 echo not recognized")
	}
	if !limits.parseSettingsLine("echo:M203 X500.00 Y500.00 Z10.00 E50.00") {
		t.Fatal("M203 echo not recognized")
	}

	if got := limits.MaxAcceleration["Z"]; got != 100 {
		t.Errorf("MaxAcceleration[Z] = %v, want 100", got)
	}
	if got := limits.MaxAcceleration["E"]; got != 5000 {
		t.Errorf("MaxAcceleration[E] = %v, want 5000", got)
	}
	if got := limits.MaxFeedrate["X"]; got != 500 {
		t.Errorf("MaxFeedrate[X] = %v, want 500", got)
	}
	if got := limits.MaxFeedrate["E"]; got != 50 {
		t.Errorf("MaxFeedrate[E] = %v, want 50", got)
	}
}

func TestMachineLimits_ParseSettingsLineRejectsOtherLines(t *testing.T) {
	var limits MachineLimits

	tests := []string{
		"echo:M92 X80.00 Y80.00 Z400.00 E93.00",
		"echo:; Maximum feedrates (units/s):",
		"ok",
		"T:210.00 /210.00",
		"",
	}
	for _, line := range tests {
		if limits.parseSettingsLine(line) {
			t.Errorf("parseSettingsLine(%q) = true, want false", line)
		}
	}

	if limits.MaxAcceleration != nil || limits.MaxFeedrate != nil {
		t.Errorf("limits mutated by unrecognized lines: %+v", limits)
	}
}

func TestMachineLimits_Clone(t *testing.T) {
	var limits MachineLimits
	limits.parseSettingsLine("echo:M201 X500 Y500")

	copied := limits.clone()
	copied.MaxAcceleration["X"] = 1

	if limits.MaxAcceleration["X"] != 500 {
		t.Errorf("clone shares storage: original X = %v, want 500", limits.MaxAcceleration["X"])
	}
}
