// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package printer

import "testing"

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateReady, "ready"},
		{StateDownloading, "downloading"},
		{StatePrinting, "printing"},
		{StateHeating, "heating"},
		{StatePausing, "pausing"},
		{StatePaused, "paused"},
		{StateCanceling, "canceling"},
		{StateDisconnecting, "disconnecting"},
		{State(99), "invalid"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStatePredicates(t *testing.T) {
	tests := []struct {
		state         State
		wantConnected bool
		wantBusy      bool
		wantPrinting  bool
	}{
		{StateDisconnected, false, false, false},
		{StateConnecting, false, false, false},
		{StateReady, true, false, false},
		{StateDownloading, true, true, true},
		{StatePrinting, true, true, true},
		{StateHeating, true, true, true},
		{StatePausing, false, false, true},
		{StatePaused, false, false, true},
		{StateCanceling, true, true, false},
		{StateDisconnecting, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.Connected(); got != tt.wantConnected {
				t.Errorf("Connected() = %v, want %v", got, tt.wantConnected)
			}
			if got := tt.state.Busy(); got != tt.wantBusy {
				t.Errorf("Busy() = %v, want %v", got, tt.wantBusy)
			}
			if got := tt.state.printing(); got != tt.wantPrinting {
				t.Errorf("printing() = %v, want %v", got, tt.wantPrinting)
			}
		})
	}
}
