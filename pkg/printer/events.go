// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package printer

import "github.com/3DCloud/Client-sub000/pkg/marlin"

// PrintOutcome is how a print attempt ended. Each attempt produces exactly
// one outcome notification.
type PrintOutcome int

const (
	OutcomeSuccess PrintOutcome = iota
	OutcomeErrored
	OutcomeCanceled
)

// String returns the outcome's display name.
func (o PrintOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeErrored:
		return "errored"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "invalid"
	}
}

// PrintEvent reports the end of a print attempt. Err is set only for
// OutcomeErrored.
type PrintEvent struct {
	Outcome PrintOutcome
	Err     error
}

// Notifier receives state-change and print-event notifications from the
// driver. Implementations must not block: notifications are delivered
// synchronously from the driver's control flow.
type Notifier interface {
	StateChanged(old, new State)
	TemperaturesUpdated(temps marlin.PrinterTemperatures)
	PrintEvent(event PrintEvent)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) StateChanged(old, new State) {}

func (NopNotifier) TemperaturesUpdated(temps marlin.PrinterTemperatures) {}

func (NopNotifier) PrintEvent(event PrintEvent) {}
