// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

// Package printer implements the printer driver: the lifecycle state
// machine that owns one command manager per connection, runs the receive
// and telemetry loops, and orchestrates print execution from a
// preprocessed G-code file.
package printer

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/3DCloud/Client-sub000/pkg/marlin"
)

// ErrNotImplemented is returned by operations the driver deliberately does
// not support yet (pause/resume).
var ErrNotImplemented = errors.New("not implemented")

// ErrInvalidState is returned when an operation is requested in a state
// that does not allow it.
var ErrInvalidState = errors.New("operation not valid in current state")

// Printer is the lifecycle contract consumed by the external controller.
// Additional firmware dialects are additional implementations of this
// interface.
type Printer interface {
	// Connect opens the transport and runs the startup handshake, retrying
	// transient failures up to a fixed budget.
	Connect(ctx context.Context) error

	// Disconnect cancels all background work, disposes the connection and
	// settles in the disconnected state.
	Disconnect(ctx context.Context) error

	// SendCommand sends one raw command and waits for its acknowledgement.
	SendCommand(ctx context.Context, command string) error

	// SendCommandBlock sends a newline-separated block of commands in order.
	SendCommandBlock(ctx context.Context, block string) error

	// StartPrint persists the stream locally and launches the print task,
	// returning without waiting for completion.
	StartPrint(ctx context.Context, r io.Reader) error

	// AbortPrint cancels the active print attempt and restores the ready
	// state.
	AbortPrint(ctx context.Context) error

	// Pause and Resume are reserved lifecycle transitions; see ErrNotImplemented.
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error

	// State returns the current lifecycle state snapshot.
	State() State

	// Temperatures returns the latest temperature snapshot.
	Temperatures() marlin.PrinterTemperatures

	// Progress returns the current print progress fraction in [0,1].
	Progress() float64

	// TimeRemaining returns the pace-adjusted print time remaining.
	TimeRemaining() time.Duration
}
