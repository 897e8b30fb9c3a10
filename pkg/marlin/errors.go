// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package marlin

import "errors"

// Sentinel errors returned by the CommandManager. Callers are expected to
// match them with errors.Is so that wrapped detail text can be carried
// alongside.
var (
	// ErrNotReady is returned when a command is sent before the startup
	// handshake has completed.
	ErrNotReady = errors.New("startup handshake has not completed")

	// ErrDisposed is returned to any waiter blocked on the manager when
	// Dispose tears it down.
	ErrDisposed = errors.New("command manager disposed")

	// ErrStartupTimeout is returned by AwaitStartup when the firmware does
	// not produce its startup banner, or does not acknowledge the
	// line-number reset, before the deadline.
	ErrStartupTimeout = errors.New("timed out waiting for firmware startup")

	// ErrConnectionLost is returned when the underlying byte stream fails.
	ErrConnectionLost = errors.New("connection lost")

	// ErrProtocolViolation is returned when the firmware requests a resend
	// of a line number other than the one just transmitted. The line number
	// protocol is desynchronized and the connection cannot be recovered.
	ErrProtocolViolation = errors.New("line number protocol violation")

	// ErrPrinterHalted is returned when the firmware reports a fatal kill()
	// condition, or emits a startup banner on an established connection
	// (meaning it rebooted underneath us).
	ErrPrinterHalted = errors.New("printer halted")
)
