// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package printer

import (
	"context"
	"fmt"
	"io"
)

// RequestKind identifies an externally submitted printer request.
type RequestKind int

const (
	RequestReconnect RequestKind = iota
	RequestStartPrint
	RequestAbortPrint
	RequestSendCommand
)

// String returns the request kind's display name.
func (k RequestKind) String() string {
	switch k {
	case RequestReconnect:
		return "reconnect"
	case RequestStartPrint:
		return "start_print"
	case RequestAbortPrint:
		return "abort_print"
	case RequestSendCommand:
		return "send_command"
	default:
		return "invalid"
	}
}

// AckFunc acknowledges a request's completion with its result.
type AckFunc func(error)

// Request is one externally submitted operation. Command is used by
// RequestSendCommand, File by RequestStartPrint; Ack may be nil.
type Request struct {
	Kind    RequestKind
	Command string
	File    io.Reader
	Ack     AckFunc
}

// HandleRequest dispatches one request against the driver and acknowledges
// it exactly once with the result.
func (p *MarlinPrinter) HandleRequest(ctx context.Context, req Request) {
	var err error
	switch req.Kind {
	case RequestReconnect:
		err = p.reconnect(ctx)
	case RequestStartPrint:
		err = p.StartPrint(ctx, req.File)
	case RequestAbortPrint:
		err = p.AbortPrint(ctx)
	case RequestSendCommand:
		err = p.SendCommandBlock(ctx, req.Command)
	default:
		err = fmt.Errorf("unknown request kind %d", req.Kind)
	}

	if err != nil {
		p.log.WithError(err).WithField("request", req.Kind).Warn("request failed")
	}
	if req.Ack != nil {
		req.Ack(err)
	}
}

// reconnect tears down any existing connection before dialing again.
func (p *MarlinPrinter) reconnect(ctx context.Context) error {
	if err := p.Disconnect(ctx); err != nil {
		return err
	}
	return p.Connect(ctx)
}
