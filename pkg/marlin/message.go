// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package marlin

import (
	"strconv"
	"strings"
)

// MessageKind identifies the protocol role of a received line.
type MessageKind int

const (
	// MessagePlain is any line that carries no protocol meaning: telemetry,
	// echo output, settings dumps, non-fatal error reports.
	MessagePlain MessageKind = iota

	// MessageStartup is the firmware's boot banner.
	MessageStartup

	// MessageAcknowledgement is an "ok" line releasing the next command.
	MessageAcknowledgement

	// MessageResendRequest asks for retransmission of a specific line.
	MessageResendRequest

	// MessageUnknownCommand is the firmware echoing a command it does not
	// implement.
	MessageUnknownCommand

	// MessageFatalError is an Error: line reporting that the firmware has
	// killed itself and requires a reset.
	MessageFatalError
)

// String returns a short name for the kind, for logs.
func (k MessageKind) String() string {
	switch k {
	case MessagePlain:
		return "plain"
	case MessageStartup:
		return "startup"
	case MessageAcknowledgement:
		return "ack"
	case MessageResendRequest:
		return "resend"
	case MessageUnknownCommand:
		return "unknown-command"
	case MessageFatalError:
		return "fatal"
	default:
		return "invalid"
	}
}

// Message is one classified line received from the firmware. Messages are
// transient: they are produced by Classify and consumed immediately.
type Message struct {
	Kind MessageKind

	// Text carries the line content. For Error: and echo:Unknown Command:
	// lines it is the remainder after the prefix; otherwise the trimmed line.
	Text string

	// Line is the requested line number for MessageResendRequest.
	Line uint64
}

// Classify inspects a trimmed received line and determines its protocol
// role. Classification order matters and is fixed: fatal errors, resend
// requests, acknowledgements, unknown-command echoes, startup banners, then
// plain text.
func Classify(line string) Message {
	trimmed := strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(trimmed, ErrorPrefix):
		text := strings.TrimSpace(trimmed[len(ErrorPrefix):])
		if text == KilledMessage {
			return Message{Kind: MessageFatalError, Text: text}
		}
		// Any other Error: line is recoverable and only informational.
		return Message{Kind: MessagePlain, Text: text}

	case strings.HasPrefix(trimmed, ResendPrefix):
		n, err := strconv.ParseUint(strings.TrimSpace(trimmed[len(ResendPrefix):]), 10, 64)
		if err != nil {
			return Message{Kind: MessagePlain, Text: trimmed}
		}
		return Message{Kind: MessageResendRequest, Text: trimmed, Line: n}

	case trimmed == AcknowledgementToken || strings.HasPrefix(trimmed, AcknowledgementToken+" "):
		return Message{Kind: MessageAcknowledgement, Text: strings.TrimSpace(trimmed[len(AcknowledgementToken):])}

	case strings.HasPrefix(trimmed, UnknownCommandPrefix):
		return Message{Kind: MessageUnknownCommand, Text: strings.TrimSpace(trimmed[len(UnknownCommandPrefix):])}

	case endsWithToken(trimmed, StartupToken):
		return Message{Kind: MessageStartup, Text: trimmed}

	default:
		return Message{Kind: MessagePlain, Text: trimmed}
	}
}

// endsWithToken reports whether s ends with the whole word token, so that
// e.g. "restart" does not register as a startup banner.
func endsWithToken(s, token string) bool {
	if s == token {
		return true
	}
	return strings.HasSuffix(s, " "+token)
}
