// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package marlin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/3DCloud/Client-sub000/pkg/monitor"
)

// CommandManager owns one connection's byte stream and drives the Marlin
// request/response protocol on it: startup handshake, command framing,
// acknowledgement gating, resend recovery and message classification.
//
// SendCommand and ReceiveMessage are safe to call concurrently, and must
// be: acknowledgements are classified on the receive path, so once
// AwaitStartup has succeeded exactly one receive loop has to keep calling
// ReceiveMessage or every SendCommand will block forever waiting for its
// acknowledgement.
type CommandManager struct {
	conn io.ReadWriteCloser
	log  *logrus.Entry

	// lines carries raw trimmed lines from the reader goroutine. It is
	// closed when the stream ends; connErr holds the reason and is written
	// before the close.
	lines   chan string
	connErr error

	// sendGate serializes SendCommand callers: the token is held for the
	// whole send, including resend retries.
	sendGate chan struct{}

	// ackGate paces frame writes: a token is present exactly when the last
	// transmitted frame has been acknowledged. The sender consumes the
	// token immediately before writing; the receive path restores it when
	// it classifies an "ok" line.
	ackGate chan struct{}

	// resendLine is the line number of a pending resend request, or -1.
	// Written by the receive path, consumed by the sender after it observes
	// the acknowledgement that trails the request.
	resendMu   sync.Mutex
	resendLine int64

	// lineNumber is the next line number to transmit. Owned by whoever
	// holds the send gate; AwaitStartup sets it to 1 before any sender
	// exists.
	lineNumber uint64

	ready       atomic.Bool
	established atomic.Bool

	disposed    chan struct{}
	disposeOnce sync.Once

	stats *Statistics
}

// NewCommandManager wraps an open duplex byte stream. The manager starts in
// the not-ready state; call AwaitStartup before sending commands. The
// manager takes ownership of the stream and closes it on Dispose.
func NewCommandManager(conn io.ReadWriteCloser, log *logrus.Entry) *CommandManager {
	m := &CommandManager{
		conn:       conn,
		log:        log,
		lines:      make(chan string, 16),
		sendGate:   make(chan struct{}, 1),
		ackGate:    make(chan struct{}, 1),
		resendLine: -1,
		disposed:   make(chan struct{}),
		stats:      NewStatistics(),
	}

	// Both gates start open: no send in flight, nothing unacknowledged.
	m.sendGate <- struct{}{}
	m.ackGate <- struct{}{}

	go m.readLines()

	return m
}

// Statistics returns the per-connection protocol counters.
func (m *CommandManager) Statistics() *Statistics {
	return m.stats
}

// readLines pumps raw lines from the stream into the lines channel so that
// every wait in the manager can also honor contexts and disposal.
func (m *CommandManager) readLines() {
	scanner := bufio.NewScanner(m.conn)
	scanner.Buffer(make([]byte, 0, 1024), 64*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r ")
		select {
		case m.lines <- line:
		case <-m.disposed:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		m.connErr = fmt.Errorf("%w: %v", ErrConnectionLost, err)
	} else {
		m.connErr = fmt.Errorf("%w: stream closed", ErrConnectionLost)
	}
	close(m.lines)
}

// nextLine returns the next raw line, honoring the context deadline and
// disposal.
func (m *CommandManager) nextLine(ctx context.Context) (string, error) {
	select {
	case <-m.disposed:
		return "", ErrDisposed
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-m.lines:
		if !ok {
			return "", m.connErr
		}
		m.stats.add(&m.stats.LinesReceived)
		return line, nil
	}
}

// AwaitStartup blocks until the firmware emits its startup banner, then
// resets the firmware's line counter to zero and waits for the
// acknowledgement. On success line numbering starts at 1 and the manager
// becomes ready. The context deadline bounds the whole handshake and maps
// to ErrStartupTimeout.
func (m *CommandManager) AwaitStartup(ctx context.Context) error {
	if m.ready.Load() {
		return nil
	}

	for {
		line, err := m.nextLine(ctx)
		if err != nil {
			return startupError(err)
		}
		if line == "" {
			continue
		}
		if Classify(line).Kind == MessageStartup {
			break
		}
		// Anything before the banner is leftover output from a previous
		// session and carries no meaning here.
		m.log.WithField("line", line).Debug("discarding pre-startup line")
	}

	// Reset the firmware's expected line number to 0. The handshake is not
	// abandoned mid-frame; only the waits honor the deadline.
	frame := BuildFrame(0, CommandSetLineNumber)
	if err := m.writeFrame(ctx, frame); err != nil {
		return startupError(err)
	}

	for {
		line, err := m.nextLine(ctx)
		if err != nil {
			return startupError(err)
		}
		if line == "" {
			continue
		}
		if Classify(line).Kind == MessageAcknowledgement {
			m.stats.add(&m.stats.Acknowledged)
			m.openAckGate()
			break
		}
	}

	m.lineNumber = 1
	m.established.Store(true)
	m.ready.Store(true)
	m.log.Debug("startup handshake complete")
	return nil
}

// startupError maps handshake failures onto the startup error taxonomy.
func startupError(err error) error {
	switch {
	case err == context.DeadlineExceeded || err == context.Canceled:
		return fmt.Errorf("%w: %v", ErrStartupTimeout, err)
	default:
		return err
	}
}

// SendCommand sanitizes and frames a command, transmits it, and blocks
// until the firmware acknowledges the specific line sent, retransmitting on
// resend requests. Callers are serialized; a second caller blocks until the
// first completes including any retries.
func (m *CommandManager) SendCommand(ctx context.Context, command string) error {
	if !m.ready.Load() {
		return ErrNotReady
	}

	select {
	case <-m.sendGate:
	case <-m.disposed:
		return ErrDisposed
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { m.sendGate <- struct{}{} }()

	sanitized, truncated := SanitizeCommand(command)
	if truncated {
		m.log.WithField("command", sanitized).Warn("multi-line command truncated to its first line")
	}
	if sanitized == "" {
		return nil
	}

	// Reset line numbering before it would exceed the firmware's signed
	// 32-bit line number range.
	if m.lineNumber > MaxLineNumber {
		if err := m.resetLineNumber(); err != nil {
			return err
		}
	}

	if err := m.transmit(ctx, BuildFrame(m.lineNumber, sanitized), m.lineNumber); err != nil {
		return err
	}

	m.lineNumber++
	return nil
}

// resetLineNumber wraps the line counter back to 1 by sending M110 as line
// zero. The wait is deliberately not cancelable by the caller: abandoning
// the reset mid-flight would desynchronize line numbering for the rest of
// the connection. Dispose still unblocks it.
func (m *CommandManager) resetLineNumber() error {
	m.log.Debug("line number at maximum, resetting to 0")
	if err := m.transmit(context.Background(), BuildFrame(0, CommandSetLineNumber), 0); err != nil {
		return err
	}
	m.lineNumber = 1
	return nil
}

// transmit writes a frame and loops until the firmware acknowledges it,
// honoring resend requests for the same line. A resend request for any
// other line is a protocol violation and unrecoverable for the connection.
func (m *CommandManager) transmit(ctx context.Context, frame string, line uint64) error {
	m.clearResend()

	if err := m.writeFrame(ctx, frame); err != nil {
		return err
	}

	for {
		// Wait for this frame's acknowledgement. The receive path restores
		// the gate token when it classifies the "ok".
		select {
		case <-m.ackGate:
		case <-m.disposed:
			return ErrDisposed
		case <-ctx.Done():
			// The frame is already on the wire; the gate stays closed and
			// the connection must be treated as faulted by the caller.
			return ctx.Err()
		}

		resend, requested := m.takeResend()
		if !requested {
			// Delivered. Reopen the gate for the next sender.
			m.openAckGate()
			return nil
		}

		if resend != line {
			m.stats.add(&m.stats.ProtocolErrors)
			monitor.ProtocolErrors.Inc()
			return fmt.Errorf("%w: firmware requested resend of line %d, expected %d", ErrProtocolViolation, resend, line)
		}

		// Retransmit the identical frame. The gate token was just consumed
		// above, which is exactly the "previous frame acknowledged" wait the
		// protocol requires before every write.
		m.stats.add(&m.stats.Retransmissions)
		monitor.Retransmissions.Inc()
		if err := m.write(frame); err != nil {
			return err
		}
	}
}

// writeFrame waits for the previous frame's acknowledgement (closing the
// gate) and writes the frame.
func (m *CommandManager) writeFrame(ctx context.Context, frame string) error {
	select {
	case <-m.ackGate:
	case <-m.disposed:
		return ErrDisposed
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.write(frame)
}

func (m *CommandManager) write(frame string) error {
	if _, err := io.WriteString(m.conn, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	m.stats.add(&m.stats.FramesSent)
	monitor.FramesSent.Inc()
	m.log.WithField("frame", strings.TrimSuffix(frame, "\n")).Debug("frame transmitted")
	return nil
}

// ReceiveMessage blocks until one line is available, classifies it and
// returns it. Acknowledgements reopen the acknowledgement gate as a side
// effect; fatal firmware conditions return ErrPrinterHalted.
func (m *CommandManager) ReceiveMessage(ctx context.Context) (Message, error) {
	if !m.ready.Load() {
		return Message{}, ErrNotReady
	}

	for {
		line, err := m.nextLine(ctx)
		if err != nil {
			return Message{}, err
		}
		if line == "" {
			continue
		}

		msg := Classify(line)
		switch msg.Kind {
		case MessageAcknowledgement:
			m.stats.add(&m.stats.Acknowledged)
			monitor.CommandsAcknowledged.Inc()
			m.openAckGate()

		case MessageResendRequest:
			m.stats.add(&m.stats.ResendRequests)
			m.recordResend(msg.Line)

		case MessageUnknownCommand:
			m.stats.add(&m.stats.UnknownCommands)

		case MessageFatalError:
			m.stats.add(&m.stats.FatalErrors)
			monitor.ProtocolErrors.Inc()
			return msg, fmt.Errorf("%w: %s", ErrPrinterHalted, msg.Text)

		case MessageStartup:
			if m.established.Load() {
				// The firmware rebooted underneath an established
				// connection; everything we knew about it is stale.
				m.stats.add(&m.stats.FatalErrors)
				monitor.ProtocolErrors.Inc()
				return msg, fmt.Errorf("%w: firmware restarted unexpectedly", ErrPrinterHalted)
			}
		}

		return msg, nil
	}
}

// openAckGate restores the acknowledgement token. Extra acknowledgements
// with no frame in flight are dropped.
func (m *CommandManager) openAckGate() {
	select {
	case m.ackGate <- struct{}{}:
	default:
	}
}

func (m *CommandManager) recordResend(line uint64) {
	m.resendMu.Lock()
	m.resendLine = int64(line)
	m.resendMu.Unlock()
}

func (m *CommandManager) takeResend() (uint64, bool) {
	m.resendMu.Lock()
	defer m.resendMu.Unlock()
	if m.resendLine < 0 {
		return 0, false
	}
	line := uint64(m.resendLine)
	m.resendLine = -1
	return line, true
}

func (m *CommandManager) clearResend() {
	m.resendMu.Lock()
	m.resendLine = -1
	m.resendMu.Unlock()
}

// Dispose releases every waiter with ErrDisposed and closes the underlying
// stream. It is idempotent and safe to call from any goroutine.
func (m *CommandManager) Dispose() {
	m.disposeOnce.Do(func() {
		close(m.disposed)
		if err := m.conn.Close(); err != nil {
			m.log.WithError(err).Debug("closing stream")
		}
	})
}
