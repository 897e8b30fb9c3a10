// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/3DCloud/Client-sub000/pkg/config"
	"github.com/3DCloud/Client-sub000/pkg/gcodefile"
	"github.com/3DCloud/Client-sub000/pkg/marlin"
	"github.com/3DCloud/Client-sub000/pkg/monitor"
)

// ConnectionFactory opens the underlying byte stream. The driver calls it
// once per connection attempt so that retries get a fresh stream.
type ConnectionFactory func() (io.ReadWriteCloser, error)

// MarlinPrinter drives one Marlin-firmware printer over a serial byte
// stream. It outlives individual connections: Connect and Disconnect can be
// called repeatedly on the same instance.
type MarlinPrinter struct {
	dial     ConnectionFactory
	cfg      *config.Config
	log      *logrus.Entry
	notifier Notifier

	mu            sync.RWMutex
	state         State
	temps         marlin.PrinterTemperatures
	progress      float64
	timeRemaining time.Duration
	firmware      marlin.FirmwareInfo
	limits        MachineLimits
	printFlavor   gcodefile.Flavor
	activeTool    int
	bgFault       error

	conn io.ReadWriteCloser
	cm   *marlin.CommandManager

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	bgErrs   chan error

	printMu     sync.Mutex
	printCancel context.CancelFunc
	printDone   chan struct{}
	printOnce   *sync.Once
}

// NewMarlinPrinter creates a driver in the disconnected state. notifier may
// be nil.
func NewMarlinPrinter(dial ConnectionFactory, cfg *config.Config, log *logrus.Entry, notifier Notifier) *MarlinPrinter {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &MarlinPrinter{
		dial:     dial,
		cfg:      cfg,
		log:      log,
		notifier: notifier,
		state:    StateDisconnected,
		firmware: marlin.FirmwareInfo{Capabilities: make(map[string]bool)},
	}
}

// Connect opens the transport, runs the startup handshake (retrying up to
// the configured budget), queries firmware settings and capabilities, and
// starts the background loops. On success the driver is in the ready state.
func (p *MarlinPrinter) Connect(ctx context.Context) error {
	if err := p.compareAndSetState(StateConnecting, StateDisconnected); err != nil {
		return err
	}

	cm, conn, err := p.connectWithRetries(ctx)
	if err != nil {
		p.setState(StateDisconnected)
		return err
	}

	p.mu.Lock()
	p.conn = conn
	p.cm = cm
	p.firmware = marlin.FirmwareInfo{Capabilities: make(map[string]bool)}
	p.limits = MachineLimits{}
	p.bgFault = nil
	p.mu.Unlock()

	p.bgCtx, p.bgCancel = context.WithCancel(context.Background())
	p.bgErrs = make(chan error, 4)

	// The receive loop must be running before the first SendCommand or the
	// acknowledgement gate would never reopen.
	p.bgWG.Add(1)
	go p.receiveLoop(p.bgCtx)
	go p.supervise(p.bgCtx)

	if err := p.queryCapabilities(ctx); err != nil {
		p.teardownConnection(context.Background())
		p.setState(StateDisconnected)
		return err
	}

	if p.FirmwareInfo().Supports(marlin.CapabilityAutoReportTemp) {
		if err := cm.SendCommand(ctx, marlin.CommandAutoReportTemp+" S1"); err != nil {
			p.teardownConnection(context.Background())
			p.setState(StateDisconnected)
			return err
		}
	} else {
		p.bgWG.Add(1)
		go p.pollTemperatures(p.bgCtx)
	}

	p.setState(StateReady)
	return nil
}

// connectWithRetries opens the stream and runs the handshake, backing off
// and retrying transient failures up to the configured budget.
func (p *MarlinPrinter) connectWithRetries(ctx context.Context) (*marlin.CommandManager, io.ReadWriteCloser, error) {
	retries := p.cfg.Connection.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(p.cfg.Connection.RetryDelay):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}

		conn, err := p.dial()
		if err != nil {
			lastErr = err
			p.log.WithError(err).WithField("attempt", attempt).Warn("failed to open connection")
			continue
		}

		cm := marlin.NewCommandManager(conn, p.log)

		startupCtx, cancel := context.WithTimeout(ctx, p.cfg.Connection.StartupTimeout)
		err = cm.AwaitStartup(startupCtx)
		cancel()
		if err != nil {
			lastErr = err
			p.log.WithError(err).WithField("attempt", attempt).Warn("startup handshake failed")
			cm.Dispose()
			continue
		}

		return cm, conn, nil
	}

	return nil, nil, fmt.Errorf("connect failed after %d attempts: %w", retries, lastErr)
}

// queryCapabilities issues the two read-only startup queries. Their
// response lines are parsed opportunistically by the receive loop; all this
// has to do is wait for the acknowledgements.
func (p *MarlinPrinter) queryCapabilities(ctx context.Context) error {
	if err := p.cm.SendCommand(ctx, marlin.CommandReportSettings); err != nil {
		return fmt.Errorf("report settings: %w", err)
	}
	if err := p.cm.SendCommand(ctx, marlin.CommandFirmwareInfo); err != nil {
		return fmt.Errorf("report firmware info: %w", err)
	}
	return nil
}

// receiveLoop drains and classifies incoming lines for the life of the
// connection. It is the task that reopens the acknowledgement gate.
func (p *MarlinPrinter) receiveLoop(ctx context.Context) {
	defer p.bgWG.Done()

	for {
		msg, err := p.cm.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, marlin.ErrDisposed) || ctx.Err() != nil {
				return
			}
			p.reportBackground(fmt.Errorf("receive loop: %w", err))
			return
		}

		switch msg.Kind {
		case marlin.MessagePlain:
			p.handlePlainLine(msg.Text)
		case marlin.MessageAcknowledgement:
			// Acknowledgements may carry a trailing temperature report.
			if msg.Text != "" {
				p.handlePlainLine(msg.Text)
			}
		case marlin.MessageUnknownCommand:
			p.log.WithField("command", msg.Text).Warn("firmware reported unknown command")
		}
	}
}

// pollTemperatures issues an explicit temperature report on a fixed
// interval for firmwares without native periodic reporting.
func (p *MarlinPrinter) pollTemperatures(ctx context.Context) {
	defer p.bgWG.Done()

	interval := p.cfg.Printer.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := p.cm.SendCommand(ctx, marlin.CommandReportTemperatures); err != nil {
			if errors.Is(err, marlin.ErrDisposed) || ctx.Err() != nil {
				return
			}
			p.reportBackground(fmt.Errorf("temperature poll: %w", err))
			return
		}
	}
}

// supervise watches the background results channel and escalates any
// unexpected task failure into an asynchronous disconnect.
func (p *MarlinPrinter) supervise(ctx context.Context) {
	select {
	case <-ctx.Done():
	case err := <-p.bgErrs:
		p.log.WithError(err).Error("background task failed, disconnecting")
		go func() {
			if derr := p.Disconnect(context.Background()); derr != nil {
				p.log.WithError(derr).Warn("disconnect after background failure")
			}
		}()
	}
}

// reportBackground records the connection's first fault and wakes the
// supervisor. The recorded fault lets the print task attribute its own
// cancellation to the failure that triggered the teardown.
func (p *MarlinPrinter) reportBackground(err error) {
	p.mu.Lock()
	if p.bgFault == nil {
		p.bgFault = err
	}
	p.mu.Unlock()

	select {
	case p.bgErrs <- err:
	default:
	}
}

func (p *MarlinPrinter) backgroundFault() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bgFault
}

// handlePlainLine opportunistically parses telemetry, firmware info,
// capability flags and settings echoes. Nothing here ever fails the
// connection; unparseable lines are just not metadata.
func (p *MarlinPrinter) handlePlainLine(text string) {
	if temps, ok := marlin.ParseTemperatures(text, p.log); ok {
		p.mu.Lock()
		p.temps = temps
		p.mu.Unlock()
		monitor.TemperatureUpdates.Inc()
		p.notifier.TemperaturesUpdated(temps)
		return
	}

	if info, ok := marlin.ParseFirmwareInfo(text); ok {
		p.mu.Lock()
		caps := p.firmware.Capabilities
		p.firmware = info
		for name, enabled := range caps {
			p.firmware.Capabilities[name] = enabled
		}
		p.mu.Unlock()
		p.log.WithField("firmware", info.Name).Info("firmware identified")
		return
	}

	if name, enabled, ok := marlin.ParseCapability(text); ok {
		p.mu.Lock()
		p.firmware.Capabilities[name] = enabled
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	p.limits.parseSettingsLine(text)
	p.mu.Unlock()
}

// Disconnect tears the connection down in a strict order: cancel the print
// and background tasks, dispose the command manager (which unblocks any
// waiter), await the tasks, close the transport, clear cached state.
func (p *MarlinPrinter) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateDisconnected || p.state == StateDisconnecting {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.setState(StateDisconnecting)
	err := p.teardownConnection(ctx)
	p.setState(StateDisconnected)
	return err
}

func (p *MarlinPrinter) teardownConnection(ctx context.Context) error {
	p.printMu.Lock()
	cancel, done := p.printCancel, p.printDone
	p.printMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if p.bgCancel != nil {
		p.bgCancel()
	}
	if p.cm != nil {
		p.cm.Dispose()
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	finished := make(chan struct{})
	go func() {
		p.bgWG.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	if p.conn != nil {
		// Disposing the manager already closed the stream; this is
		// belt-and-braces for transports with independent handles.
		_ = p.conn.Close()
	}

	p.mu.Lock()
	p.conn = nil
	p.cm = nil
	p.temps = marlin.PrinterTemperatures{}
	p.progress = 0
	p.timeRemaining = 0
	p.mu.Unlock()
	monitor.PrintProgress.Set(0)

	return nil
}

// Dispose performs a best-effort synchronous disconnect.
func (p *MarlinPrinter) Dispose() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Disconnect(ctx); err != nil {
		p.log.WithError(err).Warn("dispose")
	}
}

// SendCommand passes one raw command through to the firmware.
func (p *MarlinPrinter) SendCommand(ctx context.Context, command string) error {
	cm, err := p.commandManager()
	if err != nil {
		return err
	}
	return cm.SendCommand(ctx, command)
}

// SendCommandBlock sends a newline-separated block of commands in order,
// stopping on the first failure.
func (p *MarlinPrinter) SendCommandBlock(ctx context.Context, block string) error {
	cm, err := p.commandManager()
	if err != nil {
		return err
	}
	for _, line := range strings.Split(block, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := cm.SendCommand(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

func (p *MarlinPrinter) commandManager() (*marlin.CommandManager, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.state.Connected() || p.cm == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, p.state)
	}
	return p.cm, nil
}

// Pause is a reserved transition; the pausing/paused states exist for
// interface compatibility but no firmware sequence is defined for them.
func (p *MarlinPrinter) Pause(ctx context.Context) error {
	return fmt.Errorf("pause: %w", ErrNotImplemented)
}

// Resume is a reserved transition, see Pause.
func (p *MarlinPrinter) Resume(ctx context.Context) error {
	return fmt.Errorf("resume: %w", ErrNotImplemented)
}

// State returns the current lifecycle state.
func (p *MarlinPrinter) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Temperatures returns the latest temperature snapshot.
func (p *MarlinPrinter) Temperatures() marlin.PrinterTemperatures {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.temps
}

// Progress returns the current print progress fraction in [0,1].
func (p *MarlinPrinter) Progress() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.progress
}

// TimeRemaining returns the pace-adjusted print time remaining.
func (p *MarlinPrinter) TimeRemaining() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.timeRemaining
}

// FirmwareInfo returns what the firmware reported about itself.
func (p *MarlinPrinter) FirmwareInfo() marlin.FirmwareInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info := p.firmware
	info.Capabilities = make(map[string]bool, len(p.firmware.Capabilities))
	for name, enabled := range p.firmware.Capabilities {
		info.Capabilities[name] = enabled
	}
	return info
}

// Limits returns the acceleration/feedrate limits parsed from the settings
// report, when the firmware provided them.
func (p *MarlinPrinter) Limits() MachineLimits {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.limits.clone()
}

func (p *MarlinPrinter) setState(to State) {
	p.mu.Lock()
	old := p.state
	p.state = to
	p.mu.Unlock()

	if old == to {
		return
	}
	p.log.WithFields(logrus.Fields{"from": old, "to": to}).Info("printer state changed")
	monitor.StateTransitions.WithLabelValues(to.String()).Inc()
	p.notifier.StateChanged(old, to)
}

func (p *MarlinPrinter) compareAndSetState(to State, from ...State) error {
	p.mu.Lock()
	old := p.state
	allowed := false
	for _, s := range from {
		if old == s {
			allowed = true
			break
		}
	}
	if !allowed {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, old)
	}
	p.state = to
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{"from": old, "to": to}).Info("printer state changed")
	monitor.StateTransitions.WithLabelValues(to.String()).Inc()
	p.notifier.StateChanged(old, to)
	return nil
}

func (p *MarlinPrinter) setProgress(fraction float64, remaining time.Duration) {
	p.mu.Lock()
	p.progress = fraction
	p.timeRemaining = remaining
	p.mu.Unlock()
	monitor.PrintProgress.Set(fraction)
}

func (p *MarlinPrinter) clearProgress() {
	p.setProgress(0, 0)
}
