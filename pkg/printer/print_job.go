// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/256dpi/gcode"

	"github.com/3DCloud/Client-sub000/pkg/config"
	"github.com/3DCloud/Client-sub000/pkg/gcodefile"
	"github.com/3DCloud/Client-sub000/pkg/marlin"
)

// StartPrint persists the incoming stream to a local spool file so the
// print cannot stall on a slow source, then launches the print task and
// returns. The attempt's outcome is delivered through the notifier.
func (p *MarlinPrinter) StartPrint(ctx context.Context, r io.Reader) error {
	if err := p.compareAndSetState(StateDownloading, StateReady); err != nil {
		return err
	}

	path, err := p.spoolFile(r)
	if err != nil {
		p.setState(StateReady)
		return err
	}

	printCtx, cancel := context.WithCancel(p.bgCtx)
	done := make(chan struct{})

	p.printMu.Lock()
	p.printCancel = cancel
	p.printDone = done
	p.printOnce = new(sync.Once)
	p.printMu.Unlock()

	p.setState(StatePrinting)
	go p.runPrintJob(printCtx, path, done)
	return nil
}

func (p *MarlinPrinter) spoolFile(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "print-*.gcode")
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("spool print file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("spool print file: %w", err)
	}
	return tmp.Name(), nil
}

// runPrintJob executes one print attempt end to end and reports its
// outcome exactly once. Cancellation leaves state restoration to whichever
// path canceled it (abort or disconnect).
func (p *MarlinPrinter) runPrintJob(ctx context.Context, path string, done chan struct{}) {
	defer close(done)
	defer os.Remove(path)

	err := p.executePrint(ctx, path)
	switch {
	case err == nil:
		if err := p.runSequence(ctx, p.cfg.Printer.Sequences.End); err != nil {
			p.log.WithError(err).Warn("end sequence failed")
		}
		p.clearProgress()
		p.setState(StateReady)
		p.notifyPrintEvent(PrintEvent{Outcome: OutcomeSuccess})

	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		p.clearProgress()
		// The print context is canceled both by user aborts and by the
		// teardown a connection fault triggers; only the former is a
		// cancellation.
		if fault := p.backgroundFault(); fault != nil {
			p.notifyPrintEvent(PrintEvent{Outcome: OutcomeErrored, Err: fault})
		} else {
			p.notifyPrintEvent(PrintEvent{Outcome: OutcomeCanceled})
		}

	default:
		p.log.WithError(err).Error("print failed")
		p.clearProgress()
		p.notifyPrintEvent(PrintEvent{Outcome: OutcomeErrored, Err: err})
		if isConnectionFault(err) {
			p.reportBackground(err)
		} else {
			p.setState(StateReady)
		}
	}
}

// executePrint streams the spooled file to the firmware: start sequence,
// flavor-dependent preamble, then one command per file line with progress
// updates against the preprocessed checkpoints.
func (p *MarlinPrinter) executePrint(ctx context.Context, path string) error {
	file, err := gcodefile.Preprocess(path)
	if err != nil {
		return err
	}
	estimator := gcodefile.NewEstimator(file)

	p.mu.Lock()
	p.printFlavor = file.Flavor
	p.activeTool = 0
	p.mu.Unlock()

	p.log.WithFields(map[string]interface{}{
		"flavor": file.Flavor,
		"size":   file.Size(),
		"time":   time.Duration(file.TotalTime * float64(time.Second)),
	}).Info("starting print")

	if err := p.runSequence(ctx, p.cfg.Printer.Sequences.Start); err != nil {
		return fmt.Errorf("start sequence: %w", err)
	}
	if file.Flavor == gcodefile.FlavorUltiGCode {
		if err := p.runSequence(ctx, p.ultiGCodePreamble()); err != nil {
			return fmt.Errorf("heat and prime: %w", err)
		}
	}

	lines, err := file.Lines()
	if err != nil {
		return err
	}
	defer lines.Close()

	start := time.Now()
	for {
		line, pos, err := lines.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if err := p.sendPrintLine(ctx, line); err != nil {
			return err
		}

		remaining, fraction := estimator.Estimate(time.Since(start).Seconds(), pos)
		p.setProgress(fraction, time.Duration(remaining*float64(time.Second)))
	}

	return nil
}

// sendPrintLine applies the per-command transforms (fan rescaling, tool
// tracking) and surfaces blocking heat-and-wait commands as the heating
// state while they are in flight.
func (p *MarlinPrinter) sendPrintLine(ctx context.Context, line string) error {
	line, heating := p.prepareCommand(line)
	if line == "" {
		return nil
	}
	if !heating {
		return p.cm.SendCommand(ctx, line)
	}

	// Heat-and-wait commands run both from the print stream and from the
	// cancel sequences, so the state to come back to is not always printing.
	prev := p.State()
	p.setState(StateHeating)
	err := p.cm.SendCommand(ctx, line)
	if err == nil {
		p.setState(prev)
	}
	return err
}

// prepareCommand inspects one outgoing command: tool changes update the
// active extruder, M106 is rescaled against the configured fan cap, and the
// blocking heat-and-wait commands are flagged so the driver can surface the
// heating state.
func (p *MarlinPrinter) prepareCommand(line string) (string, bool) {
	parsed, err := gcode.ParseLine(line)
	if err != nil || len(parsed.Codes) == 0 {
		return line, false
	}

	head := parsed.Codes[0]
	switch head.Letter {
	case "T":
		p.mu.Lock()
		p.activeTool = int(head.Value)
		p.mu.Unlock()
		return line, false

	case "M":
		switch int(head.Value) {
		case 109, 190, 116:
			return line, true
		case 106:
			return p.rescaleFan(parsed), false
		}
	}

	return line, false
}

// rescaleFan caps an M106 command's S parameter at the configured maximum
// fan percentage.
func (p *MarlinPrinter) rescaleFan(line gcode.Line) string {
	max := p.cfg.Printer.MaxFanPercent
	if max <= 0 || max >= 100 {
		return formatLine(line)
	}

	for i, code := range line.Codes {
		if code.Letter == "S" {
			line.Codes[i].Value = code.Value * max / 100
		}
	}
	return formatLine(line)
}

func formatLine(line gcode.Line) string {
	var b strings.Builder
	for i, code := range line.Codes {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(code.Letter)
		b.WriteString(strconv.FormatFloat(code.Value, 'f', -1, 64))
	}
	return b.String()
}

// ultiGCodePreamble synthesizes the heating and priming that UltiGCode
// files omit, from the configured material for the active extruder.
func (p *MarlinPrinter) ultiGCodePreamble() []string {
	material := p.activeMaterial()
	return []string{
		fmt.Sprintf("%s S%g", marlin.CommandWaitBedTemp, material.BedTemperature),
		fmt.Sprintf("%s S%g", marlin.CommandWaitHotendTemp, material.HotendTemperature),
		"G92 E0",
		fmt.Sprintf("G1 E%g F200", material.PrimeLength),
		"G92 E0",
	}
}

// ultiGCodePostamble retracts filament and shuts the heaters down after a
// canceled UltiGCode print, mirroring what the file's own ending would do.
func (p *MarlinPrinter) ultiGCodePostamble() []string {
	material := p.activeMaterial()
	return []string{
		"G92 E0",
		fmt.Sprintf("G1 E-%g F1200", material.RetractionLength),
		marlin.CommandSetHotendTemp + " S0",
		marlin.CommandSetBedTemp + " S0",
	}
}

func (p *MarlinPrinter) activeMaterial() config.MaterialConfig {
	p.mu.RLock()
	tool := p.activeTool
	p.mu.RUnlock()

	materials := p.cfg.Printer.Materials
	if len(materials) == 0 {
		return config.DefaultConfig().Printer.Materials[0]
	}
	if tool < 0 || tool >= len(materials) {
		tool = 0
	}
	return materials[tool]
}

// runSequence sends a block of commands in order through the same
// per-command transforms as file lines.
func (p *MarlinPrinter) runSequence(ctx context.Context, commands []string) error {
	for _, command := range commands {
		if strings.TrimSpace(command) == "" {
			continue
		}
		if err := p.sendPrintLine(ctx, command); err != nil {
			return err
		}
	}
	return nil
}

// AbortPrint cancels the active print attempt, waits for the print task to
// wind down, runs the cancel sequence and restores the ready state.
func (p *MarlinPrinter) AbortPrint(ctx context.Context) error {
	p.mu.Lock()
	if !p.state.printing() {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, state)
	}
	flavor := p.printFlavor
	p.mu.Unlock()

	p.setState(StateCanceling)

	p.printMu.Lock()
	cancel, done := p.printCancel, p.printDone
	p.printMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// A canceled sender leaves the in-flight command unacknowledged until
	// its ok arrives; the receive loop restores the gate so the sequences
	// below can proceed.
	if flavor == gcodefile.FlavorUltiGCode {
		if err := p.runSequence(ctx, p.ultiGCodePostamble()); err != nil {
			p.log.WithError(err).Warn("cancel postamble failed")
		}
	}
	if err := p.runSequence(ctx, p.cfg.Printer.Sequences.Cancel); err != nil {
		p.log.WithError(err).Warn("cancel sequence failed")
	}

	p.clearProgress()
	p.setState(StateReady)
	return nil
}

func (p *MarlinPrinter) notifyPrintEvent(event PrintEvent) {
	p.printMu.Lock()
	once := p.printOnce
	p.printMu.Unlock()
	if once == nil {
		return
	}
	once.Do(func() {
		p.log.WithField("outcome", event.Outcome).Info("print finished")
		p.notifier.PrintEvent(event)
	})
}

// isConnectionFault reports whether a print error implies the connection
// itself can no longer be trusted.
func isConnectionFault(err error) bool {
	return errors.Is(err, marlin.ErrConnectionLost) ||
		errors.Is(err, marlin.ErrProtocolViolation) ||
		errors.Is(err, marlin.ErrPrinterHalted) ||
		errors.Is(err, marlin.ErrDisposed)
}
