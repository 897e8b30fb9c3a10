// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 3DCloud

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/3DCloud/Client-sub000/pkg/marlin"
	"github.com/3DCloud/Client-sub000/pkg/monitor"
	"github.com/3DCloud/Client-sub000/pkg/printer"
)

var metricsAddr string

var printCmd = &cobra.Command{
	Use:   "print <file.gcode>",
	Short: "Print a G-code file",
	Long: `Connect to the printer, stream a G-code file to it and report progress
until the print finishes.

The file is preprocessed first: slicer time checkpoints drive the progress
and time-remaining estimates, and UltiGCode files get heating and priming
synthesized from the configured material settings.

Press Ctrl+C once to cancel the print cleanly (heaters off, steppers
released); the command disconnects afterwards either way.`,
	Args: cobra.ExactArgs(1),
	RunE: runPrint,
}

func init() {
	printCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(printCmd)
}

// printReporter feeds driver notifications into the progress display.
type printReporter struct {
	mu     sync.Mutex
	state  printer.State
	temps  marlin.PrinterTemperatures
	events chan printer.PrintEvent
}

func (r *printReporter) StateChanged(old, new printer.State) {
	r.mu.Lock()
	r.state = new
	r.mu.Unlock()
}

func (r *printReporter) TemperaturesUpdated(temps marlin.PrinterTemperatures) {
	r.mu.Lock()
	r.temps = temps
	r.mu.Unlock()
}

func (r *printReporter) PrintEvent(event printer.PrintEvent) {
	r.events <- event
}

func (r *printReporter) snapshot() (printer.State, marlin.PrinterTemperatures) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.temps
}

func runPrint(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	if err := requireConnectionFlags(cfg); err != nil {
		return err
	}
	log := newLogger(cfg, false)

	if metricsAddr != "" {
		go func() {
			if err := monitor.Serve(metricsAddr); err != nil {
				log.WithError(err).Error("metrics listener failed")
			}
		}()
	}

	factory, connInfo, err := ConnectionFactory(cfg)
	if err != nil {
		return err
	}

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %v", args[0], err)
	}
	defer file.Close()

	reporter := &printReporter{events: make(chan printer.PrintEvent, 1)}
	p := printer.NewMarlinPrinter(factory, cfg, log, reporter)

	ctx := context.Background()
	log.WithField("connection", connInfo).Info("connecting")
	if err := p.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := p.Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("disconnect")
		}
	}()

	if err := p.StartPrint(ctx, file); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			printProgressLine(p, reporter)

		case <-signals:
			fmt.Println()
			log.Info("cancelling print")
			if err := p.AbortPrint(ctx); err != nil {
				return err
			}

		case event := <-reporter.events:
			fmt.Println()
			switch event.Outcome {
			case printer.OutcomeSuccess:
				log.Info("print finished")
				return nil
			case printer.OutcomeCanceled:
				log.Info("print canceled")
				return nil
			default:
				return fmt.Errorf("print failed: %v", event.Err)
			}
		}
	}
}

func printProgressLine(p *printer.MarlinPrinter, reporter *printReporter) {
	state, temps := reporter.snapshot()

	line := fmt.Sprintf("\r%-13s %5.1f%%  remaining %-10s",
		state, p.Progress()*100, formatRemaining(p.TimeRemaining()))
	if temps.ActiveHotend != nil {
		line += fmt.Sprintf("  hotend %.1f/%.0f", temps.ActiveHotend.Current, temps.ActiveHotend.Target)
	}
	if temps.BuildPlate != nil {
		line += fmt.Sprintf("  bed %.1f/%.0f", temps.BuildPlate.Current, temps.BuildPlate.Target)
	}
	fmt.Print(line)
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	return d.Round(time.Second).String()
}
