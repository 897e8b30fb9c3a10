// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 3DCloud

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/3DCloud/Client-sub000/pkg/marlin"
)

var monitorPoll bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display the classified protocol stream",
	Long: `Continuously display every line received from the printer, classified by
its protocol role (acknowledgement, resend request, startup banner, error,
plain output), with timestamps.

With --poll, a temperature report is requested once per configured poll
interval so the stream shows live telemetry even when the printer is idle.

Press Ctrl+C to exit; a protocol statistics summary is printed on the way
out.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorPoll, "poll", false, "Periodically request temperature reports (M105)")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	if err := requireConnectionFlags(cfg); err != nil {
		return err
	}
	log := newLogger(cfg, false)

	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		return err
	}

	m := marlin.NewCommandManager(conn, log)
	defer m.Dispose()

	fmt.Printf("Protocol Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	startupCtx, cancel := context.WithTimeout(context.Background(), cfg.Connection.StartupTimeout)
	err = m.AwaitStartup(startupCtx)
	cancel()
	if err != nil {
		return err
	}
	fmt.Printf("[%s] startup handshake complete\n", time.Now().Format("15:04:05.000"))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		stop()
	}()

	if monitorPoll {
		go func() {
			ticker := time.NewTicker(cfg.Printer.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				if err := m.SendCommand(ctx, marlin.CommandReportTemperatures); err != nil {
					return
				}
			}
		}()
	}

	for {
		msg, err := m.ReceiveMessage(ctx)
		if err != nil {
			fmt.Print(m.Statistics().String())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		stamp := time.Now().Format("15:04:05.000")
		switch msg.Kind {
		case marlin.MessageAcknowledgement:
			fmt.Printf("[%s] ACK    %s\n", stamp, msg.Text)
		case marlin.MessageResendRequest:
			fmt.Printf("[%s] RESEND line %d\n", stamp, msg.Line)
		case marlin.MessageUnknownCommand:
			fmt.Printf("[%s] UNKNOWN %s\n", stamp, msg.Text)
		case marlin.MessageStartup:
			fmt.Printf("[%s] BANNER %s\n", stamp, msg.Text)
		default:
			if temps, ok := marlin.ParseTemperatures(msg.Text, log); ok && temps.ActiveHotend != nil {
				fmt.Printf("[%s] TEMP   hotend %.1f/%.0f\n", stamp, temps.ActiveHotend.Current, temps.ActiveHotend.Target)
				continue
			}
			fmt.Printf("[%s]        %s\n", stamp, msg.Text)
		}
	}
}
