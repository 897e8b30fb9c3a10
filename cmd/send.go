// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 3DCloud

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/3DCloud/Client-sub000/pkg/marlin"
)

var sendCmd = &cobra.Command{
	Use:   "send <command>...",
	Short: "Send one or more G-code commands",
	Long: `Connect to the printer, run the startup handshake, send each command in
order and print every response line. Commands are sent framed with line
numbers and checksums; resend requests are handled transparently.

Example:
  printer-client send -p /dev/ttyUSB0 "M104 S210" "M105"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
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

	log.WithField("connection", connInfo).Info("waiting for printer startup")
	startupCtx, cancel := context.WithTimeout(context.Background(), cfg.Connection.StartupTimeout)
	err = m.AwaitStartup(startupCtx)
	cancel()
	if err != nil {
		return err
	}

	// Print every line the firmware produces while the commands run.
	ctx, stop := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			msg, err := m.ReceiveMessage(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, marlin.ErrDisposed) {
					log.WithError(err).Error("receive failed")
				}
				return
			}
			switch msg.Kind {
			case marlin.MessageAcknowledgement:
				if msg.Text != "" {
					fmt.Printf("ok %s\n", msg.Text)
				} else {
					fmt.Println("ok")
				}
			case marlin.MessageUnknownCommand:
				fmt.Printf("unknown command: %s\n", msg.Text)
			default:
				fmt.Println(msg.Text)
			}
		}
	}()

	for _, command := range args {
		if err := m.SendCommand(context.Background(), command); err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("send %q: %v", command, err)
		}
	}

	stop()
	wg.Wait()
	return nil
}
