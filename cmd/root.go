// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 3DCloud

package cmd

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/3DCloud/Client-sub000/pkg/config"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "printer-client",
	Short: "Marlin 3D printer serial client",
	Long: `printer-client drives a Marlin-firmware 3D printer over its serial
protocol: line-numbered, checksummed commands with acknowledgement gating
and resend recovery.

Provides commands for printing G-code files, sending individual commands,
monitoring the protocol stream, and an interactive console.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the PRINTER_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell
history.`,
	Version:       "1.2.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadClientConfig layers CLI flags over the configuration file (or the
// built-in defaults when no file is given).
func loadClientConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if portName != "" {
		cfg.Connection.Port = portName
	}
	if baudRate != 0 {
		cfg.Connection.BaudRate = baudRate
	}
	return cfg, nil
}

// newLogger builds the logrus entry shared by a command invocation. quiet
// discards output, for commands that own the terminal (the console TUI).
func newLogger(cfg *config.Config, quiet bool) *logrus.Entry {
	logger := logrus.New()

	if quiet {
		logger.SetOutput(io.Discard)
		return logrus.NewEntry(logger)
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logrus.NewEntry(logger)
}

// requireConnectionFlags verifies that some transport was selected.
func requireConnectionFlags(cfg *config.Config) error {
	if wsURL == "" && cfg.Connection.Port == "" {
		return fmt.Errorf("either --port or --url must be specified")
	}
	return nil
}
