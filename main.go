// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 3DCloud
//
// printer-client - Marlin serial printer client
//
// A CLI tool for driving Marlin-firmware 3D printers over their serial
// protocol: printing G-code files, sending commands, and monitoring the
// protocol stream.

package main

import (
	"fmt"
	"os"

	"github.com/3DCloud/Client-sub000/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
