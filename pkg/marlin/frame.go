// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package marlin

import (
	"fmt"
	"strings"
)

// SanitizeCommand strips comments and reduces a command to the single
// physical line the firmware will accept.
//
// Content after a ';' and content inside matching '(' ... ')' pairs is
// removed. If the input spans multiple lines only the first is kept; the
// second return value reports whether non-empty content was discarded that
// way so callers can log a diagnostic.
func SanitizeCommand(command string) (string, bool) {
	truncated := false
	if i := strings.IndexAny(command, "\r\n"); i >= 0 {
		if strings.TrimSpace(command[i:]) != "" {
			truncated = true
		}
		command = command[:i]
	}
	return strings.TrimSpace(stripComments(command)), truncated
}

// stripComments removes ';' trailing comments and '(...)' inline comments.
// An unterminated '(' comments out the remainder of the line.
func stripComments(line string) string {
	var b strings.Builder
	depth := 0
	for _, r := range line {
		switch {
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case r == ';' && depth == 0:
			return b.String()
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Checksum computes the 8-bit XOR of every byte in data, the corruption
// check Marlin applies to each received frame.
func Checksum(data string) uint8 {
	var sum uint8
	for i := 0; i < len(data); i++ {
		sum ^= data[i]
	}
	return sum
}

// BuildFrame formats a sanitized command as a wire frame:
//
//	N<line> <command> N<line>*<checksum>
//
// where the checksum covers "N<line> <command>". As line 1, "M104 S210"
// produces "N1 M104 S210 N1*103". The returned frame includes the
// terminating newline.
func BuildFrame(line uint64, command string) string {
	base := fmt.Sprintf("N%d %s", line, command)
	return fmt.Sprintf("%s N%d*%d\n", base, line, Checksum(base))
}
