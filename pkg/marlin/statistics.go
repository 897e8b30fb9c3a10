// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package marlin

import (
	"fmt"
	"sync"
	"time"
)

// Statistics tracks per-connection protocol counters and rates. All methods
// are safe for concurrent use; the command manager updates counters from
// both the send and receive paths.
type Statistics struct {
	mu        sync.Mutex
	startTime time.Time

	FramesSent      uint64
	Retransmissions uint64
	LinesReceived   uint64
	Acknowledged    uint64
	ResendRequests  uint64
	UnknownCommands uint64
	ProtocolErrors  uint64
	FatalErrors     uint64
}

// NewStatistics creates a statistics tracker starting now.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

func (s *Statistics) add(field *uint64) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *Statistics) Snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Statistics{
		startTime:       s.startTime,
		FramesSent:      s.FramesSent,
		Retransmissions: s.Retransmissions,
		LinesReceived:   s.LinesReceived,
		Acknowledged:    s.Acknowledged,
		ResendRequests:  s.ResendRequests,
		UnknownCommands: s.UnknownCommands,
		ProtocolErrors:  s.ProtocolErrors,
		FatalErrors:     s.FatalErrors,
	}
}

// String returns a formatted statistics summary.
func (s *Statistics) String() string {
	snap := s.Snapshot()
	elapsed := time.Since(snap.startTime).Seconds()

	var frameRate float64
	if elapsed > 0 {
		frameRate = float64(snap.FramesSent) / elapsed
	}

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed)
	result += fmt.Sprintf("Frames Sent:     %8d\n", snap.FramesSent)
	result += fmt.Sprintf("Lines Received:  %8d\n", snap.LinesReceived)
	result += fmt.Sprintf("Acknowledged:    %8d\n", snap.Acknowledged)
	if snap.ResendRequests > 0 {
		result += fmt.Sprintf("Resend Requests: %8d\n", snap.ResendRequests)
		result += fmt.Sprintf("Retransmissions: %8d\n", snap.Retransmissions)
	}
	if snap.UnknownCommands > 0 {
		result += fmt.Sprintf("Unknown Cmds:    %8d\n", snap.UnknownCommands)
	}
	if snap.ProtocolErrors > 0 {
		result += fmt.Sprintf("Protocol Errors: %8d\n", snap.ProtocolErrors)
	}
	if snap.FatalErrors > 0 {
		result += fmt.Sprintf("Fatal Errors:    %8d\n", snap.FatalErrors)
	}
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", frameRate)
	result += "================================\n"

	return result
}
