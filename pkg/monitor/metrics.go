// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

// Package monitor exposes Prometheus metrics for the serial protocol engine
// and the printer driver.
package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesSent counts frames written to the serial stream, including
	// retransmissions.
	FramesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "printer_frames_sent_total",
		Help: "Total command frames transmitted to the firmware",
	})

	// Retransmissions counts frames re-sent after a Resend request.
	Retransmissions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "printer_frame_retransmissions_total",
		Help: "Total frames retransmitted after firmware resend requests",
	})

	// CommandsAcknowledged counts "ok" acknowledgements observed.
	CommandsAcknowledged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "printer_commands_acknowledged_total",
		Help: "Total command acknowledgements received from the firmware",
	})

	// ProtocolErrors counts connection-fatal protocol failures.
	ProtocolErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "printer_protocol_errors_total",
		Help: "Total protocol desynchronization and firmware halt errors",
	})

	// TemperatureUpdates counts parsed temperature report lines.
	TemperatureUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "printer_temperature_updates_total",
		Help: "Total temperature report lines parsed",
	})

	// PrintProgress is the current print progress fraction, 0 to 1.
	PrintProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "printer_print_progress_ratio",
		Help: "Progress of the active print job (0-1)",
	})

	// StateTransitions counts printer state machine transitions by target
	// state.
	StateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "printer_state_transitions_total",
		Help: "Printer state machine transitions",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(
		FramesSent,
		Retransmissions,
		CommandsAcknowledged,
		ProtocolErrors,
		TemperatureUpdates,
		PrintProgress,
		StateTransitions,
	)
}

// Serve exposes the metrics endpoint on addr. It blocks, so callers run it
// in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
