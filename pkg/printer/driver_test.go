// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package printer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/3DCloud/Client-sub000/pkg/config"
	"github.com/3DCloud/Client-sub000/pkg/marlin"
)

// fakeFirmware emulates a Marlin printer on the far end of a net.Pipe: it
// emits the startup banner, acknowledges every frame, and answers the
// startup queries with canned settings and capability lines.
type fakeFirmware struct {
	conn net.Conn
	r    *bufio.Reader

	mu       sync.Mutex
	commands []string

	// holdHeat makes the first M190 block until heatRelease is closed,
	// signaling heatStarted, so tests can freeze a print mid-flight.
	holdHeat    bool
	heatOnce    sync.Once
	heatStarted chan struct{}
	heatRelease chan struct{}

	// killCommand, when set, makes the firmware answer that command with
	// the fatal kill line instead of an acknowledgement.
	killCommand string
}

func startFakeFirmware(t *testing.T, holdHeat bool) (*fakeFirmware, ConnectionFactory) {
	t.Helper()
	client, server := net.Pipe()
	fw := &fakeFirmware{
		conn:        server,
		r:           bufio.NewReader(server),
		holdHeat:    holdHeat,
		heatStarted: make(chan struct{}),
		heatRelease: make(chan struct{}),
	}
	t.Cleanup(func() { server.Close() })
	go fw.run()
	return fw, func() (io.ReadWriteCloser, error) { return client, nil }
}

func (f *fakeFirmware) run() {
	f.send("start")
	for {
		raw, err := f.r.ReadString('\n')
		if err != nil {
			return
		}
		command := unframe(strings.TrimRight(raw, "\n"))

		f.mu.Lock()
		f.commands = append(f.commands, command)
		kill := f.killCommand != "" && command == f.killCommand
		f.mu.Unlock()

		switch {
		case kill:
			f.send("Error:" + marlin.KilledMessage)

		case strings.HasPrefix(command, "M110"):
			f.send("ok")

		case command == "M503":
			f.send("echo:M201 X500.00 Y500.00 Z100.00 E5000.00")
			f.send("echo:M203 X500.00 Y500.00 Z10.00 E50.00")
			f.send("ok")

		case command == "M115":
			f.send("FIRMWARE_NAME:Marlin 2.1.2 MACHINE_TYPE:TestRig EXTRUDER_COUNT:2 UUID:00000000-0000-0000-0000-000000000000")
			f.send("Cap:AUTOREPORT_TEMP:1")
			f.send("Cap:EMERGENCY_PARSER:0")
			f.send("ok")

		case f.holdHeat && strings.HasPrefix(command, "M190"):
			f.heatOnce.Do(func() {
				close(f.heatStarted)
				<-f.heatRelease
			})
			f.send("ok")

		default:
			f.send("ok")
		}
	}
}

func (f *fakeFirmware) send(line string) {
	io.WriteString(f.conn, line+"\n")
}

func (f *fakeFirmware) killOn(command string) {
	f.mu.Lock()
	f.killCommand = command
	f.mu.Unlock()
}

func (f *fakeFirmware) saw(command string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if c == command {
			return true
		}
	}
	return false
}

// unframe strips the line number prefix and checksum trailer from a frame.
func unframe(frame string) string {
	if i := strings.LastIndex(frame, " N"); i >= 0 && strings.Contains(frame[i:], "*") {
		frame = frame[:i]
	}
	if strings.HasPrefix(frame, "N") {
		if j := strings.IndexByte(frame, ' '); j >= 0 {
			frame = frame[j+1:]
		}
	}
	return frame
}

// recordingNotifier captures driver notifications for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	states []State
	events chan PrintEvent
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(chan PrintEvent, 4)}
}

func (n *recordingNotifier) StateChanged(old, new State) {
	n.mu.Lock()
	n.states = append(n.states, new)
	n.mu.Unlock()
}

func (n *recordingNotifier) TemperaturesUpdated(temps marlin.PrinterTemperatures) {}

func (n *recordingNotifier) PrintEvent(event PrintEvent) {
	n.events <- event
}

func (n *recordingNotifier) sawState(s State) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, got := range n.states {
		if got == s {
			return true
		}
	}
	return false
}

// statesAfter returns the states recorded after the first occurrence of s.
func (n *recordingNotifier) statesAfter(s State) []State {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, got := range n.states {
		if got == s {
			out := make([]State, len(n.states)-i-1)
			copy(out, n.states[i+1:])
			return out
		}
	}
	return nil
}

func (n *recordingNotifier) waitEvent(t *testing.T) PrintEvent {
	t.Helper()
	select {
	case event := <-n.events:
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for print event")
		return PrintEvent{}
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Connection.ConnectRetries = 1
	cfg.Connection.RetryDelay = 10 * time.Millisecond
	cfg.Connection.StartupTimeout = 2 * time.Second
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMarlinPrinter_ConnectAndDisconnect(t *testing.T) {
	fw, dial := startFakeFirmware(t, false)
	notifier := newRecordingNotifier()
	p := NewMarlinPrinter(dial, testConfig(), discardLog(), notifier)
	t.Cleanup(p.Dispose)

	ctx := context.Background()
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if got := p.State(); got != StateReady {
		t.Errorf("State = %s, want ready", got)
	}

	info := p.FirmwareInfo()
	if info.Name != "Marlin 2.1.2" {
		t.Errorf("firmware Name = %q, want Marlin 2.1.2", info.Name)
	}
	if info.MachineType != "TestRig" {
		t.Errorf("MachineType = %q, want TestRig", info.MachineType)
	}
	if info.ExtruderCount != 2 {
		t.Errorf("ExtruderCount = %d, want 2", info.ExtruderCount)
	}
	if !info.Supports(marlin.CapabilityAutoReportTemp) {
		t.Error("AUTOREPORT_TEMP not recognized")
	}
	if info.Supports(marlin.CapabilityEmergencyParser) {
		t.Error("EMERGENCY_PARSER reported as supported, advertised as 0")
	}

	limits := p.Limits()
	if got := limits.MaxAcceleration["X"]; got != 500 {
		t.Errorf("MaxAcceleration[X] = %v, want 500", got)
	}
	if got := limits.MaxFeedrate["Z"]; got != 10 {
		t.Errorf("MaxFeedrate[Z] = %v, want 10", got)
	}

	for _, command := range []string{"M503", "M115", "M155 S1"} {
		if !fw.saw(command) {
			t.Errorf("firmware never received %q", command)
		}
	}

	// Unsolicited telemetry updates the snapshot.
	fw.send("T:25.00 /0.00 B:24.00 /0.00")
	waitFor(t, "temperature snapshot", func() bool {
		return p.Temperatures().ActiveHotend != nil
	})
	if temps := p.Temperatures(); temps.ActiveHotend.Current != 25 {
		t.Errorf("ActiveHotend.Current = %v, want 25", temps.ActiveHotend.Current)
	}

	if err := p.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if got := p.State(); got != StateDisconnected {
		t.Errorf("State after disconnect = %s, want disconnected", got)
	}
	if temps := p.Temperatures(); temps.ActiveHotend != nil {
		t.Error("temperatures not cleared on disconnect")
	}

	// Disconnecting again is a no-op.
	if err := p.Disconnect(ctx); err != nil {
		t.Errorf("second Disconnect = %v, want nil", err)
	}
}

func TestMarlinPrinter_ConnectFailsWhenDialFails(t *testing.T) {
	dialErr := errors.New("no such port")
	dial := func() (io.ReadWriteCloser, error) { return nil, dialErr }

	cfg := testConfig()
	cfg.Connection.ConnectRetries = 2
	p := NewMarlinPrinter(dial, cfg, discardLog(), nil)

	err := p.Connect(context.Background())
	if !errors.Is(err, dialErr) {
		t.Errorf("Connect = %v, want wrapped dial error", err)
	}
	if got := p.State(); got != StateDisconnected {
		t.Errorf("State = %s, want disconnected", got)
	}
}

func TestMarlinPrinter_OperationsRequireConnection(t *testing.T) {
	p := NewMarlinPrinter(nil, testConfig(), discardLog(), nil)
	ctx := context.Background()

	if err := p.SendCommand(ctx, "G28"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SendCommand = %v, want ErrInvalidState", err)
	}
	if err := p.StartPrint(ctx, strings.NewReader("G28\n")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("StartPrint = %v, want ErrInvalidState", err)
	}
	if err := p.AbortPrint(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("AbortPrint = %v, want ErrInvalidState", err)
	}
	if err := p.Pause(ctx); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("Pause = %v, want ErrNotImplemented", err)
	}
	if err := p.Resume(ctx); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("Resume = %v, want ErrNotImplemented", err)
	}
}

func TestMarlinPrinter_PrintToCompletion(t *testing.T) {
	fw, dial := startFakeFirmware(t, false)
	notifier := newRecordingNotifier()
	p := NewMarlinPrinter(dial, testConfig(), discardLog(), notifier)
	t.Cleanup(p.Dispose)

	ctx := context.Background()
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	job := ";FLAVOR:Marlin\n" +
		";TIME:100\n" +
		"G28\n" +
		"G1 X10 Y10\n" +
		";TIME_ELAPSED:100\n"
	if err := p.StartPrint(ctx, strings.NewReader(job)); err != nil {
		t.Fatalf("StartPrint failed: %v", err)
	}

	event := notifier.waitEvent(t)
	if event.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %s (err %v), want success", event.Outcome, event.Err)
	}

	waitFor(t, "ready state", func() bool { return p.State() == StateReady })

	for _, command := range []string{"G28", "G1 X10 Y10", "M104 S0", "M140 S0", "M84"} {
		if !fw.saw(command) {
			t.Errorf("firmware never received %q", command)
		}
	}

	if got := p.Progress(); got != 0 {
		t.Errorf("Progress after completion = %v, want 0", got)
	}
}

func TestMarlinPrinter_UltiGCodePrintSynthesizesPreamble(t *testing.T) {
	fw, dial := startFakeFirmware(t, false)
	notifier := newRecordingNotifier()
	p := NewMarlinPrinter(dial, testConfig(), discardLog(), notifier)
	t.Cleanup(p.Dispose)

	ctx := context.Background()
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	job := ";FLAVOR:UltiGCode\n" +
		";TIME:100\n" +
		"G1 X10\n"
	if err := p.StartPrint(ctx, strings.NewReader(job)); err != nil {
		t.Fatalf("StartPrint failed: %v", err)
	}

	event := notifier.waitEvent(t)
	if event.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %s (err %v), want success", event.Outcome, event.Err)
	}

	// Default PLA material: bed 60, hotend 210, prime 20mm.
	for _, command := range []string{"M190 S60", "M109 S210", "G92 E0", "G1 E20 F200", "G1 X10"} {
		if !fw.saw(command) {
			t.Errorf("firmware never received %q", command)
		}
	}

	if !notifier.sawState(StateHeating) {
		t.Error("driver never reported the heating state")
	}
}

func TestMarlinPrinter_AbortPrint(t *testing.T) {
	fw, dial := startFakeFirmware(t, true)
	notifier := newRecordingNotifier()
	p := NewMarlinPrinter(dial, testConfig(), discardLog(), notifier)
	t.Cleanup(p.Dispose)

	ctx := context.Background()
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	job := ";FLAVOR:Marlin\n" +
		"M190 S60\n" +
		"G1 X10\n" +
		"G1 X20\n"
	if err := p.StartPrint(ctx, strings.NewReader(job)); err != nil {
		t.Fatalf("StartPrint failed: %v", err)
	}

	// The firmware holds the M190 acknowledgement, freezing the job in the
	// heating state.
	select {
	case <-fw.heatStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("print never reached the held M190")
	}
	if got := p.State(); got != StateHeating {
		t.Errorf("State during held M190 = %s, want heating", got)
	}

	abortErrs := make(chan error, 1)
	go func() {
		abortErrs <- p.AbortPrint(ctx)
	}()

	// The job observes the cancellation and reports it before the held
	// acknowledgement is released.
	event := notifier.waitEvent(t)
	if event.Outcome != OutcomeCanceled {
		t.Fatalf("Outcome = %s, want canceled", event.Outcome)
	}

	// Release the in-flight acknowledgement so the cancel sequence can
	// proceed through the reopened gate.
	close(fw.heatRelease)

	if err := <-abortErrs; err != nil {
		t.Fatalf("AbortPrint failed: %v", err)
	}
	if got := p.State(); got != StateReady {
		t.Errorf("State after abort = %s, want ready", got)
	}

	waitFor(t, "cancel sequence", func() bool { return fw.saw("M107") && fw.saw("M84") })
	if fw.saw("G1 X20") {
		t.Error("lines after the cancellation point were still sent")
	}
}

func TestMarlinPrinter_FirmwareHaltDuringPrintReportsError(t *testing.T) {
	fw, dial := startFakeFirmware(t, false)
	fw.killOn("G1 X10")
	notifier := newRecordingNotifier()
	p := NewMarlinPrinter(dial, testConfig(), discardLog(), notifier)
	t.Cleanup(p.Dispose)

	ctx := context.Background()
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	job := ";FLAVOR:Marlin\n" +
		"G28\n" +
		"G1 X10\n" +
		"G1 X20\n"
	if err := p.StartPrint(ctx, strings.NewReader(job)); err != nil {
		t.Fatalf("StartPrint failed: %v", err)
	}

	// The firmware answers the move with its kill line; the halt must reach
	// the controller as a failure, not as a cancellation.
	event := notifier.waitEvent(t)
	if event.Outcome != OutcomeErrored {
		t.Fatalf("Outcome = %s (err %v), want errored", event.Outcome, event.Err)
	}
	if !errors.Is(event.Err, marlin.ErrPrinterHalted) {
		t.Errorf("event.Err = %v, want ErrPrinterHalted", event.Err)
	}

	waitFor(t, "disconnected state", func() bool { return p.State() == StateDisconnected })
	if fw.saw("G1 X20") {
		t.Error("lines after the halt were still sent")
	}
}

func TestMarlinPrinter_CancelSequenceHeatingKeepsCancelingState(t *testing.T) {
	fw, dial := startFakeFirmware(t, true)
	notifier := newRecordingNotifier()
	cfg := testConfig()
	cfg.Printer.Sequences.Cancel = []string{"M190 S0", "M107"}
	p := NewMarlinPrinter(dial, cfg, discardLog(), notifier)
	t.Cleanup(p.Dispose)

	ctx := context.Background()
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	job := ";FLAVOR:Marlin\n" +
		"M190 S60\n" +
		"G1 X10\n"
	if err := p.StartPrint(ctx, strings.NewReader(job)); err != nil {
		t.Fatalf("StartPrint failed: %v", err)
	}

	select {
	case <-fw.heatStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("print never reached the held M190")
	}

	abortErrs := make(chan error, 1)
	go func() {
		abortErrs <- p.AbortPrint(ctx)
	}()

	event := notifier.waitEvent(t)
	if event.Outcome != OutcomeCanceled {
		t.Fatalf("Outcome = %s, want canceled", event.Outcome)
	}
	close(fw.heatRelease)

	if err := <-abortErrs; err != nil {
		t.Fatalf("AbortPrint failed: %v", err)
	}
	if got := p.State(); got != StateReady {
		t.Errorf("State after abort = %s, want ready", got)
	}
	if !fw.saw("M190 S0") {
		t.Error("cancel sequence heating command never sent")
	}

	// The cancel sequence's own heat-and-wait surfaces the heating state but
	// must settle back to canceling, never printing.
	for _, s := range notifier.statesAfter(StateCanceling) {
		if s == StatePrinting {
			t.Fatal("driver re-entered printing while canceling")
		}
	}
}

func TestMarlinPrinter_HandleRequest(t *testing.T) {
	fw, dial := startFakeFirmware(t, false)
	p := NewMarlinPrinter(dial, testConfig(), discardLog(), nil)
	t.Cleanup(p.Dispose)

	ctx := context.Background()
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	results := make(chan error, 1)
	ack := func(err error) { results <- err }

	p.HandleRequest(ctx, Request{Kind: RequestSendCommand, Command: "G28\nM105", Ack: ack})
	if err := <-results; err != nil {
		t.Fatalf("send command request failed: %v", err)
	}
	if !fw.saw("G28") || !fw.saw("M105") {
		t.Error("command block not fully delivered")
	}

	p.HandleRequest(ctx, Request{Kind: RequestAbortPrint, Ack: ack})
	if err := <-results; !errors.Is(err, ErrInvalidState) {
		t.Errorf("abort with no print = %v, want ErrInvalidState", err)
	}

	p.HandleRequest(ctx, Request{Kind: RequestKind(99), Ack: ack})
	if err := <-results; err == nil {
		t.Error("unknown request kind acknowledged without error")
	}
}
