// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 3DCloud

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/3DCloud/Client-sub000/pkg/marlin"
	"github.com/3DCloud/Client-sub000/pkg/printer"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive printer console",
	Long: `An interactive terminal UI for the connected printer: live state,
temperatures and print progress, with a command line for sending raw G-code.

Type a command and press Enter to send it. Ctrl+C or Esc exits (the printer
is disconnected cleanly on the way out).`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

// Messages delivered into the TUI from the driver's notifier and from
// command completions.
type consoleStateMsg struct{ state printer.State }

type consoleTempsMsg struct{ temps marlin.PrinterTemperatures }

type consoleEventMsg struct{ event printer.PrintEvent }

type consoleSentMsg struct {
	command string
	err     error
}

type consoleTickMsg time.Time

// consoleNotifier forwards driver notifications into the running TUI.
type consoleNotifier struct {
	program *tea.Program
}

func (n *consoleNotifier) StateChanged(old, new printer.State) {
	if n.program != nil {
		n.program.Send(consoleStateMsg{state: new})
	}
}

func (n *consoleNotifier) TemperaturesUpdated(temps marlin.PrinterTemperatures) {
	if n.program != nil {
		n.program.Send(consoleTempsMsg{temps: temps})
	}
}

func (n *consoleNotifier) PrintEvent(event printer.PrintEvent) {
	if n.program != nil {
		n.program.Send(consoleEventMsg{event: event})
	}
}

var (
	consoleTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	consoleStatusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	consoleErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	consoleSentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	consoleDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type consoleModel struct {
	p        *printer.MarlinPrinter
	connInfo string

	state     printer.State
	temps     marlin.PrinterTemperatures
	progress  float64
	remaining time.Duration

	lines []string
	input textinput.Model

	width  int
	height int
}

func newConsoleModel(p *printer.MarlinPrinter, connInfo string) consoleModel {
	input := textinput.New()
	input.Placeholder = "G-code command"
	input.Prompt = "> "
	input.CharLimit = 96
	input.Focus()

	return consoleModel{
		p:        p,
		connInfo: connInfo,
		state:    p.State(),
		input:    input,
		width:    80,
		height:   24,
	}
}

func consoleTick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return consoleTickMsg(t)
	})
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, consoleTick())
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			command := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if command == "" {
				return m, nil
			}
			return m, sendConsoleCommand(m.p, command)
		}

	case consoleStateMsg:
		m.state = msg.state
		return m, nil

	case consoleTempsMsg:
		m.temps = msg.temps
		return m, nil

	case consoleEventMsg:
		m.appendLine(consoleDimStyle.Render(fmt.Sprintf("print %s", msg.event.Outcome)))
		if msg.event.Err != nil {
			m.appendLine(consoleErrStyle.Render(msg.event.Err.Error()))
		}
		return m, nil

	case consoleSentMsg:
		if msg.err != nil {
			m.appendLine(consoleErrStyle.Render(fmt.Sprintf("%s: %v", msg.command, msg.err)))
		} else {
			m.appendLine(consoleSentStyle.Render(fmt.Sprintf("%s: ok", msg.command)))
		}
		return m, nil

	case consoleTickMsg:
		m.progress = m.p.Progress()
		m.remaining = m.p.TimeRemaining()
		return m, consoleTick()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *consoleModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if max := 200; len(m.lines) > max {
		m.lines = m.lines[len(m.lines)-max:]
	}
}

func sendConsoleCommand(p *printer.MarlinPrinter, command string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return consoleSentMsg{command: command, err: p.SendCommand(ctx, command)}
	}
}

func (m consoleModel) View() string {
	var b strings.Builder

	b.WriteString(consoleTitleStyle.Render("Printer Console"))
	b.WriteString(consoleDimStyle.Render("  " + m.connInfo))
	b.WriteString("\n\n")

	status := fmt.Sprintf("state: %-13s", m.state)
	if m.state.Busy() {
		status += fmt.Sprintf("  progress: %5.1f%%  remaining: %s", m.progress*100, formatRemaining(m.remaining))
	}
	b.WriteString(consoleStatusStyle.Render(status))
	b.WriteString("\n")

	temps := "temps:"
	if m.temps.ActiveHotend != nil {
		temps += fmt.Sprintf("  hotend %.1f/%.0f", m.temps.ActiveHotend.Current, m.temps.ActiveHotend.Target)
	}
	for _, hotend := range m.temps.Hotends {
		temps += fmt.Sprintf("  %s %.1f/%.0f", hotend.Sensor, hotend.Current, hotend.Target)
	}
	if m.temps.BuildPlate != nil {
		temps += fmt.Sprintf("  bed %.1f/%.0f", m.temps.BuildPlate.Current, m.temps.BuildPlate.Target)
	}
	b.WriteString(consoleStatusStyle.Render(temps))
	b.WriteString("\n\n")

	// Log window fills the space between the header and the input line.
	logHeight := m.height - 8
	if logHeight < 3 {
		logHeight = 3
	}
	start := 0
	if len(m.lines) > logHeight {
		start = len(m.lines) - logHeight
	}
	for _, line := range m.lines[start:] {
		b.WriteString(line)
		b.WriteString("\n")
	}
	for i := len(m.lines) - start; i < logHeight; i++ {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(consoleDimStyle.Render("enter: send  •  esc: quit"))

	return b.String()
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	if err := requireConnectionFlags(cfg); err != nil {
		return err
	}

	// The TUI owns the terminal; driver logging is discarded.
	log := newLogger(cfg, true)

	factory, connInfo, err := ConnectionFactory(cfg)
	if err != nil {
		return err
	}

	notifier := &consoleNotifier{}
	p := printer.NewMarlinPrinter(factory, cfg, log, notifier)

	fmt.Printf("Connecting (%s)...\n", connInfo)
	if err := p.Connect(context.Background()); err != nil {
		return err
	}

	program := tea.NewProgram(newConsoleModel(p, connInfo), tea.WithAltScreen())
	notifier.program = program

	_, runErr := program.Run()

	if err := p.Disconnect(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
