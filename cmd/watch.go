// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Edward GCB

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/EdwardGCB/expo-usb-conected/pkg/freestyle"
)

var watchTimeout int

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard for a meter session",
	Long: `Run a full meter session (connect, identity, record download) in a
terminal dashboard: session state and progress up top, downloaded
records in a scrollable pane, protocol events at the bottom.

Keys:
  up/down - scroll records
  q       - quit

Exit codes:
  0 - Session completed (or quit by the user)
  1 - Session failed`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().IntVar(&watchTimeout, "timeout", 300, "Overall timeout in seconds")
}

// Watch messages
type watchProgressMsg freestyle.Progress
type watchStateMsg string
type watchInfoMsg freestyle.DeviceInfo
type watchRecordsMsg []freestyle.Record
type watchErrMsg struct{ err error }
type watchDoneMsg struct{ stats *freestyle.Statistics }

// Watch event log entry
type watchLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

var (
	watchTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	watchStateStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	watchErrorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	watchDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	watchBorderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type watchModel struct {
	connInfo string

	spinner  spinner.Model
	records  viewport.Model
	ready    bool
	running  bool
	quitting bool

	state    string
	progress string
	info     *freestyle.DeviceInfo
	count    int
	stats    *freestyle.Statistics
	err      error

	log           []watchLogEntry
	maxLogEntries int

	width  int
	height int
}

func newWatchModel(connInfo string) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return watchModel{
		connInfo:      connInfo,
		spinner:       sp,
		running:       true,
		state:         freestyle.StateDisconnected.String(),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tea.EnterAltScreen)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		paneHeight := m.height - 12
		if paneHeight < 3 {
			paneHeight = 3
		}
		if !m.ready {
			m.records = viewport.New(m.width-4, paneHeight)
			m.ready = true
		} else {
			m.records.Width = m.width - 4
			m.records.Height = paneHeight
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case watchStateMsg:
		m.state = string(msg)
		m.addLogEntry(fmt.Sprintf("state: %s", msg), false)

	case watchProgressMsg:
		m.progress = fmt.Sprintf("[%d/%d] %s", msg.Step, msg.Total, msg.Message)
		m.addLogEntry(m.progress, false)

	case watchInfoMsg:
		info := freestyle.DeviceInfo(msg)
		m.info = &info
		if info.NeedsSync {
			m.addLogEntry(fmt.Sprintf("meter clock off by %s", info.ClockSkew), true)
		}

	case watchRecordsMsg:
		m.count = len(msg)
		var b strings.Builder
		for _, r := range msg {
			row := flattenRecord(r)
			line := fmt.Sprintf("%-4d %-12s %-20s %-10s %-8s", row.Index, row.Kind, row.Timestamp, row.Value, row.Unit)
			if row.Marker != "" {
				line += " " + row.Marker
			}
			b.WriteString(line + "\n")
		}
		if m.ready {
			m.records.SetContent(b.String())
		}
		m.addLogEntry(fmt.Sprintf("%d records downloaded", m.count), false)

	case watchErrMsg:
		m.err = msg.err
		m.running = false
		m.addLogEntry(msg.err.Error(), true)

	case watchDoneMsg:
		m.stats = msg.stats
		m.running = false
		m.addLogEntry("session complete", false)
	}

	if m.ready {
		var cmd tea.Cmd
		m.records, cmd = m.records.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *watchModel) addLogEntry(message string, isError bool) {
	m.log = append(m.log, watchLogEntry{timestamp: time.Now(), message: message, isError: isError})
	if len(m.log) > m.maxLogEntries {
		m.log = m.log[len(m.log)-m.maxLogEntries:]
	}
}

func (m watchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(watchTitleStyle.Render("Optium - Session Dashboard"))
	b.WriteString(watchDimStyle.Render("  " + m.connInfo))
	b.WriteString("\n\n")

	status := watchStateStyle.Render(m.state)
	if m.running {
		status = m.spinner.View() + " " + status
		if m.progress != "" {
			status += watchDimStyle.Render("  " + m.progress)
		}
	} else if m.err != nil {
		status = watchErrorStyle.Render("FAILED: " + m.err.Error())
	}
	b.WriteString(status + "\n")

	if m.info != nil {
		b.WriteString(fmt.Sprintf("Serial: %s   Clock: %s (skew %s)\n",
			m.info.SerialNumber, m.info.DeviceTime.Format("2006-01-02 15:04"), m.info.ClockSkew))
	}
	b.WriteString("\n")

	if m.ready {
		b.WriteString(watchBorderStyle.Render(m.records.View()) + "\n")
	}

	if m.stats != nil {
		b.WriteString(watchDimStyle.Render(fmt.Sprintf(
			"frames out %d / in %d, %d queries, %d records",
			m.stats.FramesOut, m.stats.FramesIn, m.stats.Queries, m.stats.RecordsParsed)) + "\n")
	}

	// Last few protocol events
	start := len(m.log) - 4
	if start < 0 {
		start = 0
	}
	for _, entry := range m.log[start:] {
		line := fmt.Sprintf("%s %s", entry.timestamp.Format("15:04:05"), entry.message)
		if entry.isError {
			b.WriteString(watchErrorStyle.Render(line) + "\n")
		} else {
			b.WriteString(watchDimStyle.Render(line) + "\n")
		}
	}

	b.WriteString(watchDimStyle.Render("\nq: quit   up/down: scroll"))
	return b.String()
}

func runWatch(cmd *cobra.Command, args []string) error {
	transport, connInfo, err := OpenTransport()
	if err != nil {
		return err
	}

	p := tea.NewProgram(newWatchModel(connInfo))

	go runWatchSession(p, transport)

	model, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := model.(watchModel); ok && m.err != nil && !m.quitting {
		return m.err
	}
	return nil
}

// runWatchSession drives the whole session, feeding the dashboard.
func runWatchSession(p *tea.Program, transport freestyle.Transport) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(watchTimeout)*time.Second)
	defer cancel()

	session := freestyle.NewSession(transport,
		freestyle.WithLogger(appLog),
		freestyle.WithProgress(func(pr freestyle.Progress) {
			p.Send(watchProgressMsg(pr))
		}),
	)
	defer session.Disconnect()

	p.Send(watchStateMsg(freestyle.StateConnecting.String()))
	if err := session.Connect(ctx); err != nil {
		p.Send(watchErrMsg{err})
		return
	}
	p.Send(watchStateMsg(session.State().String()))

	info, err := session.DeviceInfo(ctx)
	if err != nil {
		p.Send(watchErrMsg{err})
		return
	}
	p.Send(watchInfoMsg(info))

	records, err := session.FetchRecords(ctx)
	if err != nil {
		p.Send(watchErrMsg{err})
		return
	}
	p.Send(watchRecordsMsg(records))

	session.Disconnect()
	p.Send(watchStateMsg(freestyle.StateDisconnected.String()))
	p.Send(watchDoneMsg{stats: session.Statistics()})
}
