package tui

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// HostState is where one host currently is in the batch.
type HostState int

const (
	StateRunning HostState = iota
	StateDone
	StateFailed
)

// StatusMsg updates one host's row.
type StatusMsg struct {
	Host       string
	State      HostState
	Detail     string // last output line or error text
	ExitStatus int
}

// DoneMsg ends the program once every host has reported.
type DoneMsg struct{}

type hostRow struct {
	state   HostState
	detail  string
	status  int
	started time.Time
	ended   time.Time
}

// BatchModel renders a live table of per-host batch progress.
type BatchModel struct {
	title    string
	hosts    []string
	rows     map[string]*hostRow
	mu       sync.RWMutex
	spinner  int
	width    int
	quitting bool
}

type tickMsg time.Time

// NewBatchModel builds the model for a batch over the given host entries.
// The title line usually names the operation and command.
func NewBatchModel(title string, hosts []string) *BatchModel {
	rows := make(map[string]*hostRow, len(hosts))
	now := time.Now()
	for _, h := range hosts {
		rows[h] = &hostRow{state: StateRunning, started: now}
	}
	sorted := append([]string(nil), hosts...)
	sort.Strings(sorted)

	return &BatchModel{
		title: title,
		hosts: sorted,
		rows:  rows,
		width: 100,
	}
}

func (m *BatchModel) Init() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *BatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		m.spinner = (m.spinner + 1) % len(spinnerFrames)
		return m, tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
			return tickMsg(t)
		})

	case StatusMsg:
		m.mu.Lock()
		if row, ok := m.rows[msg.Host]; ok {
			row.state = msg.State
			row.status = msg.ExitStatus
			if msg.Detail != "" {
				row.detail = msg.Detail
			}
			if msg.State != StateRunning {
				row.ended = time.Now()
			}
		}
		m.mu.Unlock()
		return m, nil

	case DoneMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// Summary counts hosts per state.
func (m *BatchModel) Summary() (running, done, failed int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.rows {
		switch row.state {
		case StateDone:
			done++
		case StateFailed:
			failed++
		default:
			running++
		}
	}
	return running, done, failed
}

func (m *BatchModel) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	const (
		colHost   = 22
		colStatus = 12
		colTime   = 8
		colDetail = 42
	)

	var b strings.Builder
	b.WriteString(headerStyle.Render(m.title))
	b.WriteString("\n\n")

	widths := []int{colHost, colStatus, colTime, colDetail}
	writeBorder(&b, "┌", "┬", "┐", widths)
	writeRow(&b, widths, "Host", "Status", "Time", "Last output")
	writeBorder(&b, "├", "┼", "┤", widths)

	for _, h := range m.hosts {
		row := m.rows[h]

		var status string
		switch row.state {
		case StateDone:
			if row.status == 0 {
				status = okStyle.Render("✓ done")
			} else {
				status = okStyle.Render(fmt.Sprintf("✓ exit %d", row.status))
			}
		case StateFailed:
			status = failStyle.Render("✗ failed")
		default:
			status = spinnerFrames[m.spinner] + " running"
		}

		end := row.ended
		if end.IsZero() {
			end = time.Now()
		}
		elapsed := end.Sub(row.started)
		var duration string
		if elapsed >= time.Second {
			duration = fmt.Sprintf("%.1fs", elapsed.Seconds())
		} else {
			duration = fmt.Sprintf("%dms", elapsed.Milliseconds())
		}

		writeRow(&b, widths, truncate(h, colHost), status, duration, truncate(row.detail, colDetail))
	}
	writeBorder(&b, "└", "┴", "┘", widths)

	running, done, failed := m.summaryLocked()
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%d running, %d done, %d failed", running, done, failed)))
	if !m.quitting {
		b.WriteString(dimStyle.Render("  ·  press q to quit"))
	}
	b.WriteString("\n")

	return b.String()
}

func (m *BatchModel) summaryLocked() (running, done, failed int) {
	for _, row := range m.rows {
		switch row.state {
		case StateDone:
			done++
		case StateFailed:
			failed++
		default:
			running++
		}
	}
	return running, done, failed
}

func writeBorder(b *strings.Builder, left, mid, right string, widths []int) {
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat("─", w+2)
	}
	b.WriteString(borderStyle.Render(left + strings.Join(parts, mid) + right))
	b.WriteString("\n")
}

func writeRow(b *strings.Builder, widths []int, cells ...string) {
	sep := borderStyle.Render("│")
	for i, cell := range cells {
		b.WriteString(sep)
		b.WriteString(" " + padRight(cell, widths[i]) + " ")
	}
	b.WriteString(sep)
	b.WriteString("\n")
}
