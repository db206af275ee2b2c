package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

// TransferMsg reports byte progress for one host's file transfer. Total is
// zero when the remote size is unknown; Done marks the transfer finished
// regardless of the byte counts.
type TransferMsg struct {
	Host    string
	Current int64
	Total   int64
	Done    bool
	Err     error
}

type transferRow struct {
	bar     progress.Model
	percent float64
	current int64
	total   int64
	err     error
	done    bool
}

// TransferModel renders per-host progress bars for a copy or slurp batch.
type TransferModel struct {
	title    string
	hosts    []string
	rows     map[string]*transferRow
	width    int
	quitting bool
}

func NewTransferModel(title string, hosts []string) TransferModel {
	rows := make(map[string]*transferRow, len(hosts))
	for _, h := range hosts {
		rows[h] = &transferRow{
			bar: progress.New(
				progress.WithGradient("#7D56F4", "#04B575"),
				progress.WithoutPercentage(),
			),
		}
	}
	sorted := append([]string(nil), hosts...)
	sort.Strings(sorted)

	return TransferModel{
		title: title,
		hosts: sorted,
		rows:  rows,
		width: 100,
	}
}

func (m TransferModel) Init() tea.Cmd {
	return nil
}

func (m TransferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case TransferMsg:
		row, ok := m.rows[msg.Host]
		if !ok {
			return m, nil
		}
		if msg.Err != nil {
			row.err = msg.Err
			row.done = true
			return m, nil
		}
		if msg.Current > 0 || msg.Total > 0 {
			row.current, row.total = msg.Current, msg.Total
		}
		if msg.Total > 0 {
			row.percent = float64(msg.Current) / float64(msg.Total)
		}
		if msg.Done || (msg.Total > 0 && msg.Current >= msg.Total) {
			row.done = true
		}
		return m, nil

	case DoneMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m TransferModel) View() string {
	const (
		colHost   = 24
		colStatus = 14
		colBar    = 32
		colSize   = 22
	)

	var b strings.Builder
	b.WriteString(headerStyle.Render(m.title))
	b.WriteString("\n\n")

	widths := []int{colHost, colStatus, colBar, colSize}
	writeBorder(&b, "┌", "┬", "┐", widths)
	writeRow(&b, widths, "Host", "Status", "Progress", "Size")
	writeBorder(&b, "├", "┼", "┤", widths)

	for _, h := range m.hosts {
		row := m.rows[h]
		row.bar.Width = colBar

		var status, bar, size string
		switch {
		case row.err != nil:
			status = failStyle.Render("✗ failed")
			bar = truncate(row.err.Error(), colBar)
			size = "-"
		case row.done:
			status = okStyle.Render("✓ done")
			bar = row.bar.ViewAs(1.0)
			n := row.total
			if n == 0 {
				n = row.current
			}
			size = formatBytes(n)
		default:
			status = dimStyle.Render("transferring")
			pct := row.percent
			if pct > 1 {
				pct = 1
			}
			bar = row.bar.ViewAs(pct)
			if row.total > 0 {
				size = fmt.Sprintf("%s/%s", formatBytes(row.current), formatBytes(row.total))
			} else {
				size = formatBytes(row.current)
			}
		}

		writeRow(&b, widths, truncate(h, colHost), status, bar, size)
	}
	writeBorder(&b, "└", "┴", "┘", widths)

	if !m.quitting {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("press q to quit"))
	}
	b.WriteString("\n")

	return b.String()
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
