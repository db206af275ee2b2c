package tui

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestNewBatchModel(t *testing.T) {
	hosts := []string{"web2", "web1", "web3"}
	m := NewBatchModel("parallax call: uptime", hosts)

	if len(m.rows) != 3 {
		t.Errorf("expected 3 rows, got %d", len(m.rows))
	}
	// Hosts render sorted.
	if m.hosts[0] != "web1" || m.hosts[2] != "web3" {
		t.Errorf("expected sorted hosts, got %v", m.hosts)
	}
}

func TestBatchModelInit(t *testing.T) {
	m := NewBatchModel("t", []string{"web1"})
	if m.Init() == nil {
		t.Error("Init should return a tick cmd")
	}
}

func TestBatchModelKeys(t *testing.T) {
	tests := []struct {
		name     string
		key      tea.KeyMsg
		quitting bool
	}{
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}, true},
		{"q", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}, true},
		{"enter", tea.KeyMsg{Type: tea.KeyEnter}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewBatchModel("t", []string{"web1"})
			next, _ := m.Update(tt.key)
			if got := next.(*BatchModel).quitting; got != tt.quitting {
				t.Errorf("after %s, quitting=%v, want %v", tt.name, got, tt.quitting)
			}
		})
	}
}

func TestBatchModelStatusMsg(t *testing.T) {
	m := NewBatchModel("t", []string{"web1"})

	next, _ := m.Update(StatusMsg{Host: "web1", State: StateDone, Detail: "ok", ExitStatus: 2})
	bm := next.(*BatchModel)

	row := bm.rows["web1"]
	if row.state != StateDone || row.detail != "ok" || row.status != 2 {
		t.Errorf("unexpected row: %+v", row)
	}
	if row.ended.IsZero() {
		t.Error("expected end time to be recorded")
	}
}

func TestBatchModelSummary(t *testing.T) {
	m := NewBatchModel("t", []string{"a", "b", "c"})
	m.rows["b"].state = StateDone
	m.rows["c"].state = StateFailed

	running, done, failed := m.Summary()
	if running != 1 || done != 1 || failed != 1 {
		t.Errorf("got %d/%d/%d, want 1/1/1", running, done, failed)
	}
}

func TestBatchModelDoneMsg(t *testing.T) {
	m := NewBatchModel("t", []string{"web1"})
	next, cmd := m.Update(DoneMsg{})
	if !next.(*BatchModel).quitting {
		t.Error("expected quitting after DoneMsg")
	}
	if cmd == nil {
		t.Error("expected quit cmd")
	}
}

func TestBatchModelView(t *testing.T) {
	m := NewBatchModel("parallax call: uptime", []string{"web1"})
	m.rows["web1"].state = StateDone
	m.rows["web1"].detail = "up 3 days"

	view := m.View()
	if !strings.Contains(view, "parallax call: uptime") {
		t.Error("expected view to contain the title")
	}
	if !strings.Contains(view, "┌") || !strings.Contains(view, "┘") {
		t.Error("expected table borders")
	}
	if !strings.Contains(view, "up 3 days") {
		t.Error("expected detail column content")
	}
}

func TestTransferModelProgress(t *testing.T) {
	m := NewTransferModel("pushing app.conf", []string{"web1", "web2"})

	next, _ := m.Update(TransferMsg{Host: "web1", Current: 512, Total: 1024})
	tm := next.(TransferModel)
	if tm.rows["web1"].percent != 0.5 {
		t.Errorf("expected 0.5, got %v", tm.rows["web1"].percent)
	}

	next, _ = tm.Update(TransferMsg{Host: "web1", Current: 1024, Total: 1024})
	tm = next.(TransferModel)
	if !tm.rows["web1"].done {
		t.Error("expected done at full transfer")
	}

	next, _ = tm.Update(TransferMsg{Host: "web2", Err: errors.New("connection reset")})
	tm = next.(TransferModel)
	if tm.rows["web2"].err == nil || !tm.rows["web2"].done {
		t.Error("expected errored row to be done")
	}

	view := tm.View()
	if !strings.Contains(view, "connection reset") {
		t.Error("expected error in view")
	}
}

func TestTransferModelDoneWithoutTotal(t *testing.T) {
	m := NewTransferModel("fetching app.log", []string{"web1"})

	// Downloads report bytes without a known total.
	next, _ := m.Update(TransferMsg{Host: "web1", Current: 2048})
	tm := next.(TransferModel)
	if tm.rows["web1"].done {
		t.Error("row should not be done while bytes are still arriving")
	}
	view := tm.View()
	if !strings.Contains(view, "2.0 KB") {
		t.Error("expected byte count in view")
	}

	next, _ = tm.Update(TransferMsg{Host: "web1", Done: true})
	tm = next.(TransferModel)
	row := tm.rows["web1"]
	if !row.done {
		t.Error("expected done after completion message")
	}
	if row.current != 2048 {
		t.Errorf("completion message should keep the byte count, got %d", row.current)
	}
	view = tm.View()
	if !strings.Contains(view, "✓ done") || !strings.Contains(view, "2.0 KB") {
		t.Error("expected done status with final byte count")
	}
}

func TestStripAnsi(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"\033[31mError\033[0m", "Error"},
		{"normal text", "normal text"},
		{"\033[1;32mSuccess\033[0m message", "Success message"},
	}
	for _, tt := range tests {
		if got := stripAnsi(tt.input); got != tt.expected {
			t.Errorf("stripAnsi(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		contains string
	}{
		{"short string", "hello", 10, "hello"},
		{"truncated", "hello world", 8, "..."},
		{"exact fit", "hello", 5, "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.input, tt.max)
			if !strings.Contains(got, tt.contains) {
				t.Errorf("truncate(%q, %d) = %q, should contain %q", tt.input, tt.max, got, tt.contains)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func BenchmarkBatchModelView(b *testing.B) {
	hosts := make([]string, 50)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("host%d.example.com", i)
	}
	m := NewBatchModel("parallax call: uptime", hosts)
	for _, h := range hosts {
		m.rows[h].detail = "processing"
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.View()
	}
}
