package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

// Status is the outcome of one batch task.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusTimeout  Status = "timeout"
	StatusMismatch Status = "mismatch"
)

// TaskSummary is one row of a batch summary.
type TaskSummary struct {
	ID       string  `json:"id"`
	Config   string  `json:"config"`
	Stage    int     `json:"stage"`
	Status   Status  `json:"status"`
	Seconds  float64 `json:"seconds"`
	ExitCode int     `json:"exit_code"`
	Error    string  `json:"error,omitempty"`
}

func (s *TaskSummary) fail(status Status, msg string) {
	s.Status = status
	s.Error = msg
}

// Summary is the result of a batch.
type Summary struct {
	Tasks        []TaskSummary `json:"tasks"`
	TotalSeconds float64       `json:"total_seconds"`
}

// Failed counts tasks that did not end with StatusOK.
func (s *Summary) Failed() int {
	n := 0
	for _, t := range s.Tasks {
		if t.Status != StatusOK {
			n++
		}
	}
	return n
}

func writeSummaryJSON(w io.Writer, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// terminalWidth returns the width of w when it is a terminal.
func terminalWidth(w io.Writer) (int, bool) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0, true
	}
	return width, true
}

// summaryStyles colors statuses. Colors are dropped when the renderer's
// output is not a terminal.
type summaryStyles struct {
	header lipgloss.Style
	cell   lipgloss.Style
	border lipgloss.Style
	status map[Status]lipgloss.Style
	total  lipgloss.Style
}

func newSummaryStyles(r *lipgloss.Renderer) summaryStyles {
	cell := r.NewStyle().Padding(0, 1)
	return summaryStyles{
		header: cell.Bold(true).Foreground(lipgloss.Color("#A78BFA")),
		cell:   cell,
		border: r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		status: map[Status]lipgloss.Style{
			StatusOK:       cell.Foreground(lipgloss.Color("#10B981")),
			StatusFailed:   cell.Foreground(lipgloss.Color("#F87171")),
			StatusTimeout:  cell.Foreground(lipgloss.Color("#F59E0B")),
			StatusMismatch: cell.Foreground(lipgloss.Color("#F59E0B")),
		},
		total: r.NewStyle().Bold(true),
	}
}

const colStatus = 2

// maxErrorWidth caps the error column when the output width is unknown.
const maxErrorWidth = 60

// truncateCell shortens s to width visual columns, ending it with "...".
func truncateCell(s string, width int) string {
	if width <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "...")
}

// writeSummaryTable renders the summary as a table followed by the total.
// Terminals get rounded borders and are fitted to the window width.
func writeSummaryTable(w io.Writer, s *Summary) error {
	width, tty := terminalWidth(w)
	styles := newSummaryStyles(lipgloss.NewRenderer(w))
	errWidth := maxErrorWidth
	if width > 0 {
		errWidth = max(20, width/2)
	}

	rows := make([][]string, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		rows = append(rows, []string{
			t.ID,
			t.Config,
			string(t.Status),
			fmt.Sprintf("%.2fs", t.Seconds),
			truncateCell(firstLine(t.Error), errWidth),
		})
	}

	border := lipgloss.ASCIIBorder()
	if tty {
		border = lipgloss.RoundedBorder()
	}
	tbl := table.New().
		Border(border).
		BorderStyle(styles.border).
		Headers("TASK", "CONFIG", "STATUS", "TIME", "ERROR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.header
			}
			if col == colStatus && row >= 0 && row < len(rows) {
				if st, ok := styles.status[Status(rows[row][colStatus])]; ok {
					return st
				}
			}
			return styles.cell
		})
	if width > 0 {
		tbl = tbl.Width(width)
	}

	total := fmt.Sprintf("%d tasks, %d failed, total %.2fs", len(s.Tasks), s.Failed(), s.TotalSeconds)
	_, err := fmt.Fprintf(w, "%s\n%s\n", tbl.Render(), styles.total.Render(total))
	return err
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
