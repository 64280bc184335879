package output

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/vburojevic/kernelbridge/internal/domain"
)

var (
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	busyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	restartStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	deadStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

// TextWriter renders events for a terminal
type TextWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextWriter creates a text writer on w
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

// StatusStyle returns the style used for a kernel status
func StatusStyle(s domain.KernelStatus) lipgloss.Style {
	switch s {
	case domain.StatusIdle:
		return idleStyle
	case domain.StatusBusy, domain.StatusStarting:
		return busyStyle
	case domain.StatusRestarting:
		return restartStyle
	case domain.StatusDead:
		return deadStyle
	}
	return mutedStyle
}

func (t *TextWriter) printf(format string, args ...any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, format, args...)
	return err
}

func (t *TextWriter) WriteReady(r *Ready) error {
	if r.Listen != "" {
		return t.printf("%s listening on %s\n", r.Command, r.Listen)
	}
	return t.printf("%s ready (%s)\n", r.Command, r.Server)
}

func (t *TextWriter) WriteSessionStart(s *domain.SessionStart) error {
	line := fmt.Sprintf("%s session %d kernel %s", headerStyle.Render("▶"), s.Session, s.KernelID)
	if s.Alert != "" {
		line += " " + restartStyle.Render(s.Alert) + mutedStyle.Render(" (was "+s.PreviousKernelID+")")
	}
	where := "local"
	if s.Remote {
		where = "remote"
	}
	return t.printf("%s %s\n", line, mutedStyle.Render("["+where+" "+s.Connection+"]"))
}

func (t *TextWriter) WriteSessionEnd(s *domain.SessionEnd) error {
	return t.printf("%s session %d ended: %d status changes, %d busy, %d restarts, %ds\n",
		headerStyle.Render("■"), s.Session, s.Summary.StatusChanges, s.Summary.BusyPeriods,
		s.Summary.Restarts, s.Summary.DurationSeconds)
}

func (t *TextWriter) WriteStatus(s *domain.StatusEvent) error {
	return t.printf("%s %s %s\n", mutedStyle.Render(s.Timestamp), s.KernelID, StatusStyle(s.Status).Render(string(s.Status)))
}

// WriteVariables renders the page as a table
func (t *TextWriter) WriteVariables(v *VariablesEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.w, "%s %d-%d of %d (refresh %d)\n", headerStyle.Render("Variables"),
		v.PageStartIndex, v.PageStartIndex+len(v.PageResponse), v.TotalCount, v.Refresh)
	if len(v.PageResponse) == 0 {
		return nil
	}
	table := tablewriter.NewWriter(t.w)
	table.Header("Name", "Type", "Size", "Value")
	for _, r := range v.PageResponse {
		size := r.Shape
		if size == "" && r.Count > 0 {
			size = fmt.Sprintf("%d", r.Count)
		}
		if err := table.Append([]string{r.Name, r.Type, size, truncate(r.Value, 60)}); err != nil {
			return err
		}
	}
	return table.Render()
}

func (t *TextWriter) WriteError(code, message string, hint ...string) error {
	line := fmt.Sprintf("%s [%s]: %s", deadStyle.Render("Error"), code, message)
	if len(hint) > 0 && hint[0] != "" {
		line += fmt.Sprintf(" (hint: %s)", hint[0])
	}
	return t.printf("%s\n", line)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
