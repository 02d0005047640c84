package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/nfwatch/internal/models"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func colorStatus(status models.ExecStatus) string {
	s := string(status)
	switch status {
	case models.ExecStatusOK:
		return okStyle.Render(s)
	case models.ExecStatusError:
		return errorStyle.Render(s)
	case models.ExecStatusRunning:
		return runningStyle.Render(s)
	default:
		return dimStyle.Render(s)
	}
}

func colorTaskStatus(status models.TaskStatus) string {
	s := fmt.Sprintf("%-9s", status)
	switch status {
	case models.TaskStatusCompleted, models.TaskStatusCached:
		return okStyle.Render(s)
	case models.TaskStatusFailed, models.TaskStatusAborted:
		return errorStyle.Render(s)
	case models.TaskStatusRunning:
		return runningStyle.Render(s)
	default:
		return dimStyle.Render(s)
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

// formatCounts renders per-status task counts in a stable order.
func formatCounts(counts map[models.TaskStatus]int) string {
	if len(counts) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(counts))
	for st := range counts {
		keys = append(keys, string(st))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %d", k, counts[models.TaskStatus(k)])
	}
	return strings.Join(parts, ", ")
}

func formatReturnCode(rc *int) string {
	if rc == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *rc)
}

func formatTaskLine(t *models.TaskExecution) string {
	line := fmt.Sprintf("  [%-9s] %s %s", t.Hash, colorTaskStatus(t.Status), t.Name)
	if t.Duration > 0 {
		line += dimStyle.Render(" " + formatDuration(t.Duration))
	}
	if t.Exit != "" && t.Exit != "0" && t.Exit != "-" {
		line += errorStyle.Render(" exit " + t.Exit)
	}
	return line
}

// printer reports what changed between successive snapshots of one run.
type printer struct {
	out    io.Writer
	id     string
	status models.ExecStatus
	tasks  map[string]models.TaskStatus
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, tasks: make(map[string]models.TaskStatus)}
}

func (p *printer) update(exec *models.Execution) {
	if exec.ID != "" && exec.ID != p.id {
		p.id = exec.ID
		fmt.Fprintf(p.out, "Run name: %s\n", exec.ID)
	}
	if exec.Status != p.status {
		p.status = exec.Status
		fmt.Fprintf(p.out, "Status: %s\n", colorStatus(exec.Status))
	}
	for _, t := range exec.Tasks() {
		if prev, ok := p.tasks[t.Hash]; ok && prev == t.Status {
			continue
		}
		p.tasks[t.Hash] = t.Status
		fmt.Fprintln(p.out, formatTaskLine(t))
	}
}

func (p *printer) summary(exec *models.Execution) {
	fmt.Fprintf(p.out, "\n%s %s in %s (exit %s, %d tasks: %s)\n",
		displayName(exec),
		colorStatus(exec.Status),
		formatDuration(exec.Elapsed),
		formatReturnCode(exec.ReturnCode),
		exec.TaskCount(),
		formatCounts(exec.CountByStatus()),
	)
}

func displayName(exec *models.Execution) string {
	if exec.ID != "" {
		return exec.ID
	}
	return "(unnamed run)"
}
