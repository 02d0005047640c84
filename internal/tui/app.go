package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/nfwatch/internal/models"
	"github.com/mpataki/nfwatch/internal/orchestrator"
	"github.com/mpataki/nfwatch/internal/storage"
)

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
	ViewOutput
)

type App struct {
	orchestrator *orchestrator.Orchestrator
	storage      *storage.Storage
	interval     time.Duration

	view        View
	runs        []*storage.Record
	selectedIdx int

	exec            *models.Execution
	inFlight        bool
	selectedTaskIdx int
	outputTitle     string

	spinner  spinner.Model
	viewport viewport.Model

	width  int
	height int
	err    error
}

// NewApp starts on the history list. store may be nil when only a single
// execution is shown.
func NewApp(orch *orchestrator.Orchestrator, store *storage.Storage, interval time.Duration) *App {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &App{
		orchestrator: orch,
		storage:      store,
		interval:     interval,
		view:         ViewRunList,
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(statusRunning)),
		viewport:     viewport.New(80, 20),
	}
}

// Follow opens the app directly on exec, which must already be tracked by
// the orchestrator.
func (a *App) Follow(exec *models.Execution) *App {
	a.exec = exec
	a.view = ViewRunDetail
	return a
}

// Current is the snapshot shown in the detail view, if any.
func (a *App) Current() *models.Execution {
	return a.exec
}

func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.spinner.Tick, a.tickCmd()}
	if a.storage != nil {
		cmds = append(cmds, a.loadRuns)
	}
	return tea.Batch(cmds...)
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(a.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) following() bool {
	return a.exec != nil && !a.exec.Status.Terminal()
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-4, 3)
		return a, nil

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		if a.selectedIdx >= len(a.runs) {
			a.selectedIdx = max(len(a.runs)-1, 0)
		}
		return a, nil

	case tickMsg:
		if a.following() && !a.inFlight {
			return a, tea.Batch(a.reconcile(a.exec), a.tickCmd())
		}
		return a, a.tickCmd()

	case snapshotMsg:
		a.inFlight = false
		if !msg.attach && a.exec == nil {
			// left the detail view while a refresh was in flight
			return a, nil
		}
		a.err = msg.err
		if msg.err == nil {
			a.exec = msg.exec
			if msg.attach {
				a.view = ViewRunDetail
				a.selectedTaskIdx = 0
			}
			if a.view == ViewOutput {
				a.refreshOutput()
			}
		}
		return a, nil

	case runDeletedMsg:
		a.err = msg.err
		return a, a.loadRuns

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewOutput:
		return a.handleOutputKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	}
	return a, nil
}

func (a *App) handleRunListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.runs)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.attach(a.runs[a.selectedIdx].Execution.Location)
		}

	case "r":
		return a, a.loadRuns

	case "d":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.deleteRun(a.runs[a.selectedIdx].Key)
		}
	}

	return a, nil
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		if a.storage == nil {
			return a, tea.Quit
		}
		a.view = ViewRunList
		a.exec = nil
		a.selectedTaskIdx = 0
		return a, a.loadRuns

	case "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedTaskIdx > 0 {
			a.selectedTaskIdx--
		}

	case "down", "j":
		if a.exec != nil && a.selectedTaskIdx < a.exec.TaskCount()-1 {
			a.selectedTaskIdx++
		}

	case "r":
		if a.exec != nil && !a.inFlight {
			return a, a.reconcile(a.exec)
		}

	case "enter":
		if a.exec != nil && a.selectedTaskIdx < a.exec.TaskCount() {
			a.openOutput("task")
		}

	case "l":
		a.openOutput("log")

	case "o":
		a.openOutput("stdout")

	case "e":
		a.openOutput("stderr")
	}

	return a, nil
}

func (a *App) handleOutputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunDetail
		a.outputTitle = ""
		return a, nil

	case "ctrl+c":
		return a, tea.Quit
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) openOutput(which string) {
	if a.exec == nil {
		return
	}
	a.outputTitle = which
	a.view = ViewOutput
	a.refreshOutput()
	a.viewport.GotoBottom()
}

func (a *App) refreshOutput() {
	atBottom := a.viewport.AtBottom()
	a.viewport.SetContent(a.outputContent())
	if atBottom {
		a.viewport.GotoBottom()
	}
}

func (a *App) outputContent() string {
	var content string
	switch a.outputTitle {
	case "log":
		content = a.exec.Log
	case "stdout":
		content = a.exec.Stdout
	case "stderr":
		content = a.exec.Stderr
	case "task":
		tasks := a.exec.Tasks()
		if a.selectedTaskIdx >= len(tasks) {
			return ""
		}
		t := tasks[a.selectedTaskIdx]
		content = labelStyle.Render("workdir: ") + t.Workdir + "\n\n" +
			labelStyle.Render("stdout") + "\n" + t.Stdout + "\n" +
			labelStyle.Render("stderr") + "\n" + t.Stderr
	}
	if strings.TrimSpace(content) == "" {
		return "(no output)"
	}
	return content
}

func (a *App) View() string {
	switch a.view {
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	case ViewOutput:
		return a.viewOutput()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusCached   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	statusPending  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewRunList() string {
	s := titleStyle.Render("nfwatch") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.runs) == 0 {
		s += "No executions recorded yet.\n"
	} else {
		s += "Recent Executions\n"
		s += "─────────────────\n"

		for i, rec := range a.runs {
			line := formatRecordLine(rec)
			switch {
			case i == a.selectedIdx:
				line = selectedStyle.Render("▶ " + line)
			case rec.Execution.Status.Terminal():
				line = "  " + dimStyle.Render(line)
			default:
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] follow  [d] delete  [r] refresh  [q] quit")

	return s
}

func formatRecordLine(rec *storage.Record) string {
	exec := rec.Execution
	name := exec.ID
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("%-8s %-20s %-14s %s  %-8s  %s",
		rec.Key[:min(8, len(rec.Key))], truncate(name, 20), truncate(rec.Pipeline, 14),
		formatStatus(exec.Status), storage.FormatTimeAgo(exec.StartedAt), truncate(exec.Location, 40))
}

func formatStatus(status models.ExecStatus) string {
	switch status {
	case models.ExecStatusRunning:
		return statusRunning.Render("● running")
	case models.ExecStatusOK:
		return statusComplete.Render("✓ ok     ")
	case models.ExecStatusError:
		return statusFailed.Render("✗ error  ")
	default:
		return statusPending.Render("○ pending")
	}
}

func formatTaskStatus(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusCompleted:
		return statusComplete.Render("✓")
	case models.TaskStatusCached:
		return statusCached.Render("↺")
	case models.TaskStatusRunning:
		return statusRunning.Render("●")
	case models.TaskStatusFailed, models.TaskStatusAborted:
		return statusFailed.Render("✗")
	default:
		return statusPending.Render("○")
	}
}

func (a *App) viewRunDetail() string {
	if a.exec == nil {
		return "Loading..."
	}
	exec := a.exec

	name := exec.ID
	if name == "" {
		name = "(starting)"
	}
	s := titleStyle.Render(name) + "  " + formatStatus(exec.Status)
	if a.following() {
		s += " " + a.spinner.View()
	}
	s += "\n\n"

	s += labelStyle.Render("Location: ") + dimStyle.Render(exec.Location) + "\n"
	if len(exec.Command) > 0 {
		s += labelStyle.Render("Command:  ") + dimStyle.Render(truncate(exec.CommandLine(), max(a.width-10, 40))) + "\n"
	}
	s += labelStyle.Render("Elapsed:  ") + formatDuration(exec.Elapsed)
	if exec.ReturnCode != nil {
		s += labelStyle.Render("  exit: ") + fmt.Sprintf("%d", *exec.ReturnCode)
	}
	s += "\n"
	if a.err != nil {
		s += statusFailed.Render(fmt.Sprintf("Error: %v", a.err)) + "\n"
	}
	s += "\n"

	s += fmt.Sprintf("Tasks (%d)\n", exec.TaskCount())
	s += "─────────\n"

	tasks := exec.Tasks()
	if len(tasks) == 0 {
		s += "(no tasks yet)\n"
	}
	for i, t := range tasks {
		line := fmt.Sprintf("%s %-9s %-50s %8s", formatTaskStatus(t.Status), t.Hash, truncate(t.Name, 50), formatDuration(t.Duration))
		if t.Exit != "" && t.Exit != "0" {
			line += "  " + statusFailed.Render("exit:"+t.Exit)
		}
		if i == a.selectedTaskIdx {
			line = selectedStyle.Render("▶ " + line)
		} else {
			line = "  " + line
		}
		s += line + "\n"
	}

	s += "\n" + helpStyle.Render("[↑/↓] select  [enter] task output  [o] stdout  [e] stderr  [l] log  [r] refresh  [esc] back")

	return s
}

func (a *App) viewOutput() string {
	s := titleStyle.Render("Output: "+a.outputTitle) + "\n\n"
	s += a.viewport.View() + "\n"
	s += helpStyle.Render(fmt.Sprintf("%3.f%%  [↑/↓] scroll  [esc] back", a.viewport.ScrollPercent()*100))
	return s
}

// Messages

type runsLoadedMsg struct {
	runs []*storage.Record
	err  error
}

type snapshotMsg struct {
	exec   *models.Execution
	attach bool
	err    error
}

type runDeletedMsg struct {
	key string
	err error
}

// Commands

func (a *App) loadRuns() tea.Msg {
	if a.storage == nil {
		return runsLoadedMsg{}
	}
	runs, err := a.storage.ListExecutions(50)
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) attach(location string) tea.Cmd {
	a.inFlight = true
	return func() tea.Msg {
		exec, err := a.orchestrator.Attach(location)
		return snapshotMsg{exec: exec, attach: true, err: err}
	}
}

// reconcile refreshes exec off the update loop. Only one refresh is in
// flight at a time.
func (a *App) reconcile(exec *models.Execution) tea.Cmd {
	a.inFlight = true
	return func() tea.Msg {
		next, err := a.orchestrator.Reconcile(exec)
		return snapshotMsg{exec: next, err: err}
	}
}

func (a *App) deleteRun(key string) tea.Cmd {
	return func() tea.Msg {
		if err := a.storage.DeleteExecution(key); err != nil {
			return runDeletedMsg{err: err}
		}
		return runDeletedMsg{key: key}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
