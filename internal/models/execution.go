package models

import (
	"strings"
	"time"
)

type ExecStatus string

const (
	ExecStatusPending ExecStatus = "PENDING"
	ExecStatusRunning ExecStatus = "RUNNING"
	ExecStatusOK      ExecStatus = "OK"
	ExecStatusError   ExecStatus = "ERROR"
)

// Terminal reports whether the status can no longer change.
func (s ExecStatus) Terminal() bool {
	return s == ExecStatusOK || s == ExecStatusError
}

// Execution is one snapshot of a workflow engine run. Snapshots are
// produced by the reconciler and must not be modified by callers.
type Execution struct {
	ID         string // engine-assigned run name, empty until announced
	Location   string
	Command    []string
	PID        int
	Status     ExecStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Elapsed    time.Duration
	ReturnCode *int
	Stdout     string
	Stderr     string
	Log        string

	tasks []*TaskExecution
	index map[string]int
}

// Tasks returns the task executions in first-seen order.
func (e *Execution) Tasks() []*TaskExecution {
	out := make([]*TaskExecution, len(e.tasks))
	copy(out, e.tasks)
	return out
}

// Task looks up a task execution by hash.
func (e *Execution) Task(hash string) (*TaskExecution, bool) {
	i, ok := e.index[hash]
	if !ok {
		return nil, false
	}
	return e.tasks[i], true
}

// TaskByName returns the first task whose full name matches.
func (e *Execution) TaskByName(name string) (*TaskExecution, bool) {
	for _, t := range e.tasks {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

func (e *Execution) TaskCount() int { return len(e.tasks) }

// CountByStatus tallies tasks per status.
func (e *Execution) CountByStatus() map[TaskStatus]int {
	counts := make(map[TaskStatus]int)
	for _, t := range e.tasks {
		counts[t.Status]++
	}
	return counts
}

// CommandLine renders Command for display, quoting every argument.
func (e *Execution) CommandLine() string {
	return QuoteArgs(e.Command)
}

// MergeTasks returns a copy of e whose task list is e's tasks with updates
// applied: known hashes are replaced in place, new hashes are appended in
// the order given. e itself is left untouched.
func (e *Execution) MergeTasks(updates []*TaskExecution) *Execution {
	next := *e
	next.tasks = make([]*TaskExecution, len(e.tasks), len(e.tasks)+len(updates))
	copy(next.tasks, e.tasks)
	next.index = make(map[string]int, len(e.tasks)+len(updates))
	for hash, i := range e.index {
		next.index[hash] = i
	}
	for _, t := range updates {
		if i, ok := next.index[t.Hash]; ok {
			next.tasks[i] = t
			continue
		}
		next.index[t.Hash] = len(next.tasks)
		next.tasks = append(next.tasks, t)
	}
	return &next
}

// QuoteArgs joins args with POSIX single quoting. An embedded ' becomes '\''.
func QuoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a != "" && !strings.ContainsAny(a, " \t\n'\"\\$`*?[]{}()<>|&;#~!") {
			quoted[i] = a
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
