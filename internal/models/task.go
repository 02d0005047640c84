package models

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskStatusSubmitted TaskStatus = "SUBMITTED"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCached    TaskStatus = "CACHED"
	TaskStatusAborted   TaskStatus = "ABORTED"
	TaskStatusUnknown   TaskStatus = "-"
)

// ParseTaskStatus maps a trace cell onto a TaskStatus. Anything the engine
// did not document becomes TaskStatusUnknown.
func ParseTaskStatus(s string) TaskStatus {
	switch st := TaskStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case TaskStatusSubmitted, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCached, TaskStatusAborted:
		return st
	default:
		return TaskStatusUnknown
	}
}

// TaskExecution is one task instance within an Execution.
type TaskExecution struct {
	Hash      string
	Name      string
	Status    TaskStatus
	Exit      string // empty when the trace has no exit code yet
	StartedAt *time.Time
	Duration  time.Duration
	Workdir   string
	Stdout    string
	Stderr    string
}

// Process is the task name without its parenthesized tag.
func (t *TaskExecution) Process() string {
	if i := strings.LastIndex(t.Name, " ("); i > 0 && strings.HasSuffix(t.Name, ")") {
		return t.Name[:i]
	}
	return t.Name
}

// Tag is the parenthesized suffix distinguishing repeated invocations of
// the same process, without the parentheses.
func (t *TaskExecution) Tag() string {
	if i := strings.LastIndex(t.Name, " ("); i > 0 && strings.HasSuffix(t.Name, ")") {
		return t.Name[i+2 : len(t.Name)-1]
	}
	return ""
}
