// Package trace parses the engine's tab-separated trace file into per-task
// records.
package trace

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mpataki/nfwatch/internal/models"
)

// Column names the parser understands. Any other column is ignored.
const (
	ColHash     = "hash"
	ColName     = "name"
	ColStatus   = "status"
	ColExit     = "exit"
	ColStart    = "start"
	ColSubmit   = "submit"
	ColDuration = "duration"
	ColWorkdir  = "workdir"
)

// TimeLayout is how the engine writes timestamps in the trace.
const TimeLayout = "2006-01-02 15:04:05.000"

// Row is the most recent trace line seen for one task.
type Row struct {
	Hash     string
	Name     string
	Status   models.TaskStatus
	Exit     string
	Start    *time.Time
	Duration *time.Duration
	Workdir  string
}

// Warning describes a trace line that was dropped.
type Warning struct {
	Line   int
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("trace line %d: %s", w.Line, w.Reason)
}

// Snapshot is the parsed content of a trace file at one point in time.
type Snapshot struct {
	Rows     []Row // first-seen order, one per hash
	Warnings []Warning
}

// ReadFile parses the trace at path. A missing file is an empty snapshot.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Snapshot{}, nil
		}
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}
	return Parse(data), nil
}

// Parse builds a snapshot from raw trace bytes. An unterminated last line is
// still being written and is ignored. Columns are looked up by header name.
func Parse(data []byte) *Snapshot {
	snap := &Snapshot{}

	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return snap
	}
	lines := strings.Split(string(data[:end]), "\n")

	header := splitRow(lines[0])
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	index := make(map[string]int)
	for n, line := range lines[1:] {
		lineNo := n + 2
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := splitRow(line)
		if len(fields) != len(header) {
			snap.Warnings = append(snap.Warnings, Warning{
				Line:   lineNo,
				Reason: fmt.Sprintf("expected %d fields, got %d", len(header), len(fields)),
			})
			continue
		}

		cell := func(name string) string {
			i, ok := cols[name]
			if !ok {
				return ""
			}
			return strings.TrimSpace(fields[i])
		}

		row := Row{
			Hash:    cell(ColHash),
			Name:    cell(ColName),
			Status:  models.ParseTaskStatus(cell(ColStatus)),
			Exit:    absent(cell(ColExit)),
			Workdir: absent(cell(ColWorkdir)),
		}
		if row.Hash == "" || row.Hash == "-" {
			snap.Warnings = append(snap.Warnings, Warning{Line: lineNo, Reason: "missing hash"})
			continue
		}

		start := cell(ColStart)
		if absent(start) == "" {
			start = cell(ColSubmit)
		}
		if ts, ok := ParseTime(start); ok {
			row.Start = &ts
		}
		if d, ok := ParseDuration(cell(ColDuration)); ok {
			row.Duration = &d
		}

		if i, ok := index[row.Hash]; ok {
			snap.Rows[i] = row
			continue
		}
		index[row.Hash] = len(snap.Rows)
		snap.Rows = append(snap.Rows, row)
	}

	return snap
}

func splitRow(line string) []string {
	return strings.Split(strings.TrimSuffix(line, "\r"), "\t")
}

func absent(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

// ParseTime reads an engine timestamp in local time.
func ParseTime(s string) (time.Time, bool) {
	s = absent(strings.TrimSpace(s))
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{TimeLayout, "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
