// Package logs reads the text a run has accumulated so far. Reads never
// block and never wait for more output.
package logs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Markers the engine writes to stdout or .nextflow.log.
const (
	ProfileMarker  = "Applying config profile: "
	SentinelMarker = "Execution complete -- Goodbye"
)

var (
	runNamePattern = regexp.MustCompile(`Launching\s+\S.*?\s\[([a-z]+_[a-z]+)\]`)
	abortMarkers   = []string{"Session aborted", "Error executing process", "Execution aborted"}
)

// Read returns whatever is in path right now. A path that does not exist
// yet reads as empty.
func Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return string(data), nil
}

// RunName extracts the engine's run name from its launch announcement.
func RunName(text string) string {
	m := runNamePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// Profiles lists the config profiles the engine reported applying.
func Profiles(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		i := strings.Index(line, ProfileMarker)
		if i < 0 {
			continue
		}
		for _, p := range strings.Split(line[i+len(ProfileMarker):], ",") {
			p = strings.Trim(strings.TrimSpace(p), "`")
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// HasSentinel reports whether the engine logged its final line.
func HasSentinel(text string) bool {
	return strings.Contains(text, SentinelMarker)
}

// Aborted reports whether the log records a failed session.
func Aborted(text string) bool {
	for _, m := range abortMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// Tail returns the last n lines of text.
func Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	trimmed := strings.TrimRight(text, "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= n {
		return trimmed
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// TaskOutput holds what a task wrote inside its work directory.
type TaskOutput struct {
	Workdir string
	Stdout  string
	Stderr  string
}

// ReadTaskOutput finds the work directory for a trace hash ("ab/cdef12")
// under workRoot and reads .command.out and .command.err from it. workdir
// short-circuits the lookup when the trace already carries the path.
func ReadTaskOutput(workRoot, hash, workdir string) (TaskOutput, error) {
	if workdir == "" {
		prefix, rest, ok := strings.Cut(hash, "/")
		if !ok || prefix == "" || rest == "" {
			return TaskOutput{}, nil
		}
		pattern := filepath.Join(workRoot, prefix, rest+"*")
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return TaskOutput{}, fmt.Errorf("failed to glob task workdir: %w", err)
		}
		if len(matches) == 0 {
			return TaskOutput{}, nil
		}
		workdir = matches[0]
	}

	out := TaskOutput{Workdir: workdir}
	var err error
	if out.Stdout, err = Read(filepath.Join(workdir, ".command.out")); err != nil {
		return out, err
	}
	if out.Stderr, err = Read(filepath.Join(workdir, ".command.err")); err != nil {
		return out, err
	}
	return out, nil
}
