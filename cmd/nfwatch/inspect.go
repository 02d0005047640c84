package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mpataki/nfwatch/internal/logs"
	"github.com/mpataki/nfwatch/internal/models"
	"github.com/mpataki/nfwatch/internal/pipeline"
	"github.com/mpataki/nfwatch/internal/storage"
	"github.com/mpataki/nfwatch/internal/workspace"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-dir|ref>",
		Short: "Reconcile a run once and show where it stands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			location, err := resolveLocation(a, args[0])
			if err != nil {
				return err
			}
			exec, err := a.orch.Attach(location)
			if err != nil {
				return err
			}
			defer a.orch.Forget(exec)

			printExecution(cmd.OutOrStdout(), exec)
			return exitFor(exec)
		},
	}
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.store.ListExecutions(limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			fmt.Fprintf(out, "%-8s  %-20s  %-20s  %-8s  %-6s  %s\n", "KEY", "PIPELINE", "RUN", "STATUS", "TASKS", "STARTED")
			for _, rec := range records {
				exec := rec.Execution
				fmt.Fprintf(out, "%-8s  %-20s  %-20s  %s  %-6d  %s\n",
					rec.Key[:8],
					truncate(rec.Pipeline, 20),
					truncate(displayName(exec), 20),
					colorStatus(exec.Status)+strings.Repeat(" ", max(0, 8-len(exec.Status))),
					exec.TaskCount(),
					storage.FormatTimeAgo(exec.StartedAt),
				)
			}
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <ref>",
		Short: "Show a recorded run by key, key prefix or run name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.store.GetExecution(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Key:       %s\n", rec.Key)
			fmt.Fprintf(out, "Pipeline:  %s\n", rec.Pipeline)
			fmt.Fprintf(out, "Updated:   %s\n", humanize.Time(rec.UpdatedAt))
			printExecution(out, rec.Execution)
			return nil
		},
	}
}

func newLogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log <run-dir|ref>",
		Short: "Print a run's output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showStderr, _ := cmd.Flags().GetBool("stderr")
			showEngine, _ := cmd.Flags().GetBool("engine")
			task, _ := cmd.Flags().GetString("task")
			lines, _ := cmd.Flags().GetInt("lines")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			location, err := resolveLocation(a, args[0])
			if err != nil {
				return err
			}
			ws, err := workspace.Open(location)
			if err != nil {
				return err
			}

			var text string
			switch {
			case task != "":
				to, err := logs.ReadTaskOutput(ws.WorkDir(), task, "")
				if err != nil {
					return err
				}
				if to.Workdir == "" {
					return fmt.Errorf("no work directory for task %s", task)
				}
				text = to.Stdout
				if showStderr {
					text = to.Stderr
				}
			case showEngine:
				text, err = logs.Read(ws.LogPath())
			case showStderr:
				text, err = logs.Read(ws.StderrPath())
			default:
				text, err = logs.Read(ws.StdoutPath())
			}
			if err != nil {
				return err
			}

			if lines > 0 {
				text = logs.Tail(text, lines)
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().Bool("stderr", false, "Print stderr instead of stdout")
	cmd.Flags().Bool("engine", false, "Print the engine log (.nextflow.log)")
	cmd.Flags().String("task", "", "Print output of the task with this trace hash (ab/123456)")
	cmd.Flags().IntP("lines", "n", 0, "Only print the last n lines")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <ref>",
		Short: "Delete a run from history (the run directory is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.store.GetExecution(args[0])
			if err != nil {
				return err
			}
			if err := a.store.DeleteExecution(rec.Key); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%s)\n", rec.Key[:8], displayName(rec.Execution))
			return nil
		},
	}
}

func newPipelinesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "List pipeline manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			pipelines, err := pipeline.LoadAll(a.cfg.PipelineDirs())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(pipelines) == 0 {
				fmt.Fprintf(out, "No pipelines found in %s\n", strings.Join(a.cfg.PipelineDirs(), ", "))
				return nil
			}

			names := make([]string, 0, len(pipelines))
			for name := range pipelines {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				p := pipelines[name]
				fmt.Fprintf(out, "%-20s  %s\n", name, truncate(p.Path, 60))
			}
			return nil
		},
	}
}

// resolveLocation accepts either a run directory or a history reference.
func resolveLocation(a *app, ref string) (string, error) {
	if info, err := os.Stat(ref); err == nil && info.IsDir() {
		return ref, nil
	}
	rec, err := a.store.GetExecution(ref)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%s is neither a run directory nor a recorded run", ref)
		}
		return "", err
	}
	return rec.Execution.Location, nil
}

func printExecution(out io.Writer, exec *models.Execution) {
	fmt.Fprintf(out, "Run:       %s\n", displayName(exec))
	fmt.Fprintf(out, "Status:    %s (exit %s)\n", colorStatus(exec.Status), formatReturnCode(exec.ReturnCode))
	fmt.Fprintf(out, "Location:  %s\n", exec.Location)
	if len(exec.Command) > 0 {
		fmt.Fprintf(out, "Command:   %s\n", exec.CommandLine())
	}
	if exec.PID > 0 {
		fmt.Fprintf(out, "PID:       %d\n", exec.PID)
	}
	if !exec.StartedAt.IsZero() {
		fmt.Fprintf(out, "Started:   %s (%s)\n", humanize.Time(exec.StartedAt), exec.StartedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(out, "Elapsed:   %s\n", formatDuration(exec.Elapsed))
	if size, ok := logSize(exec.Location); ok {
		fmt.Fprintf(out, "Log:       %s\n", humanize.Bytes(size))
	}
	fmt.Fprintf(out, "Tasks:     %d (%s)\n", exec.TaskCount(), formatCounts(exec.CountByStatus()))
	for _, t := range exec.Tasks() {
		fmt.Fprintln(out, formatTaskLine(t))
	}
}

func logSize(location string) (uint64, bool) {
	ws := &workspace.Workspace{Path: location}
	info, err := os.Stat(ws.LogPath())
	if err != nil {
		return 0, false
	}
	return uint64(info.Size()), true
}
