package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mpataki/nfwatch/internal/config"
	"github.com/mpataki/nfwatch/internal/logging"
	"github.com/mpataki/nfwatch/internal/orchestrator"
	"github.com/mpataki/nfwatch/internal/storage"
	"github.com/mpataki/nfwatch/internal/tui"
)

// exitCodeError carries a process exit code without an error message.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// pipelineFailed is returned when a followed pipeline ended in ERROR.
var pipelineFailed = &exitCodeError{code: 2}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "nfwatch",
		Short:         "Launch and follow Nextflow pipeline runs",
		Long:          "nfwatch launches or attaches to Nextflow runs and reports their status, run name, tasks and output as they progress.",
		RunE:          runTUI,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newAttachCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newLogCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newPipelinesCommand())
	rootCmd.AddCommand(newTUICommand())
	return rootCmd
}

// app is what every subcommand needs: configuration, logger, history and
// the orchestrator built on top of them.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *storage.Storage
	orch   *orchestrator.Orchestrator
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if d, err := cmd.Flags().GetDuration("interval"); err == nil && d > 0 {
		cfg.PollInterval = d
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, level)

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	orch := orchestrator.New(store, orchestrator.Options{
		Binary:         cfg.Binary,
		RunsDir:        cfg.RunsDir(),
		StartupGrace:   cfg.StartupGrace,
		StaleAfter:     cfg.StaleAfter,
		PollInterval:   cfg.PollInterval,
		DefaultVersion: cfg.DefaultVersion,
		Logger:         logger,
	})

	return &app{cfg: cfg, logger: logger, store: store, orch: orch}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func runTUI(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	model := tui.NewApp(a.orch, a.store, a.cfg.PollInterval)
	p := tea.NewProgram(model, tea.WithAltScreen())

	_, err = p.Run()
	return err
}

func newTUICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tui [run-dir]",
		Short: "Open the live view, optionally on one run directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runTUI(cmd, args)
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			exec, err := a.orch.Attach(args[0])
			if err != nil {
				return err
			}
			model := tui.NewApp(a.orch, nil, a.cfg.PollInterval).Follow(exec)
			_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
			return err
		},
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
