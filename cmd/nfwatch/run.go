package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mpataki/nfwatch/internal/lua"
	"github.com/mpataki/nfwatch/internal/models"
	"github.com/mpataki/nfwatch/internal/orchestrator"
	"github.com/mpataki/nfwatch/internal/pipeline"
	"github.com/mpataki/nfwatch/internal/tui"
	"github.com/mpataki/nfwatch/internal/watch"
	"github.com/mpataki/nfwatch/internal/workspace"
)

// followOptions control how a run is followed after launch or attach.
type followOptions struct {
	hookPath string
	noWatch  bool
	useTUI   bool
}

func addFollowFlags(cmd *cobra.Command) {
	cmd.Flags().String("hook", "", "Lua script with on_snapshot/on_complete hooks")
	cmd.Flags().Duration("interval", 0, "Poll interval (default from config)")
	cmd.Flags().Bool("no-watch", false, "Poll on the interval only, without filesystem notifications")
	cmd.Flags().Bool("tui", false, "Follow in the interactive view")
}

func readFollowFlags(cmd *cobra.Command) followOptions {
	var fo followOptions
	fo.hookPath, _ = cmd.Flags().GetString("hook")
	fo.noWatch, _ = cmd.Flags().GetBool("no-watch")
	fo.useTUI, _ = cmd.Flags().GetBool("tui")
	return fo
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <pipeline|script.nf|dir>",
		Short: "Launch a pipeline and follow it",
		Long: `Launch a pipeline by manifest name, by script path or by project directory,
then follow it until it finishes. Interrupting stops following only: the
pipeline keeps running and can be attached to again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location, _ := cmd.Flags().GetString("location")
			version, _ := cmd.Flags().GetString("version")
			profiles, _ := cmd.Flags().GetStringSlice("profile")
			configs, _ := cmd.Flags().GetStringArray("config")
			rawParams, _ := cmd.Flags().GetStringArray("param")
			detach, _ := cmd.Flags().GetBool("detach")

			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := pipeline.Resolve(args[0], a.cfg.PipelineDirs())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			exec, err := a.orch.Launch(ctx, p, orchestrator.LaunchOptions{
				Location: location,
				Version:  version,
				Profiles: profiles,
				Configs:  configs,
				Params:   params,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Launched %s in %s\n", p.Name, exec.Location)
			if exec.ID != "" {
				fmt.Fprintf(out, "Run name: %s\n", exec.ID)
			}
			if detach {
				a.orch.Forget(exec)
				return nil
			}

			last, err := follow(ctx, a, exec, readFollowFlags(cmd), out)
			if err != nil {
				return err
			}
			return exitFor(last)
		},
	}

	cmd.Flags().StringP("location", "C", "", "Run directory (default: a new directory under the data dir)")
	cmd.Flags().String("version", "", "Engine version to pin (NXF_VER)")
	cmd.Flags().StringSlice("profile", nil, "Config profiles to apply")
	cmd.Flags().StringArrayP("config", "c", nil, "Extra config files")
	cmd.Flags().StringArrayP("param", "p", nil, "Pipeline parameter key=value (repeatable)")
	cmd.Flags().Bool("detach", false, "Launch and return without following")
	addFollowFlags(cmd)

	return cmd
}

func newAttachCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach <run-dir>",
		Short: "Attach to a run started elsewhere",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			exec, err := a.orch.Attach(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			last, err := follow(ctx, a, exec, readFollowFlags(cmd), out)
			if err != nil {
				return err
			}
			return exitFor(last)
		},
	}
	addFollowFlags(cmd)
	return cmd
}

// follow polls exec until it is terminal, ctx ends, or a hook asks to stop.
// It returns the last snapshot seen.
func follow(ctx context.Context, a *app, exec *models.Execution, fo followOptions, out io.Writer) (*models.Execution, error) {
	if fo.useTUI {
		model := tui.NewApp(a.orch, nil, a.cfg.PollInterval).Follow(exec)
		final, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return exec, err
		}
		if m, ok := final.(*tui.App); ok && m.Current() != nil {
			return m.Current(), nil
		}
		return exec, nil
	}

	var hooks *lua.Hooks
	if fo.hookPath != "" {
		h, err := lua.Load(fo.hookPath, a.logger)
		if err != nil {
			return exec, err
		}
		defer h.Close()
		hooks = h
	}

	var wake <-chan struct{}
	if !fo.noWatch {
		w, err := watch.NewWatcher(&workspace.Workspace{Path: exec.Location}, watch.DefaultDebounce, a.logger)
		if err != nil {
			a.logger.Warn("file watching unavailable, polling only", "err", err)
		} else if err := w.Start(ctx); err != nil {
			a.logger.Warn("file watching unavailable, polling only", "err", err)
			w.Stop()
		} else {
			defer w.Stop()
			wake = w.Wake()
		}
	}

	driver := a.orch.PollWith(exec, wake)

	pr := newPrinter(out)
	last := exec
	for snap, err := range driver.All(ctx) {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Fprintf(out, "\nStopped following. The run continues in %s\n", last.Location)
				return last, nil
			}
			return last, err
		}
		last = snap
		pr.update(snap)

		if hooks != nil {
			cont, err := hooks.OnSnapshot(snap)
			if err != nil {
				a.logger.Warn("on_snapshot hook failed", "err", err)
			} else if !cont {
				fmt.Fprintf(out, "Hook stopped following. The run continues in %s\n", snap.Location)
				return last, nil
			}
		}
	}

	pr.summary(last)
	if hooks != nil && last.Status.Terminal() {
		if err := hooks.OnComplete(last); err != nil {
			a.logger.Warn("on_complete hook failed", "err", err)
		}
	}
	return last, nil
}

// exitFor maps a final snapshot onto the command's exit status.
func exitFor(exec *models.Execution) error {
	if exec != nil && exec.Status == models.ExecStatusError {
		return pipelineFailed
	}
	return nil
}

func parseParams(raw []string) (models.Params, error) {
	var params models.Params
	for _, s := range raw {
		p, err := models.ParseParam(s)
		if err != nil {
			return nil, err
		}
		params.Set(p.Key, p.Value)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}
