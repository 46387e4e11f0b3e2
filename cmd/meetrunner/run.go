package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/meetrunner/internal/engine"
	"github.com/ChamsBouzaiene/meetrunner/internal/humaninput"
)

type runFlags struct {
	noPrompt bool
	jsonOut  bool
	serve    bool
	addr     string
}

func runCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <task-id> <description>",
		Short: "Run or resume a task",
		Long: "Run a task to completion. A task paused earlier under the same id is offered for resume.\n" +
			"Interrupt once to stop at the next step boundary and save progress; interrupt twice to abort.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd.Context(), g, f, args[0], args[1], cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&f.noPrompt, "no-prompt", false, "Do not answer questions from the terminal")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "Print the final report as JSON")
	return cmd
}

func serveCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{serve: true, noPrompt: true}
	cmd := &cobra.Command{
		Use:   "serve <task-id> <description>",
		Short: "Run a task while exposing the human-input API and metrics over HTTP",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd.Context(), g, f, args[0], args[1], cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "", "Listen address (default: server.addr)")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "Print the final report as JSON")
	return cmd
}

func runTask(parent context.Context, g *globalFlags, f *runFlags, taskID, description string, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	terminal := !f.noPrompt && isTerminal(os.Stdin)
	env, err := prepareRuntimeEnv(ctx, g, terminal || f.serve)
	if err != nil {
		return err
	}
	defer env.Close()

	if f.serve {
		addr := f.addr
		if addr == "" {
			addr = env.Config.Server.Addr
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           humaninput.NewRouter(env.Bridge, env.Metrics.Handler()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			env.Logger.Info("human-input API listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				env.Logger.Error("human-input API stopped", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if terminal {
		responder := humaninput.NewTerminalResponder(env.Bridge, nil, env.Logger)
		go responder.Run(ctx)
	}

	stopOnSignal(ctx, env, cancel)

	report := env.Session.Task.Run(ctx, taskID, description)
	if err := printReport(out, report, f.jsonOut); err != nil {
		return err
	}
	if report.Outcome == engine.OutcomeFailed {
		if report.Err != nil {
			return report.Err
		}
		return errors.New(report.Message)
	}
	return nil
}

// stopOnSignal requests a cooperative stop on the first interrupt and cancels on the second.
func stopOnSignal(ctx context.Context, env *runtimeEnv, cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			env.Logger.Warn("stop requested; finishing the current step")
			env.Session.Task.Stop()
		}
		select {
		case <-ctx.Done():
		case <-sigs:
			env.Logger.Warn("aborting")
			cancel()
		}
	}()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func printReport(w io.Writer, r engine.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	fmt.Fprintf(w, "%s (task %s, %d iterations, %d in / %d out tokens)\n",
		r.Outcome, r.TaskID, r.Iterations, r.Usage.InputTokens, r.Usage.OutputTokens)
	if r.CheckpointSaved {
		fmt.Fprintln(w, "checkpoint saved")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, r.Message)
	return nil
}
