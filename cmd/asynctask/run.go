package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/deepnoodle-ai/asynctask"
	"github.com/deepnoodle-ai/asynctask/config"
	"github.com/deepnoodle-ai/asynctask/dispatch"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type runOptions struct {
	file    string
	vars    []string
	timeout time.Duration
	serve   bool
	json    bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a process and wait for it to finish",
		Long: `Run starts one execution of the process in the given YAML file and waits
until it completes, fails or the timeout elapses. An execution still waiting
for a signal at the timeout is left in the configured store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			return runProcess(cmd.Context(), root, cfg, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Path to the YAML process definition (required)")
	cmd.Flags().StringArrayVar(&opts.vars, "var", nil, "Initial variable as key=value (repeatable)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "How long to wait for the execution")
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "Keep serving the HTTP API and job runner after the execution ends")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the result as JSON")
	cmd.MarkFlagRequired("file")
	return cmd
}

func runProcess(ctx context.Context, root *rootOptions, cfg *config.Config, opts *runOptions, out, logOutput io.Writer) error {
	wf, err := asynctask.LoadFileFs(root.fs, opts.file)
	if err != nil {
		return err
	}
	vars, err := parseVars(opts.vars)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, root.fs, cfg, logOutput)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			a.logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	if err := a.engine.RegisterWorkflow(wf); err != nil {
		return err
	}
	if cfg.Store.Persistent() {
		restored, err := a.engine.RestoreAll(ctx)
		if err != nil {
			return err
		}
		if restored > 0 {
			a.logger.Info("restored suspended executions", "count", restored)
		}
	}
	if err := a.start(); err != nil {
		return err
	}

	if !opts.json {
		color.New(color.FgCyan).Fprintf(out, "Process: %s\n", wf.Name())
	}
	exec, err := a.engine.Start(ctx, asynctask.StartOptions{Workflow: wf, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to start execution: %w", err)
	}
	if !opts.json {
		fmt.Fprintf(out, "Execution: %s\n", exec.ID())
	}

	waitForExecution(ctx, exec, opts.timeout)
	if err := printResult(out, exec, a.failures.FailuresFor(exec.ID()), opts.json); err != nil {
		return err
	}

	if opts.serve {
		a.logger.Info("serving until interrupted")
		<-ctx.Done()
	}
	if exec.Status() == asynctask.ExecutionStatusFailed {
		return fmt.Errorf("execution %s failed", exec.ID())
	}
	return nil
}

// waitForExecution returns once the execution finished, a continuation job
// failed it or the timeout elapsed.
func waitForExecution(ctx context.Context, exec *asynctask.Execution, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-exec.Done():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if exec.Status() == asynctask.ExecutionStatusFailed {
				return
			}
		}
	}
}

// parseVars parses key=value pairs. Values are read as YAML scalars so
// numbers and booleans keep their type.
func parseVars(pairs []string) (map[string]any, error) {
	vars := map[string]any{}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q: expected key=value", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		vars[key] = value
	}
	return vars, nil
}

type runResult struct {
	*asynctask.ExecutionSummary
	Variables      map[string]any `json:"variables"`
	WorkerFailures []string       `json:"worker_failures,omitempty"`
}

func printResult(out io.Writer, exec *asynctask.Execution, failures []*dispatch.Failure, asJSON bool) error {
	summary := exec.Summary()
	var failureText []string
	for _, f := range failures {
		failureText = append(failureText, f.Error())
	}
	if asJSON {
		data, err := json.MarshalIndent(runResult{
			ExecutionSummary: summary,
			Variables:        exec.Variables(),
			WorkerFailures:   failureText,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	statusColor := color.New(color.FgYellow)
	switch exec.Status() {
	case asynctask.ExecutionStatusCompleted:
		statusColor = color.New(color.FgGreen)
	case asynctask.ExecutionStatusFailed, asynctask.ExecutionStatusCancelled:
		statusColor = color.New(color.FgRed)
	}
	statusColor.Fprintf(out, "Status: %s\n", summary.Status)
	if summary.CurrentStep != "" && exec.Status() == asynctask.ExecutionStatusWaiting {
		fmt.Fprintf(out, "Waiting at: %s (%s)\n", summary.CurrentStep, summary.ActivityState)
	}
	if summary.Error != "" {
		color.New(color.FgRed).Fprintf(out, "Error: %s\n", summary.Error)
	}
	for _, text := range failureText {
		color.New(color.FgRed).Fprintf(out, "Worker failure: %s\n", text)
	}

	vars := exec.Variables()
	if len(vars) == 0 {
		return nil
	}
	fmt.Fprintln(out, "Variables:")
	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		data, err := json.Marshal(vars[key])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %s: %s\n", key, data)
	}
	return nil
}
