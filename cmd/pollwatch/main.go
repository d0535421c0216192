package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pollwatch/internal/app"
	"pollwatch/internal/config"
	"pollwatch/internal/monitor"
	logx "pollwatch/pkg/logx"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, "fatal:", err)
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case monitor.IsConfig(err):
		return exitConfig
	default:
		return exitFailed
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "pollwatch",
		Short:         "Poll sources, detect new or changed items, and notify",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config file (yaml or json)")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the poll loop until SIGINT/SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(), cfgPath)
		},
	}
	// Bare "pollwatch" runs the loop.
	root.RunE = run.RunE
	root.Args = cobra.NoArgs

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the config, then print the resolved sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validateConfig(cmd, cfgPath)
		},
	}

	var sourceKey string
	check := &cobra.Command{
		Use:   "check",
		Short: "Fetch one source once and print its records (no state, no notifications)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return checkSource(cmd, cfgPath, sourceKey)
		},
	}
	check.Flags().StringVarP(&sourceKey, "source", "s", "", "source key to fetch")
	_ = check.MarkFlagRequired("source")

	root.AddCommand(run, validate, check)
	return root
}

func runApp(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.NewApp(cfgPath, app.WithVersion(version))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	// Stop lets the tick in flight finish; a second signal cuts the wait short.
	stopCtx, stopCancel := context.WithCancel(context.Background())
	defer stopCancel()
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "second signal: forcing stop")
			stopCancel()
		case <-stopCtx.Done():
		}
	}()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func validateConfig(cmd *cobra.Command, cfgPath string) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	plans, err := cfg.Plans()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config ok: %s\n\n", cfgPath)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tKIND\tSCHEDULE\tPOLICY\tSINK")
	for _, p := range plans {
		pol := string(p.Policy.Kind)
		if p.Policy.Kind == monitor.PolicyThresholdOnce {
			pol = fmt.Sprintf("%s>=%d", pol, p.Policy.Threshold)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Key, p.Spec.Kind, p.Schedule, pol, p.Sink.Name)
	}
	return tw.Flush()
}

func checkSource(cmd *cobra.Command, cfgPath, key string) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logx.NewWriter(cmd.ErrOrStderr(), cfg.Logging.Level)
	res, err := app.CheckSource(ctx, cfg, key, log)
	if err != nil {
		return fmt.Errorf("check %s: %w", key, err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
