// SPDX-License-Identifier: GPL-3.0-or-later

// Command reproharness runs reproduction scenarios against dynamips.
//
// Usage:
//
//	reproharness run [-f scenario.yaml]
//	reproharness dump
//	reproharness check -f scenario.yaml
//
// Without -f, run executes the embedded issue #105 scenario.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rbmk-project/reproharness/process"
	"github.com/rbmk-project/reproharness/scenario"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	os.Exit(Main())
}

// Main runs the command and returns the exit status.
func Main() int {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "reproharness: %s\n", err)
		return 1
	}
	return 0
}

// globalFlags contains the flags shared by every subcommand.
type globalFlags struct {
	logFormat string
	logLevel  string
}

// newLogger creates the logger writing to w.
func (gf *globalFlags) newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(gf.logLevel)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	options := &slog.HandlerOptions{Level: level}

	format := gf.logFormat
	if format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = "text"
		}
	}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, options)), nil
	default:
		return nil, fmt.Errorf("--log-format: unknown format %q", gf.logFormat)
	}
}

func newRootCmd() *cobra.Command {
	gf := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "reproharness",
		Short:         "Reproduce dynamips bugs by driving its hypervisor console",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&gf.logFormat, "log-format", "auto", "log format: auto, text or json")
	cmd.PersistentFlags().StringVar(&gf.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	cmd.AddCommand(newRunCmd(gf))
	cmd.AddCommand(newDumpCmd())
	cmd.AddCommand(newCheckCmd())
	return cmd
}

func newRunCmd(gf *globalFlags) *cobra.Command {
	var file string
	var runID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger, err := gf.newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cfg, err := loadConfig(file)
			if err != nil {
				return err
			}

			seq := &scenario.Sequencer{
				Config: cfg,
				Launcher: &process.Launcher{
					Logger: logger,
					Output: cmd.OutOrStdout(),
				},
				Logger: logger,
				RunID:  runID,
			}
			return seq.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "scenario file (default: embedded issue-105 scenario)")
	cmd.Flags().StringVar(&runID, "run-id", "", "identifier attached to every log record (default: random UUID)")
	return cmd
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the embedded default scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write(scenario.DefaultYAML())
			return err
		},
	}
}

func newCheckCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Parse and validate a scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return errors.New("check: -f is required")
			}
			cfg, err := scenario.Load(file)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summarize(cfg))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "scenario file")
	return cmd
}

// loadConfig loads the scenario at path or returns the default one.
func loadConfig(path string) (*scenario.Config, error) {
	if path == "" {
		return scenario.Default(), nil
	}
	return scenario.Load(path)
}

// summarize returns a one-line description of the scenario.
func summarize(cfg *scenario.Config) string {
	parsed := cfg.Scripts.Parse()
	mode := cfg.Console.Mode
	if mode == "" {
		mode = scenario.ModeRelay
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: target %q, console %s", cfg.Name, cfg.Target.Spec().String(), mode)
	fmt.Fprintf(&sb, ", setup %d, configure %d, workload %d, cleanup %d",
		parsed.Setup.Len(), parsed.Configure.Len(), parsed.Workload.Len(), parsed.Cleanup.Len())
	return sb.String()
}
