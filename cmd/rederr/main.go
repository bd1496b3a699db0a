package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"rederr/internal/params"
	"rederr/internal/runner"
	"rederr/pkg/timeout"
)

var (
	alwaysColor bool
	runTimeout  string
	idleTimeout string
	separate    bool
	debug       bool
	stats       bool
	usePTY      bool
	bufferSize  int
)

// childExitCode is the translated exit status of the child, used when
// the run itself succeeded.
var childExitCode int

var rootCmd = &cobra.Command{
	Use:   "rederr [flags] command [args...]",
	Short: "Run a command and highlight its stderr",
	Long: `rederr runs a command with its stdout and stderr piped, forwards both
streams as they arrive, and highlights everything the command writes to
stderr so errors stand out in combined output (for example in cron
mail).

Two optional timeouts abort the run: --idle-timeout limits how long the
command may stay silent between writes, and --run-timeout limits the
total duration. Neither kills the command; rederr just stops listening
and exits non-zero.

The exit code is the command's own exit code, 128+N if the command was
killed by signal N, or 1 if rederr itself failed.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if debug {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			})))
		}

		p, err := buildParams(args)
		if err != nil {
			return err
		}

		out, errSink := p.Sinks()
		r := runner.New(runner.Options{
			Command:     p.Command,
			Args:        p.Args,
			RunTimeout:  timeout.FromOption(p.RunTimeout),
			IdleTimeout: timeout.FromOption(p.IdleTimeout),
			Out:         out,
			Err:         errSink,
			BufferSize:  p.BufferSize,
			PTY:         p.PTY,
			Stats:       p.Stats,
		})

		code, err := r.Run()
		if err != nil {
			return err
		}
		childExitCode = code
		return nil
	},
}

// buildParams assembles and validates the run configuration from the
// parsed flags and positional arguments.
func buildParams(args []string) (*params.Params, error) {
	p := &params.Params{
		Command:     args[0],
		Args:        args[1:],
		AlwaysColor: alwaysColor,
		Separate:    separate,
		Debug:       debug,
		Stats:       stats,
		PTY:         usePTY,
		BufferSize:  bufferSize,
	}

	if runTimeout != "" {
		d, err := params.ParseDuration(runTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid --run-timeout: %w", err)
		}
		p.RunTimeout = &d
	}
	if idleTimeout != "" {
		d, err := params.ParseDuration(idleTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid --idle-timeout: %w", err)
		}
		p.IdleTimeout = &d
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func init() {
	flags := rootCmd.Flags()

	// Everything after the first positional argument belongs to the
	// wrapped command.
	flags.SetInterspersed(false)

	flags.BoolVarP(&alwaysColor, "always-color", "c", false, "Always highlight stderr, even when output is not a terminal")
	flags.StringVar(&runTimeout, "run-timeout", "", "Timeout for the entire run (e.g. \"1s\", \"1h\", or \"30ms\")")
	flags.StringVar(&idleTimeout, "idle-timeout", "", "Timeout for silence between reads (e.g. \"1s\", \"1h\", or \"30ms\")")
	flags.BoolVarP(&separate, "separate", "s", false, "Don't combine stderr into stdout; keep them separate")
	flags.BoolVar(&stats, "stats", false, "Report the command's resource usage after the run")
	flags.BoolVar(&usePTY, "pty", false, "Run the command under a pseudo-terminal (combined output)")
	flags.BoolVar(&debug, "debug", false, "Log poll and read diagnostics to stderr")
	flags.IntVar(&bufferSize, "buffer-size", params.DefaultBufferSize, "Read buffer size in bytes")

	_ = flags.MarkHidden("debug")
	_ = flags.MarkHidden("buffer-size")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(childExitCode)
}
