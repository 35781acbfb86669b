// File: cmd/replay.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyen4320/JSSCanner-sub001/internal/config"
	"github.com/hyen4320/JSSCanner-sub001/internal/hooktrace"
	"github.com/hyen4320/JSSCanner-sub001/internal/observability"
	"github.com/hyen4320/JSSCanner-sub001/internal/reporting"
	"github.com/hyen4320/JSSCanner-sub001/internal/session"
)

type replayOptions struct {
	tracePath  string
	follow     bool
	fromStart  bool
	outputPath string
	format     string
	persist    bool
	debug      bool
}

func newReplayCmd(provider storeProvider) *cobra.Command {
	opts := replayOptions{}

	replayCmd := &cobra.Command{
		Use:   "replay <trace-file|->",
		Short: "Correlate a recorded hook trace into attack chains",
		Long: `Reads a JSON-lines hook trace, runs one taint tracker and chain detector per
session key, and prints the final report and completed chains of every
session as JSON, SARIF or text.

Use "-" to read the trace from stdin. With --follow the file is tailed until
the command is interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			opts.tracePath = args[0]
			return runReplay(ctx, observability.GetLogger(), cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), provider)
		},
	}

	replayCmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Tail the trace file until interrupted")
	replayCmd.Flags().BoolVar(&opts.fromStart, "from-start", true, "With --follow, replay existing lines before tailing")
	replayCmd.Flags().StringVarP(&opts.outputPath, "output", "o", "", "Output file path. If unset, the report is printed to stdout.")
	replayCmd.Flags().StringVar(&opts.format, "format", reporting.FormatJSON, "Output format: json, sarif or text")
	replayCmd.Flags().BoolVar(&opts.persist, "persist", false, "Save every session report to the database")
	replayCmd.Flags().BoolVar(&opts.debug, "debug", false, "Print detector and tracker state of every session to stderr")
	return replayCmd
}

func runReplay(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	opts replayOptions,
	stdin io.Reader,
	stdout, stderr io.Writer,
	provider storeProvider,
) error {
	if opts.follow && opts.tracePath == "-" {
		return errors.New("--follow cannot be used with stdin")
	}
	if err := reporting.ValidateFormat(opts.format); err != nil {
		return err
	}

	var reader *hooktrace.Reader
	var follower *hooktrace.Follower
	switch {
	case opts.tracePath == "-":
		reader = hooktrace.NewReader(stdin, cfg.Replay.MaxLineSize, logger)
	case opts.follow:
		path, err := config.ExpandPath(opts.tracePath)
		if err != nil {
			return err
		}
		follower = hooktrace.NewFollower(path, opts.fromStart, logger)
	default:
		path, err := config.ExpandPath(opts.tracePath)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open trace: %w", err)
		}
		defer f.Close()
		reader = hooktrace.NewReader(f, cfg.Replay.MaxLineSize, logger)
	}

	logger.Info("Starting replay", zap.String("trace", opts.tracePath), zap.Bool("follow", opts.follow))

	// Interrupting a follow ends the input; sessions still drain and report.
	events := make(chan hooktrace.Event, cfg.Replay.BufferSize)
	var produceErr error
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		defer close(events)
		if follower != nil {
			produceErr = follower.Run(ctx, events)
			return
		}
		produceErr = reader.Stream(ctx, events)
	}()

	runner := session.NewRunner(cfg.Session(), cfg.Replay.BufferSize, logger)
	results, err := runner.Run(context.WithoutCancel(ctx), events)
	<-produced
	if err != nil {
		return err
	}
	if produceErr != nil && !(opts.follow && errors.Is(produceErr, context.Canceled)) {
		return fmt.Errorf("failed to read trace: %w", produceErr)
	}

	skipped := 0
	if reader != nil {
		skipped = reader.Skipped()
	}
	if opts.debug {
		for _, r := range results {
			fmt.Fprintf(stderr, "== session %s (%s) ==\n%s\n", r.Report.SessionID, r.Key, r.Session.DebugInfo())
		}
	}

	if opts.persist {
		persistCtx := ctx
		if opts.follow {
			persistCtx = context.WithoutCancel(ctx)
		}
		if err := persistResults(persistCtx, logger, cfg, results, provider); err != nil {
			return err
		}
	}

	logger.Info("Replay finished", zap.Int("sessions", len(results)), zap.Int("skipped_lines", skipped))

	sessions := make([]reporting.Session, 0, len(results))
	for _, r := range results {
		sessions = append(sessions, reporting.Session{Key: r.Key, Report: r.Report, Chains: r.Session.CompletedChains()})
	}
	reportOpts := reporting.Options{ToolVersion: Version, Source: opts.tracePath, SkippedLines: skipped}
	return writeReport(logger, opts.format, opts.outputPath, stdout, reportOpts, sessions)
}

func persistResults(ctx context.Context, logger *zap.Logger, cfg *config.Config, results []session.Result, provider storeProvider) error {
	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer cleanup()

	if err := storeService.EnsureSchema(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, r := range results {
		g.Go(func() error {
			return storeService.SaveSession(gctx, r.Report, r.Session.CompletedChains())
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to persist sessions: %w", err)
	}
	logger.Info("Sessions persisted", zap.Int("sessions", len(results)))
	return nil
}
