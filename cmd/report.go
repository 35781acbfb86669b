// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyen4320/JSSCanner-sub001/internal/chain"
	"github.com/hyen4320/JSSCanner-sub001/internal/config"
	"github.com/hyen4320/JSSCanner-sub001/internal/observability"
	"github.com/hyen4320/JSSCanner-sub001/internal/reporting"
	"github.com/hyen4320/JSSCanner-sub001/internal/session"
	"github.com/hyen4320/JSSCanner-sub001/internal/store"
)

// sessionStore is the subset of *store.Store the commands use.
type sessionStore interface {
	EnsureSchema(ctx context.Context) error
	SaveSession(ctx context.Context, report session.FinalReport, chains []*chain.AttackChain) error
	LoadChains(ctx context.Context, sessionID string) ([]*chain.AttackChain, error)
	LoadReport(ctx context.Context, sessionID string) (session.FinalReport, error)
}

// storeProvider creates a store and a cleanup function. Tests inject an
// in-memory implementation.
type storeProvider interface {
	Create(ctx context.Context, cfg *config.Config) (sessionStore, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the PostgreSQL-backed provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the PostgreSQL database using the provided configuration.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg *config.Config) (sessionStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (JSSCANNER_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return storeService, cleanup, nil
}

func newReportCmd(provider storeProvider) *cobra.Command {
	var sessionID, outputPath, format string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Print a persisted session report",
		Long: `Loads the final report and completed attack chains of a session saved by
"replay --persist" and prints them as JSON, SARIF or text.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, sessionID, format, outputPath, cmd.OutOrStdout(), provider)
		},
	}

	reportCmd.Flags().StringVar(&sessionID, "session-id", "", "The ID of the session to load (required)")
	_ = reportCmd.MarkFlagRequired("session-id")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path. If unset, the report is printed to stdout.")
	reportCmd.Flags().StringVar(&format, "format", reporting.FormatJSON, "Output format: json, sarif or text")
	return reportCmd
}

func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	sessionID, format, outputPath string,
	stdout io.Writer,
	provider storeProvider,
) error {
	logger.Info("Loading session report", zap.String("session_id", sessionID))

	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer cleanup()

	report, err := storeService.LoadReport(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load report: %w", err)
	}
	chains, err := storeService.LoadChains(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load chains: %w", err)
	}

	opts := reporting.Options{ToolVersion: Version}
	return writeReport(logger, format, outputPath, stdout, opts, []reporting.Session{{Report: report, Chains: chains}})
}

// writeReport renders sessions in format to path, or to stdout when path is
// empty.
func writeReport(logger *zap.Logger, format, path string, stdout io.Writer, opts reporting.Options, sessions []reporting.Session) error {
	if path != "" {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return err
		}
		path = expanded
	}

	reporter, err := reporting.New(format, path, stdout, opts, logger)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if err := reporter.Write(s); err != nil {
			_ = reporter.Close()
			return err
		}
	}
	return reporter.Close()
}
