// File: internal/store/store.go

// Package store persists session reports and completed attack chains to
// PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hyen4320/JSSCanner-sub001/internal/chain"
	"github.com/hyen4320/JSSCanner-sub001/internal/session"
)

// ErrSessionNotFound is returned when no report is stored for a session id.
var ErrSessionNotFound = errors.New("store: session not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateSessions = `
        CREATE TABLE IF NOT EXISTS scan_sessions (
            session_id       TEXT PRIMARY KEY,
            total_chains     INTEGER NOT NULL,
            completed_chains INTEGER NOT NULL,
            max_taint_level  INTEGER NOT NULL,
            report           JSONB NOT NULL,
            saved_at         TIMESTAMPTZ NOT NULL
        );
    `
	sqlCreateChains = `
        CREATE TABLE IF NOT EXISTS attack_chains (
            session_id        TEXT NOT NULL REFERENCES scan_sessions (session_id) ON DELETE CASCADE,
            position          INTEGER NOT NULL,
            chain_id          TEXT NOT NULL,
            chain_type        TEXT NOT NULL,
            final_severity    INTEGER NOT NULL,
            verified          BOOLEAN NOT NULL,
            completion_reason TEXT NOT NULL,
            chain             JSONB NOT NULL,
            PRIMARY KEY (session_id, chain_id)
        );
    `
	sqlUpsertSession = `
        INSERT INTO scan_sessions (session_id, total_chains, completed_chains, max_taint_level, report, saved_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (session_id) DO UPDATE SET
            total_chains = EXCLUDED.total_chains,
            completed_chains = EXCLUDED.completed_chains,
            max_taint_level = EXCLUDED.max_taint_level,
            report = EXCLUDED.report,
            saved_at = EXCLUDED.saved_at;
    `
	sqlDeleteChains = `DELETE FROM attack_chains WHERE session_id = $1;`
	sqlInsertChain  = `
        INSERT INTO attack_chains (session_id, position, chain_id, chain_type, final_severity, verified, completion_reason, chain)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	sqlSelectChains = `
        SELECT chain
        FROM attack_chains
        WHERE session_id = $1
        ORDER BY position ASC;
    `
	sqlSelectReport = `SELECT report FROM scan_sessions WHERE session_id = $1;`
)

// Store is the PostgreSQL repository for analysis results.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{sqlCreateSessions, sqlCreateChains} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SaveSession writes the report and replaces the stored chains of the session
// in a single transaction. Saving the same session twice overwrites it.
func (s *Store) SaveSession(ctx context.Context, report session.FinalReport, chains []*chain.AttackChain) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	encoded := make([][]byte, len(chains))
	for i, c := range chains {
		if encoded[i], err = json.Marshal(c); err != nil {
			return fmt.Errorf("failed to encode chain %s: %w", c.ID(), err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := s.writeSession(ctx, tx, report, reportJSON, chains, encoded); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("Session persisted.",
		zap.String("session_id", report.SessionID),
		zap.Int("chains", len(chains)))
	return nil
}

func (s *Store) writeSession(ctx context.Context, tx pgx.Tx, report session.FinalReport, reportJSON []byte, chains []*chain.AttackChain, encoded [][]byte) error {
	id := report.SessionID
	_, err := tx.Exec(ctx, sqlUpsertSession,
		id,
		report.ChainAnalysis.TotalChains,
		report.ChainAnalysis.CompletedChains,
		report.TaintStatistics.MaxTaintLevel,
		reportJSON,
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx, sqlDeleteChains, id); err != nil {
		return fmt.Errorf("failed to clear chains of session %s: %w", id, err)
	}
	for i, c := range chains {
		_, err := tx.Exec(ctx, sqlInsertChain,
			id, i, c.ID(), c.ChainType(), c.FinalSeverity(), c.VerifyCausality(), c.CompletionReason(), encoded[i])
		if err != nil {
			return fmt.Errorf("failed to insert chain %s (index %d): %w", c.ID(), i, err)
		}
	}
	return nil
}

// LoadChains returns the stored chains of a session in their saved order.
func (s *Store) LoadChains(ctx context.Context, sessionID string) ([]*chain.AttackChain, error) {
	rows, err := s.pool.Query(ctx, sqlSelectChains, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chains: %w", err)
	}
	defer rows.Close()

	var chains []*chain.AttackChain
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan chain row: %w", err)
		}
		c := &chain.AttackChain{}
		if err := json.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("failed to decode chain: %w", err)
		}
		chains = append(chains, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return chains, nil
}

// LoadReport returns the stored final report of a session.
func (s *Store) LoadReport(ctx context.Context, sessionID string) (session.FinalReport, error) {
	var report session.FinalReport
	rows, err := s.pool.Query(ctx, sqlSelectReport, sessionID)
	if err != nil {
		return report, fmt.Errorf("failed to query report: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return report, fmt.Errorf("error during row iteration: %w", err)
		}
		return report, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	var raw []byte
	if err := rows.Scan(&raw); err != nil {
		return report, fmt.Errorf("failed to scan report row: %w", err)
	}
	if err := json.Unmarshal(raw, &report); err != nil {
		return report, fmt.Errorf("failed to decode report: %w", err)
	}
	return report, nil
}
