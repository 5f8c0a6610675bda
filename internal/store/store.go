// Package store persists extraction runs and their claims in Postgres. Claim
// field values are stored as the portal rendered them; normalization is the
// sync boundary's job, so a re-sync can always start from the raw capture.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/anibalchinley/extractor-proveedores/internal/scrape"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store is the Postgres-backed persistence layer.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Ping reports whether the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id UUID PRIMARY KEY,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    status TEXT NOT NULL,
    claim_count INTEGER NOT NULL DEFAULT 0,
    created_count INTEGER NOT NULL DEFAULT 0,
    skipped_count INTEGER NOT NULL DEFAULT 0,
    failed_count INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);`

const createClaimsTable = `
CREATE TABLE IF NOT EXISTS claims (
    run_id UUID NOT NULL REFERENCES runs(id),
    company TEXT NOT NULL,
    section TEXT NOT NULL,
    claim_number TEXT NOT NULL,
    assigned_date TEXT NOT NULL DEFAULT '',
    contact_status TEXT NOT NULL DEFAULT '',
    insured_name TEXT NOT NULL DEFAULT '',
    insured_rut TEXT NOT NULL DEFAULT '',
    insured_phone TEXT NOT NULL DEFAULT '',
    insured_email TEXT NOT NULL DEFAULT '',
    estimated_arrival TEXT NOT NULL DEFAULT '',
    entry_date TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    plate TEXT NOT NULL DEFAULT '',
    brand TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    damage_type TEXT NOT NULL DEFAULT '',
    extracted_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, claim_number)
);`

// EnsureSchema creates the tables when they do not exist yet. Called once at
// startup so a fresh database needs no manual setup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range []string{createRunsTable, createClaimsTable} {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// RunRecord is one extraction run's row. FinishedAt stays zero while the run
// is in flight and maps to NULL.
type RunRecord struct {
	ID           uuid.UUID
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       string
	ClaimCount   int
	CreatedCount int
	SkippedCount int
	FailedCount  int
	Error        string
}

const upsertRun = `
INSERT INTO runs (id, started_at, finished_at, status, claim_count, created_count, skipped_count, failed_count, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    finished_at = EXCLUDED.finished_at,
    status = EXCLUDED.status,
    claim_count = EXCLUDED.claim_count,
    created_count = EXCLUDED.created_count,
    skipped_count = EXCLUDED.skipped_count,
    failed_count = EXCLUDED.failed_count,
    error = EXCLUDED.error;`

// SaveRun upserts the run row. The engine writes it once when the run starts
// and again with final counts when it ends.
func (s *Store) SaveRun(ctx context.Context, r RunRecord) error {
	var finished any
	if !r.FinishedAt.IsZero() {
		finished = r.FinishedAt
	}
	_, err := s.pool.Exec(ctx, upsertRun,
		r.ID, r.StartedAt, finished, r.Status,
		r.ClaimCount, r.CreatedCount, r.SkippedCount, r.FailedCount, r.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", r.ID, err)
	}
	return nil
}

var claimColumns = []string{
	"run_id", "company", "section", "claim_number",
	"assigned_date", "contact_status", "insured_name", "insured_rut",
	"insured_phone", "insured_email", "estimated_arrival", "entry_date",
	"status", "plate", "brand", "model", "damage_type", "extracted_at",
}

// PersistClaims bulk-inserts a run's claims in one transaction. Claims must
// already be deduplicated; the table keys on (run_id, claim_number).
func (s *Store) PersistClaims(ctx context.Context, runID uuid.UUID, claims []scrape.Claim) error {
	if len(claims) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && rollbackErr != pgx.ErrTxClosed {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	now := time.Now()
	rows := make([][]interface{}, len(claims))
	for i, c := range claims {
		rows[i] = []interface{}{
			runID, c.Company, c.Section.String(), c.ClaimNumber,
			c.AssignedDate, c.ContactStatus, c.InsuredName, c.InsuredRUT,
			c.InsuredPhone, c.InsuredEmail, c.EstimatedArrival, c.EntryDate,
			c.Status, c.Plate, c.Brand, c.Model, c.DamageType,
			now,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"claims"}, claimColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy claims: %w", err)
	}
	if int(copyCount) != len(claims) {
		return fmt.Errorf("mismatch in copied claims count: expected %d, got %d", len(claims), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Claims persisted",
		zap.String("run_id", runID.String()),
		zap.Int("count", len(claims)))
	return nil
}

// ClaimsByRun returns a run's claims ordered by claim number.
func (s *Store) ClaimsByRun(ctx context.Context, runID uuid.UUID) ([]scrape.Claim, error) {
	query := `
        SELECT company, section, claim_number, assigned_date, contact_status,
               insured_name, insured_rut, insured_phone, insured_email,
               estimated_arrival, entry_date, status, plate, brand, model, damage_type
        FROM claims
        WHERE run_id = $1
        ORDER BY claim_number ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	var claims []scrape.Claim
	for rows.Next() {
		var c scrape.Claim
		var section string

		err := rows.Scan(
			&c.Company, &section, &c.ClaimNumber, &c.AssignedDate, &c.ContactStatus,
			&c.InsuredName, &c.InsuredRUT, &c.InsuredPhone, &c.InsuredEmail,
			&c.EstimatedArrival, &c.EntryDate, &c.Status, &c.Plate, &c.Brand,
			&c.Model, &c.DamageType,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim row: %w", err)
		}

		c.Section, err = scrape.ParseSection(section)
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", c.ClaimNumber, err)
		}
		claims = append(claims, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return claims, nil
}
