package sql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"github.com/bcnelson/cloudflare-waf-manager/internal/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New connects to the database and applies the embedded migrations.
// driver is "sqlite3" or "postgres".
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, driver: s.driver}, nil
}

// Tx wraps a database transaction.
type Tx struct {
	tx     *sqlx.Tx
	driver string
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Close is a no-op for transactions (they should be committed or rolled back).
func (t *Tx) Close() error {
	return nil
}

// BeginTx is not supported within a transaction.
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

// helper to get the correct database interface
type dbInterface interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ============================================
// API Keys
// ============================================

const apiKeyColumns = `id, name, key_hash, key_prefix, created_at, last_used_at`

func createAPIKey(ctx context.Context, db dbInterface, key *domain.APIKey) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.LastUsedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, s.db, key)
}

func (t *Tx) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, t.tx, key)
}

func getAPIKeyByHash(ctx context.Context, db dbInterface, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := db.GetContext(ctx, &key,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, s.db, keyHash)
}

func (t *Tx) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, t.tx, keyHash)
}

func listAPIKeys(ctx context.Context, db dbInterface) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := db.SelectContext(ctx, &keys,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, s.db)
}

func (t *Tx) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, t.tx)
}

func deleteAPIKey(ctx context.Context, db dbInterface, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, s.db, id)
}

func (t *Tx) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, t.tx, id)
}

func updateAPIKeyLastUsed(ctx context.Context, db dbInterface, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, s.db, id)
}

func (t *Tx) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, t.tx, id)
}

func countAPIKeys(ctx context.Context, db dbInterface) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_keys`)
	return count, err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, s.db)
}

func (t *Tx) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, t.tx)
}

// ============================================
// Runs
// ============================================

const runColumns = `id, zone_id, ruleset_id, dry_run, trigger_source, status,
	created_count, updated_count, reported_count, failed_count, error, started_at, finished_at`

func createRun(ctx context.Context, db dbInterface, run *domain.Run) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		run.ID, run.ZoneID, run.RulesetID, run.DryRun, run.Trigger, run.Status,
		run.Created, run.Updated, run.Reported, run.Failed, run.Error, run.StartedAt, run.FinishedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.db, run)
}

func (t *Tx) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, t.tx, run)
}

func getRun(ctx context.Context, db dbInterface, id string) (*domain.Run, error) {
	var run domain.Run
	err := db.GetContext(ctx, &run, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run.Outcomes, err = listRuleOutcomes(ctx, db, id)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.db, id)
}

func (t *Tx) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, t.tx, id)
}

func getLatestRun(ctx context.Context, db dbInterface) (*domain.Run, error) {
	var run domain.Run
	err := db.GetContext(ctx, &run,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) GetLatestRun(ctx context.Context) (*domain.Run, error) {
	return getLatestRun(ctx, s.db)
}

func (t *Tx) GetLatestRun(ctx context.Context) (*domain.Run, error) {
	return getLatestRun(ctx, t.tx)
}

func listRuns(ctx context.Context, db dbInterface, limit, offset int) ([]*domain.Run, error) {
	var runs []*domain.Run
	err := db.SelectContext(ctx, &runs,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]*domain.Run, error) {
	return listRuns(ctx, s.db, limit, offset)
}

func (t *Tx) ListRuns(ctx context.Context, limit, offset int) ([]*domain.Run, error) {
	return listRuns(ctx, t.tx, limit, offset)
}

func updateRun(ctx context.Context, db dbInterface, run *domain.Run) error {
	result, err := db.ExecContext(ctx,
		`UPDATE runs SET ruleset_id = $1, status = $2, created_count = $3, updated_count = $4,
		 reported_count = $5, failed_count = $6, error = $7, finished_at = $8 WHERE id = $9`,
		run.RulesetID, run.Status, run.Created, run.Updated,
		run.Reported, run.Failed, run.Error, run.FinishedAt, run.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.db, run)
}

func (t *Tx) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, t.tx, run)
}

// ============================================
// Rule Outcomes
// ============================================

func addRuleOutcomes(ctx context.Context, db dbInterface, runID string, outcomes []*domain.RuleOutcome) error {
	for _, o := range outcomes {
		o.RunID = runID
		_, err := db.ExecContext(ctx,
			`INSERT INTO rule_outcomes (id, run_id, position, rule_name, match_state, state, action,
			 remote_rule_id, expression, error_kind, status_code, error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			o.ID, o.RunID, o.Position, o.RuleName, o.Match, o.State, o.Action,
			o.RemoteRuleID, o.Expression, o.ErrorKind, o.StatusCode, o.Error)
		if err != nil {
			return wrapUniqueError(err)
		}
	}
	return nil
}

// AddRuleOutcomes inserts all outcomes in a single transaction.
func (s *Store) AddRuleOutcomes(ctx context.Context, runID string, outcomes []*domain.RuleOutcome) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := addRuleOutcomes(ctx, tx, runID, outcomes); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (t *Tx) AddRuleOutcomes(ctx context.Context, runID string, outcomes []*domain.RuleOutcome) error {
	return addRuleOutcomes(ctx, t.tx, runID, outcomes)
}

func listRuleOutcomes(ctx context.Context, db dbInterface, runID string) ([]*domain.RuleOutcome, error) {
	var outcomes []*domain.RuleOutcome
	err := db.SelectContext(ctx, &outcomes,
		`SELECT id, run_id, position, rule_name, match_state, state, action,
		 remote_rule_id, expression, error_kind, status_code, error
		 FROM rule_outcomes WHERE run_id = $1 ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (s *Store) ListRuleOutcomes(ctx context.Context, runID string) ([]*domain.RuleOutcome, error) {
	return listRuleOutcomes(ctx, s.db, runID)
}

func (t *Tx) ListRuleOutcomes(ctx context.Context, runID string) ([]*domain.RuleOutcome, error) {
	return listRuleOutcomes(ctx, t.tx, runID)
}
