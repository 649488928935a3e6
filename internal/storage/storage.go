package storage

import (
	"context"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)

	// Runs
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	GetLatestRun(ctx context.Context) (*domain.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*domain.Run, error)
	UpdateRun(ctx context.Context, run *domain.Run) error

	// Rule outcomes, ordered by position within their run.
	AddRuleOutcomes(ctx context.Context, runID string, outcomes []*domain.RuleOutcome) error
	ListRuleOutcomes(ctx context.Context, runID string) ([]*domain.RuleOutcome, error)

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Storage
	Commit() error
	Rollback() error
}
