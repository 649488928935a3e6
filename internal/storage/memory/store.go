package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"github.com/bcnelson/cloudflare-waf-manager/internal/storage"
)

// Store is an in-memory implementation of the storage interface, used by
// tests and by the CLI when no database is configured.
type Store struct {
	mu sync.RWMutex

	apiKeys  map[string]*domain.APIKey
	runs     map[string]domain.Run
	outcomes map[string][]domain.RuleOutcome // key: run id
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		apiKeys:  make(map[string]*domain.APIKey),
		runs:     make(map[string]domain.Run),
		outcomes: make(map[string][]domain.RuleOutcome),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return &Tx{Store: s}, nil
}

// Tx queues writes and applies them all on Commit, or none if one fails.
// Reads go to the store and do not see queued writes.
type Tx struct {
	*Store
	ops  []func(*Store) error
	done bool
}

func (t *Tx) queue(op func(*Store) error) error {
	if t.done {
		return domain.ErrInvalidInput
	}
	t.ops = append(t.ops, op)
	return nil
}

func (t *Tx) Commit() error {
	if t.done {
		return domain.ErrInvalidInput
	}
	t.done = true

	s := t.Store
	s.mu.Lock()
	defer s.mu.Unlock()

	apiKeys, runs, outcomes := maps.Clone(s.apiKeys), maps.Clone(s.runs), maps.Clone(s.outcomes)
	for _, op := range t.ops {
		if err := op(s); err != nil {
			s.apiKeys, s.runs, s.outcomes = apiKeys, runs, outcomes
			return err
		}
	}
	return nil
}

func (t *Tx) Rollback() error {
	t.done = true
	t.ops = nil
	return nil
}

func (t *Tx) Close() error { return nil }

func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, domain.ErrInvalidInput
}

func (t *Tx) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return t.queue(func(s *Store) error { return s.createAPIKey(key) })
}

func (t *Tx) DeleteAPIKey(ctx context.Context, id string) error {
	return t.queue(func(s *Store) error { return s.deleteAPIKey(id) })
}

func (t *Tx) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return t.queue(func(s *Store) error { return s.updateAPIKeyLastUsed(id) })
}

func (t *Tx) CreateRun(ctx context.Context, run *domain.Run) error {
	stored := *run
	return t.queue(func(s *Store) error { return s.createRun(&stored) })
}

func (t *Tx) UpdateRun(ctx context.Context, run *domain.Run) error {
	stored := *run
	return t.queue(func(s *Store) error { return s.updateRun(&stored) })
}

func (t *Tx) AddRuleOutcomes(ctx context.Context, runID string, outcomes []*domain.RuleOutcome) error {
	return t.queue(func(s *Store) error { return s.addRuleOutcomes(runID, outcomes) })
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createAPIKey(key)
}

// createAPIKey must be called with s.mu held.
func (s *Store) createAPIKey(key *domain.APIKey) error {
	if _, exists := s.apiKeys[key.ID]; exists {
		return domain.ErrAlreadyExists
	}
	for _, existing := range s.apiKeys {
		if existing.KeyHash == key.KeyHash {
			return domain.ErrAlreadyExists
		}
	}
	s.apiKeys[key.ID] = key
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			return key, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*domain.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteAPIKey(id)
}

// deleteAPIKey must be called with s.mu held.
func (s *Store) deleteAPIKey(id string) error {
	if _, exists := s.apiKeys[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateAPIKeyLastUsed(id)
}

// updateAPIKeyLastUsed must be called with s.mu held.
func (s *Store) updateAPIKeyLastUsed(id string) error {
	key, exists := s.apiKeys[id]
	if !exists {
		return domain.ErrNotFound
	}
	now := time.Now()
	updated := *key
	updated.LastUsedAt = &now
	s.apiKeys[id] = &updated
	return nil
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apiKeys), nil
}

// ============================================
// Runs
// ============================================

// Runs are stored by value so callers cannot mutate stored history.

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createRun(run)
}

// createRun must be called with s.mu held.
func (s *Store) createRun(run *domain.Run) error {
	if _, exists := s.runs[run.ID]; exists {
		return domain.ErrAlreadyExists
	}
	stored := *run
	stored.Outcomes = nil
	s.runs[run.ID] = stored
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, exists := s.runs[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	run.Outcomes = s.copyOutcomes(id)
	return &run, nil
}

func (s *Store) GetLatestRun(ctx context.Context) (*domain.Run, error) {
	runs := s.sortedRuns()
	if len(runs) == 0 {
		return nil, domain.ErrNotFound
	}
	return runs[0], nil
}

func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]*domain.Run, error) {
	runs := s.sortedRuns()
	if offset >= len(runs) {
		return []*domain.Run{}, nil
	}
	end := offset + limit
	if end > len(runs) {
		end = len(runs)
	}
	return runs[offset:end], nil
}

func (s *Store) UpdateRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateRun(run)
}

// updateRun must be called with s.mu held.
func (s *Store) updateRun(run *domain.Run) error {
	if _, exists := s.runs[run.ID]; !exists {
		return domain.ErrNotFound
	}
	stored := *run
	stored.Outcomes = nil
	s.runs[run.ID] = stored
	return nil
}

// sortedRuns returns copies of all runs, newest first.
func (s *Store) sortedRuns() []*domain.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		r := run
		runs = append(runs, &r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

// ============================================
// Rule Outcomes
// ============================================

func (s *Store) AddRuleOutcomes(ctx context.Context, runID string, outcomes []*domain.RuleOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addRuleOutcomes(runID, outcomes)
}

// addRuleOutcomes must be called with s.mu held.
func (s *Store) addRuleOutcomes(runID string, outcomes []*domain.RuleOutcome) error {
	if _, exists := s.runs[runID]; !exists {
		return domain.ErrNotFound
	}
	existing := slices.Clone(s.outcomes[runID])
	for _, o := range outcomes {
		for _, e := range existing {
			if e.Position == o.Position {
				return domain.ErrAlreadyExists
			}
		}
		o.RunID = runID
		existing = append(existing, *o)
	}
	sort.SliceStable(existing, func(i, j int) bool {
		return existing[i].Position < existing[j].Position
	})
	s.outcomes[runID] = existing
	return nil
}

func (s *Store) ListRuleOutcomes(ctx context.Context, runID string) ([]*domain.RuleOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyOutcomes(runID), nil
}

// copyOutcomes must be called with s.mu held.
func (s *Store) copyOutcomes(runID string) []*domain.RuleOutcome {
	stored := s.outcomes[runID]
	out := make([]*domain.RuleOutcome, len(stored))
	for i := range stored {
		o := stored[i]
		out[i] = &o
	}
	return out
}
