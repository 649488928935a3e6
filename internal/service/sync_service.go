package service

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"github.com/bcnelson/cloudflare-waf-manager/internal/metrics"
	"github.com/bcnelson/cloudflare-waf-manager/internal/storage"
	"github.com/google/uuid"
)

// Trigger sources recorded on runs.
const (
	TriggerManual   = "manual"
	TriggerDebounce = "debounce"
	TriggerInterval = "interval"
)

// ConfigSource supplies the run configuration. It is consulted at the start
// of every run so that edits to the rules document take effect.
type ConfigSource interface {
	RunConfig() (*domain.RunConfig, error)
}

// Reconciler performs one reconciliation run.
type Reconciler interface {
	Run(ctx context.Context, cfg domain.RunConfig) (*domain.RunReport, error)
}

// SyncService runs reconciliations and records them in the run history.
type SyncService struct {
	store      storage.Storage
	source     ConfigSource
	reconciler Reconciler
	debounce   time.Duration

	// running is held for the duration of a run.
	running sync.Mutex

	mu          sync.Mutex
	syncTimer   *time.Timer
	syncPending bool
}

// NewSyncService creates a new SyncService.
func NewSyncService(store storage.Storage, source ConfigSource, reconciler Reconciler, debounce time.Duration) *SyncService {
	return &SyncService{
		store:      store,
		source:     source,
		reconciler: reconciler,
		debounce:   debounce,
	}
}

// TriggerSync schedules a sync after the debounce period.
// Multiple triggers within the debounce period result in a single sync.
func (s *SyncService) TriggerSync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.syncTimer != nil {
		s.syncTimer.Stop()
	}

	s.syncPending = true
	s.syncTimer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		s.syncPending = false
		s.mu.Unlock()

		if _, err := s.doSync(context.Background(), TriggerDebounce, nil); err != nil {
			log.Printf("Debounced sync failed: %v", err)
		}
	})
}

// Pending reports whether a debounced sync is waiting to run.
func (s *SyncService) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncPending
}

// ForceSync runs a sync immediately, cancelling any pending debounced sync.
// A non-nil dryRunOverride replaces the dry_run setting of the rules
// document for this run only.
func (s *SyncService) ForceSync(ctx context.Context, dryRunOverride *bool) (*domain.SyncResponse, error) {
	s.mu.Lock()
	if s.syncTimer != nil {
		s.syncTimer.Stop()
	}
	s.syncPending = false
	s.mu.Unlock()

	return s.doSync(ctx, TriggerManual, dryRunOverride)
}

// Start runs a sync immediately and then every interval until ctx is done.
func (s *SyncService) Start(ctx context.Context, interval time.Duration) {
	log.Printf("Periodic sync every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.doSync(ctx, TriggerInterval, nil); err != nil {
			if errors.Is(err, domain.ErrSyncInProgress) {
				log.Printf("Skipping periodic sync: %v", err)
			} else if ctx.Err() == nil {
				log.Printf("Periodic sync failed: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// doSync performs one run. A run is only recorded once its configuration
// has loaded; configuration errors are returned without a run record.
func (s *SyncService) doSync(ctx context.Context, trigger string, dryRunOverride *bool) (*domain.SyncResponse, error) {
	if !s.running.TryLock() {
		return nil, domain.ErrSyncInProgress
	}
	defer s.running.Unlock()

	m := metrics.Get()
	started := time.Now()

	cfg, err := s.source.RunConfig()
	if err != nil {
		m.Runs.WithLabelValues(string(domain.RunFailed), "unknown").Inc()
		return nil, err
	}
	if dryRunOverride != nil {
		cfg.DryRun = *dryRunOverride
	}
	m.DeclaredRules.Set(float64(len(cfg.Rules)))

	// History is written even when the caller's context is cancelled mid-run.
	storeCtx := context.WithoutCancel(ctx)

	run := &domain.Run{
		ID:        uuid.New().String(),
		ZoneID:    cfg.ZoneID,
		DryRun:    cfg.DryRun,
		Trigger:   trigger,
		Status:    domain.RunRunning,
		StartedAt: started.UTC(),
	}
	if err := s.store.CreateRun(storeCtx, run); err != nil {
		return nil, err
	}

	report, runErr := s.reconciler.Run(ctx, *cfg)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Status = domain.RunCompleted
	if runErr != nil {
		run.Status = domain.RunFailed
		run.Error = runErr.Error()
	}

	if report != nil {
		run.RulesetID = report.Handle.RulesetID
		run.Created = report.CountAction(domain.ActionCreate)
		run.Updated = report.CountAction(domain.ActionUpdate)
		run.Reported = report.Count(domain.OutcomeDryRunReported)
		run.Failed = report.Count(domain.OutcomeFailed)

		for _, o := range report.Outcomes {
			o.ID = uuid.New().String()
		}
	}

	if err := s.recordResult(storeCtx, run, report); err != nil {
		log.Printf("Warning: Failed to record result of run %s: %v", run.ID, err)
		run.Status = domain.RunFailed
		run.Error = "recording outcomes: " + err.Error()
		if err := s.store.UpdateRun(storeCtx, run); err != nil {
			log.Printf("Warning: Failed to update run record %s: %v", run.ID, err)
		}
	}

	m.Runs.WithLabelValues(string(run.Status), strconv.FormatBool(run.DryRun)).Inc()
	m.RunDuration.Observe(finished.Sub(started.UTC()).Seconds())
	m.LastRunTimestamp.Set(float64(finished.Unix()))

	log.Printf("Run %s %s (trigger=%s dry_run=%t created=%d updated=%d reported=%d failed=%d)",
		run.ID, run.Status, trigger, run.DryRun, run.Created, run.Updated, run.Reported, run.Failed)

	return &domain.SyncResponse{
		RunID:    run.ID,
		Status:   run.Status,
		DryRun:   run.DryRun,
		Created:  run.Created,
		Updated:  run.Updated,
		Reported: run.Reported,
		Failed:   run.Failed,
		Error:    run.Error,
	}, runErr
}

// recordResult stores the outcomes and the finished run in one transaction,
// so a finished run is never stored with only part of its outcomes.
func (s *SyncService) recordResult(ctx context.Context, run *domain.Run, report *domain.RunReport) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if report != nil && len(report.Outcomes) > 0 {
		if err := tx.AddRuleOutcomes(ctx, run.ID, report.Outcomes); err != nil {
			return err
		}
	}
	if err := tx.UpdateRun(ctx, run); err != nil {
		return err
	}
	return tx.Commit()
}
