package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"github.com/bcnelson/cloudflare-waf-manager/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	cfg *domain.RunConfig
	err error
}

func (s staticSource) RunConfig() (*domain.RunConfig, error) {
	if s.err != nil {
		return nil, s.err
	}
	cfg := *s.cfg
	return &cfg, nil
}

// fakeReconciler reports every declared rule with a fixed state.
type fakeReconciler struct {
	mu    sync.Mutex
	calls []domain.RunConfig
	err   error
	block chan struct{}
}

func (f *fakeReconciler) Run(ctx context.Context, cfg domain.RunConfig) (*domain.RunReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cfg)
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}

	report := &domain.RunReport{
		Handle: domain.RulesetHandle{ZoneID: cfg.ZoneID, RulesetID: "rs1"},
		DryRun: cfg.DryRun,
	}
	for i, def := range cfg.Rules {
		o := &domain.RuleOutcome{Position: i, RuleName: def.Name, Match: domain.MatchUnmatched, Action: domain.ActionCreate}
		if cfg.DryRun {
			o.State = domain.OutcomeDryRunReported
		} else {
			o.State = domain.OutcomeApplied
		}
		report.Outcomes = append(report.Outcomes, o)
	}
	return report, nil
}

func (f *fakeReconciler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() *domain.RunConfig {
	return &domain.RunConfig{
		ZoneID: "z1",
		DryRun: true,
		Rules: []domain.RuleDefinition{
			{Name: "admin", URI: "/admin", Field: "http.request.uri.path"},
			{Name: "grafana", URI: "/grafana", Field: "http.request.uri.path"},
		},
	}
}

func TestForceSyncRecordsRun(t *testing.T) {
	store := memory.New()
	rec := &fakeReconciler{}
	svc := NewSyncService(store, staticSource{cfg: testConfig()}, rec, time.Second)

	resp, err := svc.ForceSync(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, resp.Status)
	assert.True(t, resp.DryRun)
	assert.Equal(t, 2, resp.Reported)

	run, err := store.GetRun(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, "z1", run.ZoneID)
	assert.Equal(t, "rs1", run.RulesetID)
	assert.Equal(t, TriggerManual, run.Trigger)
	assert.NotNil(t, run.FinishedAt)
	require.Len(t, run.Outcomes, 2)
	assert.Equal(t, "admin", run.Outcomes[0].RuleName)
	assert.NotEmpty(t, run.Outcomes[0].ID)
}

func TestForceSyncDryRunOverride(t *testing.T) {
	store := memory.New()
	rec := &fakeReconciler{}
	svc := NewSyncService(store, staticSource{cfg: testConfig()}, rec, time.Second)

	apply := false
	resp, err := svc.ForceSync(context.Background(), &apply)
	require.NoError(t, err)

	assert.False(t, resp.DryRun)
	assert.Equal(t, 2, resp.Created)
	assert.Zero(t, resp.Reported)
	require.Len(t, rec.calls, 1)
	assert.False(t, rec.calls[0].DryRun)
}

func TestForceSyncConfigurationError(t *testing.T) {
	store := memory.New()
	rec := &fakeReconciler{}
	cfgErr := errors.Join(domain.ErrConfiguration, errors.New("zone_id is required"))
	svc := NewSyncService(store, staticSource{err: cfgErr}, rec, time.Second)

	resp, err := svc.ForceSync(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Nil(t, resp)
	assert.Zero(t, rec.callCount())

	runs, err := store.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestForceSyncStructuralFailure(t *testing.T) {
	store := memory.New()
	rec := &fakeReconciler{err: domain.ErrNoZoneRuleset}
	svc := NewSyncService(store, staticSource{cfg: testConfig()}, rec, time.Second)

	resp, err := svc.ForceSync(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrNoZoneRuleset)
	require.NotNil(t, resp)
	assert.Equal(t, domain.RunFailed, resp.Status)

	run, err := store.GetRun(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Contains(t, run.Error, "ruleset")
	assert.Empty(t, run.Outcomes)
}

func TestSyncInProgress(t *testing.T) {
	store := memory.New()
	rec := &fakeReconciler{block: make(chan struct{})}
	svc := NewSyncService(store, staticSource{cfg: testConfig()}, rec, time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := svc.ForceSync(context.Background(), nil)
		done <- err
	}()

	require.Eventually(t, func() bool { return rec.callCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err := svc.ForceSync(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)

	close(rec.block)
	require.NoError(t, <-done)
}

func TestTriggerSyncDebounces(t *testing.T) {
	store := memory.New()
	rec := &fakeReconciler{}
	svc := NewSyncService(store, staticSource{cfg: testConfig()}, rec, 30*time.Millisecond)

	svc.TriggerSync()
	svc.TriggerSync()
	svc.TriggerSync()
	assert.True(t, svc.Pending())

	require.Eventually(t, func() bool { return rec.callCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, rec.callCount())
	assert.False(t, svc.Pending())

	run, err := store.GetLatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TriggerDebounce, run.Trigger)
}

func TestForceSyncCancelsPendingTrigger(t *testing.T) {
	store := memory.New()
	rec := &fakeReconciler{}
	svc := NewSyncService(store, staticSource{cfg: testConfig()}, rec, 50*time.Millisecond)

	svc.TriggerSync()
	_, err := svc.ForceSync(context.Background(), nil)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.callCount())
}

func TestStartRunsPeriodically(t *testing.T) {
	store := memory.New()
	rec := &fakeReconciler{}
	svc := NewSyncService(store, staticSource{cfg: testConfig()}, rec, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		svc.Start(ctx, 10*time.Millisecond)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return rec.callCount() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-stopped

	runs, err := store.ListRuns(context.Background(), 100, 0)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	for _, run := range runs {
		assert.Equal(t, TriggerInterval, run.Trigger)
	}
}

// clashingReconciler reports two outcomes at the same position, which the
// store refuses.
type clashingReconciler struct{}

func (clashingReconciler) Run(ctx context.Context, cfg domain.RunConfig) (*domain.RunReport, error) {
	return &domain.RunReport{
		Handle: domain.RulesetHandle{ZoneID: cfg.ZoneID, RulesetID: "rs1"},
		Outcomes: []*domain.RuleOutcome{
			{Position: 0, RuleName: "admin", Match: domain.MatchUnmatched, State: domain.OutcomeApplied, Action: domain.ActionCreate},
			{Position: 0, RuleName: "grafana", Match: domain.MatchUnmatched, State: domain.OutcomeApplied, Action: domain.ActionCreate},
		},
	}, nil
}

func TestRunResultIsRecordedAtomically(t *testing.T) {
	store := memory.New()
	svc := NewSyncService(store, staticSource{cfg: testConfig()}, clashingReconciler{}, time.Second)

	resp, err := svc.ForceSync(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.RunFailed, resp.Status)

	// No outcome was kept; the run is marked failed instead.
	run, err := store.GetRun(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Contains(t, run.Error, "recording outcomes")
	assert.NotNil(t, run.FinishedAt)
	assert.Empty(t, run.Outcomes)
}
