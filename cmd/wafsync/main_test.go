package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/bcnelson/cloudflare-waf-manager/internal/cloudflare"
	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRules = `zone_id: z1
rules:
  - name: admin
    uri: /admin
    field: http.request.uri.path
    allowed_ips: ["1.2.3.4"]
`

type env struct {
	shim      *cloudflare.FileShim
	rulesPath string
	lookups   *atomic.Int32
}

func setupEnv(t *testing.T, rules string) *env {
	t.Helper()
	dir := t.TempDir()

	rulesPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(rules), 0644))

	shimPath := filepath.Join(dir, "cloudflare.json")
	shim := cloudflare.NewFileShim(shimPath)
	_, err := shim.EnsureZoneRuleset("z1")
	require.NoError(t, err)

	lookups := &atomic.Int32{}
	ipSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	t.Cleanup(ipSrv.Close)

	t.Setenv("CF_API_TOKEN", "")
	t.Setenv("CF_FILE_SHIM", shimPath)
	t.Setenv("WAF_CONFIG_FILE", rulesPath)
	t.Setenv("PUBLIC_IP_URL", ipSrv.URL)

	return &env{shim: shim, rulesPath: rulesPath, lookups: lookups}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func (e *env) remoteRules(t *testing.T) []domain.RemoteRule {
	t.Helper()
	id, _, err := e.shim.FindZoneRulesetID(context.Background(), "z1")
	require.NoError(t, err)
	rules, err := e.shim.ListRules(context.Background(), domain.RulesetHandle{ZoneID: "z1", RulesetID: id})
	require.NoError(t, err)
	return rules
}

func TestPlanMakesNoChanges(t *testing.T) {
	e := setupEnv(t, testRules)

	out, err := execute(t, "plan")
	require.NoError(t, err)

	assert.Contains(t, out, `[Dry Run] Would create rule "admin": (http.request.uri.path r"/admin") and not (ip.src in {1.2.3.4 203.0.113.7})`)
	assert.Empty(t, e.remoteRules(t))
}

func TestApplyDefaultsToDryRun(t *testing.T) {
	e := setupEnv(t, testRules)

	out, err := execute(t, "apply")
	require.NoError(t, err)

	assert.Contains(t, out, "[Dry Run]")
	assert.Empty(t, e.remoteRules(t))
}

func TestApplyCreatesThenUpdates(t *testing.T) {
	e := setupEnv(t, testRules)

	out, err := execute(t, "apply", "--dry-run=false")
	require.NoError(t, err)
	assert.Contains(t, out, `Created rule "admin"`)

	rules := e.remoteRules(t)
	require.Len(t, rules, 1)
	assert.Equal(t, "admin", rules[0].Description)
	assert.Equal(t, "block", rules[0].Action)
	assert.True(t, rules[0].Enabled)

	out, err = execute(t, "apply", "--dry-run=false")
	require.NoError(t, err)
	assert.Contains(t, out, `Updated rule "admin" (`+rules[0].ID+`)`)
	assert.Len(t, e.remoteRules(t), 1)

	out, err = execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "1 rules")
	assert.Contains(t, out, rules[0].ID)
}

func TestApplyHonoursConfigDryRun(t *testing.T) {
	e := setupEnv(t, "dry_run: false\n"+testRules)

	_, err := execute(t, "apply")
	require.NoError(t, err)
	assert.Len(t, e.remoteRules(t), 1)
}

func TestMissingTokenFailsBeforeRemoteCalls(t *testing.T) {
	e := setupEnv(t, testRules)
	t.Setenv("CF_FILE_SHIM", "")

	_, err := execute(t, "apply", "--dry-run=false")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Zero(t, e.lookups.Load())
}

func TestInvalidRulesFile(t *testing.T) {
	tests := []struct {
		name  string
		rules string
	}{
		{name: "no rules", rules: "zone_id: z1\nrules: []\n"},
		{name: "no zone", rules: "rules:\n  - name: a\n    uri: /a\n    field: http.request.uri.path\n"},
		{name: "not yaml", rules: "zone_id: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setupEnv(t, tt.rules)

			_, err := execute(t, "apply", "--dry-run=false")
			assert.ErrorIs(t, err, domain.ErrConfiguration)
			assert.Zero(t, e.lookups.Load())
		})
	}
}

func TestMissingZoneRuleset(t *testing.T) {
	setupEnv(t, "zone_id: z2\nrules:\n  - name: a\n    uri: /a\n    field: http.request.uri.path\n")

	out, err := execute(t, "apply")
	assert.ErrorIs(t, err, domain.ErrNoZoneRuleset)
	assert.Contains(t, out, "Run failed")
}

func TestPlanKeepsGoingPastOddEntries(t *testing.T) {
	setupEnv(t, `zone_id: z1
rules:
  - name: admin
    uri: /admin*
    field: http.request.uri.path wildcard
    allowed_ips: ["$office_ips"]
  - name: admin
    uri: /grafana
    field: http.request.uri.path
`)

	out, err := execute(t, "plan")
	require.NoError(t, err)

	assert.Contains(t, out, `(http.request.uri.path wildcard r"/admin*") and not (ip.src in {$office_ips 203.0.113.7})`)
	assert.Contains(t, out, `(http.request.uri.path r"/grafana") and not (ip.src in {203.0.113.7})`)
	assert.Contains(t, out, "0 created, 0 updated, 2 reported, 0 failed")
}
