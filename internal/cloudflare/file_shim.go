package cloudflare

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"github.com/google/uuid"
)

// FileShim is a testing implementation that keeps zone rulesets in a JSON file.
type FileShim struct {
	filePath string
	mu       sync.Mutex
}

// Ensure FileShim implements RulesetClient.
var _ RulesetClient = (*FileShim)(nil)

// ShimState is the file format of the shim: rulesets keyed by zone id.
type ShimState struct {
	Zones map[string][]ShimRuleset `json:"zones"`
}

// ShimRuleset is a ruleset stored by the shim.
type ShimRuleset struct {
	ID    string              `json:"id"`
	Kind  string              `json:"kind"`
	Phase string              `json:"phase,omitempty"`
	Rules []domain.RemoteRule `json:"rules"`
}

// NewFileShim creates a new file-based shim for testing.
func NewFileShim(filePath string) *FileShim {
	return &FileShim{filePath: filePath}
}

// FindZoneRulesetID returns the first ruleset of kind zone for the zone.
func (f *FileShim) FindZoneRulesetID(ctx context.Context, zoneID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.load()
	if err != nil {
		return "", false, err
	}
	for _, rs := range state.Zones[zoneID] {
		if rs.Kind == domain.RulesetKindZone {
			return rs.ID, true, nil
		}
	}
	return "", false, nil
}

// ListRules returns the rules of a ruleset.
func (f *FileShim) ListRules(ctx context.Context, handle domain.RulesetHandle) ([]domain.RemoteRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.load()
	if err != nil {
		return nil, err
	}
	rs, err := findRuleset(state, handle)
	if err != nil {
		return nil, err
	}
	rules := make([]domain.RemoteRule, len(rs.Rules))
	copy(rules, rs.Rules)
	return rules, nil
}

// CreateRule appends a rule and writes the file.
func (f *FileShim) CreateRule(ctx context.Context, handle domain.RulesetHandle, in RuleInput) (*domain.RemoteRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.load()
	if err != nil {
		return nil, err
	}
	rs, err := findRuleset(state, handle)
	if err != nil {
		return nil, err
	}

	rule := domain.RemoteRule{
		ID:          strings.ReplaceAll(uuid.New().String(), "-", ""),
		Description: in.Description,
		Action:      in.Action,
		Expression:  in.Expression,
		Enabled:     in.Enabled,
	}
	rs.Rules = append(rs.Rules, rule)

	if err := f.save(state); err != nil {
		return nil, err
	}
	log.Printf("[FileShim] Rule %q created in %s (id: %s)", rule.Description, f.filePath, rule.ID)
	return &rule, nil
}

// UpdateRule replaces an existing rule and writes the file.
func (f *FileShim) UpdateRule(ctx context.Context, handle domain.RulesetHandle, ruleID string, in RuleInput) (*domain.RemoteRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.load()
	if err != nil {
		return nil, err
	}
	rs, err := findRuleset(state, handle)
	if err != nil {
		return nil, err
	}

	for i := range rs.Rules {
		if rs.Rules[i].ID != ruleID {
			continue
		}
		rs.Rules[i] = domain.RemoteRule{
			ID:          ruleID,
			Description: in.Description,
			Action:      in.Action,
			Expression:  in.Expression,
			Enabled:     in.Enabled,
		}
		if err := f.save(state); err != nil {
			return nil, err
		}
		log.Printf("[FileShim] Rule %q updated in %s (id: %s)", in.Description, f.filePath, ruleID)
		updated := rs.Rules[i]
		return &updated, nil
	}

	return nil, &domain.RemoteError{
		Kind:       domain.KindRemoteStatus,
		Op:         "update rule",
		StatusCode: 404,
		Body:       fmt.Sprintf("rule %s not found", ruleID),
		Err:        domain.ErrNotFound,
	}
}

// EnsureZoneRuleset creates an empty ruleset of kind zone for zoneID when
// the zone has none, and returns the zone ruleset id.
func (f *FileShim) EnsureZoneRuleset(zoneID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.load()
	if err != nil {
		return "", err
	}
	for _, rs := range state.Zones[zoneID] {
		if rs.Kind == domain.RulesetKindZone {
			return rs.ID, nil
		}
	}

	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	state.Zones[zoneID] = append(state.Zones[zoneID], ShimRuleset{
		ID:    id,
		Kind:  domain.RulesetKindZone,
		Phase: "http_request_firewall_custom",
		Rules: []domain.RemoteRule{},
	})
	if err := f.save(state); err != nil {
		return "", err
	}
	log.Printf("[FileShim] Created zone ruleset %s for zone %s", id, zoneID)
	return id, nil
}

func findRuleset(state *ShimState, handle domain.RulesetHandle) (*ShimRuleset, error) {
	rulesets := state.Zones[handle.ZoneID]
	for i := range rulesets {
		if rulesets[i].ID == handle.RulesetID {
			return &rulesets[i], nil
		}
	}
	return nil, &domain.RemoteError{
		Kind:       domain.KindRemoteStatus,
		Op:         "get ruleset",
		StatusCode: 404,
		Body:       fmt.Sprintf("ruleset %s not found in zone %s", handle.RulesetID, handle.ZoneID),
		Err:        domain.ErrNotFound,
	}
}

func (f *FileShim) load() (*ShimState, error) {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ShimState{Zones: map[string][]ShimRuleset{}}, nil
		}
		return nil, fmt.Errorf("reading shim file: %w", err)
	}

	var state ShimState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing shim file: %w", err)
	}
	if state.Zones == nil {
		state.Zones = map[string][]ShimRuleset{}
	}
	return &state, nil
}

func (f *FileShim) save(state *ShimState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling shim state: %w", err)
	}
	if err := os.WriteFile(f.filePath, data, 0644); err != nil {
		return fmt.Errorf("writing shim file: %w", err)
	}
	return nil
}
