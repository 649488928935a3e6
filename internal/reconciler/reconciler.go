// Package reconciler applies declared WAF rules to a Cloudflare zone ruleset.
//
// A run validates its configuration, locates the zone ruleset, takes one
// snapshot of the remote rules, and then walks the declared rules in order.
// Each declared rule is matched by name against the description of the
// remote rules and is either updated in place or created. Failures applying
// one rule are recorded on its outcome and never stop the remaining rules;
// only configuration and ruleset lookup failures abort a run.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bcnelson/cloudflare-waf-manager/internal/cloudflare"
	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"github.com/bcnelson/cloudflare-waf-manager/internal/expression"
	"github.com/bcnelson/cloudflare-waf-manager/internal/ipresolver"
	"github.com/bcnelson/cloudflare-waf-manager/internal/metrics"
	"github.com/bcnelson/cloudflare-waf-manager/internal/validation"
)

// Reconciler reconciles declared rules against a zone ruleset.
type Reconciler struct {
	client   cloudflare.RulesetClient
	resolver ipresolver.Resolver
	logger   *slog.Logger
}

// New creates a Reconciler. resolver may be nil, in which case no dynamic
// addresses are added to the allowlists.
func New(client cloudflare.RulesetClient, resolver ipresolver.Resolver, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{client: client, resolver: resolver, logger: logger}
}

// Run performs one reconciliation run.
func (r *Reconciler) Run(ctx context.Context, cfg domain.RunConfig) (*domain.RunReport, error) {
	if err := validation.ValidateRunConfig(&cfg).AsConfigurationError(); err != nil {
		return nil, err
	}
	for _, w := range validation.LintRunConfig(&cfg) {
		r.logger.Warn("Rule definition may be rejected by Cloudflare", "field", w.Field, "value", w.Value, "problem", w.Message)
	}

	handle, err := r.resolveRuleset(ctx, cfg.ZoneID)
	if err != nil {
		return nil, err
	}

	snapshot, err := r.client.ListRules(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("listing rules of ruleset %s: %w", handle.RulesetID, err)
	}
	r.warnDuplicates(snapshot, cfg.Rules)

	builder := expression.NewBuilder(r.resolver, cfg.VPNHost)
	report := &domain.RunReport{Handle: handle, DryRun: cfg.DryRun}

	for i, def := range cfg.Rules {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome := &domain.RuleOutcome{
			Position: i,
			RuleName: def.Name,
			Match:    domain.MatchPending,
			State:    domain.OutcomePending,
		}
		report.Outcomes = append(report.Outcomes, outcome)

		outcome.Expression = builder.Build(ctx, def.AllowedIPs, def.URI, def.Field)

		existing := FindRuleByName(snapshot, def.Name)
		if existing != nil {
			outcome.Match = domain.MatchMatched
			outcome.Action = domain.ActionUpdate
			outcome.RemoteRuleID = existing.ID
		} else {
			outcome.Match = domain.MatchUnmatched
			outcome.Action = domain.ActionCreate
		}

		if cfg.DryRun {
			outcome.State = domain.OutcomeDryRunReported
			r.logger.Info("[Dry Run] rule not applied",
				"rule", def.Name, "action", outcome.Action, "expression", outcome.Expression)
		} else {
			r.apply(ctx, handle, def, existing, outcome)
		}
		metrics.Get().RuleActions.WithLabelValues(string(outcome.Action), string(outcome.State)).Inc()
	}

	return report, nil
}

// RemoteRules returns the zone ruleset handle and its current rules.
func (r *Reconciler) RemoteRules(ctx context.Context, zoneID string) (domain.RulesetHandle, []domain.RemoteRule, error) {
	handle, err := r.resolveRuleset(ctx, zoneID)
	if err != nil {
		return handle, nil, err
	}
	rules, err := r.client.ListRules(ctx, handle)
	if err != nil {
		return handle, nil, fmt.Errorf("listing rules of ruleset %s: %w", handle.RulesetID, err)
	}
	return handle, rules, nil
}

// resolveRuleset locates the zone's ruleset of kind zone. A zone without one
// cannot be reconciled, so its absence is an error.
func (r *Reconciler) resolveRuleset(ctx context.Context, zoneID string) (domain.RulesetHandle, error) {
	handle := domain.RulesetHandle{ZoneID: zoneID}
	if zoneID == "" {
		return handle, fmt.Errorf("%w: zone_id is required", domain.ErrConfiguration)
	}

	id, ok, err := r.client.FindZoneRulesetID(ctx, zoneID)
	if err != nil {
		return handle, fmt.Errorf("finding ruleset of zone %s: %w", zoneID, err)
	}
	if !ok {
		return handle, fmt.Errorf("%w: zone %s", domain.ErrNoZoneRuleset, zoneID)
	}
	handle.RulesetID = id
	return handle, nil
}

// apply creates or updates one rule and records the result on outcome.
func (r *Reconciler) apply(ctx context.Context, handle domain.RulesetHandle, def domain.RuleDefinition, existing *domain.RemoteRule, outcome *domain.RuleOutcome) {
	var err error
	op := "create rule"

	if existing != nil {
		op = "update rule"
		r.logger.Info("Updating rule", "rule", existing.Description, "id", existing.ID)
		_, err = r.client.UpdateRule(ctx, handle, existing.ID, cloudflare.RuleInput{
			Action:      existing.Action,
			Expression:  outcome.Expression,
			Description: existing.Description,
			Enabled:     true,
		})
	} else {
		r.logger.Info("Creating rule", "rule", def.Name)
		var created *domain.RemoteRule
		created, err = r.client.CreateRule(ctx, handle, cloudflare.RuleInput{
			Action:      domain.DefaultRuleAction,
			Expression:  outcome.Expression,
			Description: def.Name,
			Enabled:     true,
		})
		if err == nil && created != nil {
			outcome.RemoteRuleID = created.ID
		}
	}

	if err != nil {
		re := domain.AsRemoteError(op, err)
		outcome.State = domain.OutcomeFailed
		outcome.ErrorKind = re.Kind
		outcome.StatusCode = re.StatusCode
		outcome.Error = re.Error()
		metrics.Get().RemoteErrors.WithLabelValues(string(re.Kind)).Inc()
		r.logger.Error("Error applying rule",
			"rule", def.Name, "action", outcome.Action, "kind", re.Kind,
			"status", re.StatusCode, "body", re.Body, "error", re.Err)
		return
	}

	outcome.State = domain.OutcomeApplied
	r.logger.Info("Rule applied", "rule", def.Name, "action", outcome.Action, "id", outcome.RemoteRuleID)
}

// FindRuleByName returns the first rule whose description equals name
// (exact, case-sensitive), or nil.
func FindRuleByName(rules []domain.RemoteRule, name string) *domain.RemoteRule {
	for i := range rules {
		if rules[i].Description == name {
			return &rules[i]
		}
	}
	return nil
}

func (r *Reconciler) warnDuplicates(snapshot []domain.RemoteRule, defs []domain.RuleDefinition) {
	counts := make(map[string]int, len(snapshot))
	for _, rule := range snapshot {
		counts[rule.Description]++
	}
	for _, def := range defs {
		if n := counts[def.Name]; n > 1 {
			r.logger.Warn("Several remote rules share this description; the first one is used",
				"rule", def.Name, "count", n)
		}
	}
}
