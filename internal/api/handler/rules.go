package handler

import (
	"context"
	"net/http"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"github.com/bcnelson/cloudflare-waf-manager/internal/expression"
	"github.com/bcnelson/cloudflare-waf-manager/internal/ipresolver"
	"github.com/bcnelson/cloudflare-waf-manager/internal/service"
)

// RemoteRuleLister reads the current rules of a zone ruleset.
type RemoteRuleLister interface {
	RemoteRules(ctx context.Context, zoneID string) (domain.RulesetHandle, []domain.RemoteRule, error)
}

// RulesHandler serves the declared and remote rules.
type RulesHandler struct {
	source   service.ConfigSource
	resolver ipresolver.Resolver
	remote   RemoteRuleLister
}

// NewRulesHandler creates a new RulesHandler. resolver may be nil.
func NewRulesHandler(source service.ConfigSource, resolver ipresolver.Resolver, remote RemoteRuleLister) *RulesHandler {
	return &RulesHandler{source: source, resolver: resolver, remote: remote}
}

// Declared returns the declared rules with the expressions they would get
// if a run started now. Addresses are resolved once for the whole preview.
func (h *RulesHandler) Declared(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.source.RunConfig()
	if err != nil {
		handleError(w, err)
		return
	}

	var addrs ipresolver.Addresses
	if h.resolver != nil {
		addrs = ipresolver.ResolveAll(r.Context(), h.resolver, cfg.VPNHost)
	}

	preview := &domain.RulesPreview{
		ZoneID:   cfg.ZoneID,
		DryRun:   cfg.DryRun,
		PublicIP: addrs.Public,
		VPNIP:    addrs.VPN,
		Rules:    make([]domain.RulePreview, 0, len(cfg.Rules)),
	}
	for _, def := range cfg.Rules {
		preview.Rules = append(preview.Rules, domain.RulePreview{
			RuleDefinition: def,
			Expression:     expression.Compose(def.Field, def.URI, expression.AllowList(def.AllowedIPs, addrs)),
		})
	}
	respondJSON(w, http.StatusOK, preview)
}

// Remote returns the rules currently in the zone ruleset.
func (h *RulesHandler) Remote(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.source.RunConfig()
	if err != nil {
		handleError(w, err)
		return
	}

	handle, rules, err := h.remote.RemoteRules(r.Context(), cfg.ZoneID)
	if err != nil {
		handleError(w, err)
		return
	}
	if rules == nil {
		rules = []domain.RemoteRule{}
	}
	respondJSON(w, http.StatusOK, &domain.RemoteRuleset{RulesetHandle: handle, Rules: rules})
}
