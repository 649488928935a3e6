package domain

// RuleDefinition is a declared WAF access rule.
// Name is matched against the description of remote rules; it is not a
// stable identifier across renames.
type RuleDefinition struct {
	Name       string   `json:"name" yaml:"name"`
	URI        string   `json:"uri" yaml:"uri"`
	Field      string   `json:"field" yaml:"field"`
	AllowedIPs []string `json:"allowed_ips" yaml:"allowed_ips"`
}

// RemoteRule is a rule as it exists in the zone ruleset on Cloudflare.
type RemoteRule struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Action      string `json:"action"`
	Expression  string `json:"expression"`
	Enabled     bool   `json:"enabled"`
}

// RulesetHandle identifies the zone ruleset a run operates on.
type RulesetHandle struct {
	ZoneID    string `json:"zone_id"`
	RulesetID string `json:"ruleset_id"`
}

// RunConfig is the validated input of a single reconciliation run.
type RunConfig struct {
	ZoneID  string           `json:"zone_id"`
	DryRun  bool             `json:"dry_run"`
	Rules   []RuleDefinition `json:"rules"`
	VPNHost string           `json:"vpn_host,omitempty"`
}

// DefaultRuleAction is the action given to rules created by the reconciler.
const DefaultRuleAction = "block"

// RulesetKindZone is the ruleset kind holding a zone's custom rules.
const RulesetKindZone = "zone"

// RulePreview is a declared rule with the expression it would be given now.
type RulePreview struct {
	RuleDefinition
	Expression string `json:"expression"`
}

// RulesPreview lists the declared rules of the current rules document.
type RulesPreview struct {
	ZoneID   string        `json:"zone_id"`
	DryRun   bool          `json:"dry_run"`
	PublicIP string        `json:"public_ip,omitempty"`
	VPNIP    string        `json:"vpn_ip,omitempty"`
	Rules    []RulePreview `json:"rules"`
}

// RemoteRuleset is the current content of a zone ruleset.
type RemoteRuleset struct {
	RulesetHandle
	Rules []RemoteRule `json:"rules"`
}
