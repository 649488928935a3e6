// Package validation checks declared WAF rules.
//
// Only a missing zone, an empty rule list, or a rule without a name, uri or
// field makes a run configuration invalid. Field and uri are otherwise
// interpolated as given, so a field may carry its operator
// ("http.request.uri.path wildcard"). Everything else is reported by
// LintRunConfig as a warning and left for Cloudflare to judge per rule.
package validation

import (
	"fmt"
	"net"
	"strings"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
)

// ValidateURIPattern reports uris that would break out of the raw string
// literal they are placed in.
func ValidateURIPattern(uri string) error {
	if strings.Contains(uri, `"`) {
		return fmt.Errorf("uri contains a double quote")
	}
	return nil
}

// ValidateIPEntry validates an allowlist entry (an IP address or CIDR).
func ValidateIPEntry(entry string) error {
	if ip := net.ParseIP(entry); ip != nil {
		return nil
	}
	if _, _, err := net.ParseCIDR(entry); err == nil {
		return nil
	}
	return fmt.Errorf("%q is not a valid IP address or CIDR", entry)
}

// ValidateRuleDefinition checks the required fields of a declared rule.
// The prefix is used for field paths in the returned errors (for example
// "rules[2]").
func ValidateRuleDefinition(prefix string, def domain.RuleDefinition) ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(def.Name) == "" {
		errs.Add(prefix+".name", def.Name, "name is required")
	}
	if strings.TrimSpace(def.URI) == "" {
		errs.Add(prefix+".uri", def.URI, "uri is required")
	}
	if strings.TrimSpace(def.Field) == "" {
		errs.Add(prefix+".field", def.Field, "field is required")
	}

	return errs
}

// ValidateRunConfig validates a run configuration: zone_id and at least one
// rule are required, and every rule needs a name, uri and field.
func ValidateRunConfig(cfg *domain.RunConfig) ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(cfg.ZoneID) == "" {
		errs.Add("zone_id", cfg.ZoneID, "zone_id is required")
	}
	if len(cfg.Rules) == 0 {
		errs.Add("rules", "", "at least one rule is required")
	}
	for i, def := range cfg.Rules {
		errs = append(errs, ValidateRuleDefinition(fmt.Sprintf("rules[%d]", i), def)...)
	}

	return errs
}

// LintRunConfig returns problems that do not stop a run: allowlist entries
// that are not addresses, uris containing a double quote, and names
// declared more than once. Each affected rule is still sent.
func LintRunConfig(cfg *domain.RunConfig) ValidationErrors {
	var warns ValidationErrors

	seen := make(map[string]int, len(cfg.Rules))
	for i, def := range cfg.Rules {
		prefix := fmt.Sprintf("rules[%d]", i)
		if err := ValidateURIPattern(def.URI); err != nil {
			warns.Add(prefix+".uri", def.URI, err.Error())
		}
		for j, ip := range def.AllowedIPs {
			if err := ValidateIPEntry(ip); err != nil {
				warns.Add(fmt.Sprintf("%s.allowed_ips[%d]", prefix, j), ip, err.Error())
			}
		}
		if def.Name == "" {
			continue
		}
		if first, dup := seen[def.Name]; dup {
			warns.Add(prefix+".name", def.Name, fmt.Sprintf("also declared at rules[%d]", first))
			continue
		}
		seen[def.Name] = i
	}

	return warns
}
