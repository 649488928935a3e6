package validation

import (
	"errors"
	"testing"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
)

func TestValidateURIPattern(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{"simple path", "/admin", false},
		{"regex", "^/wp-(admin|login)", false},
		{"quote", `/admin"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURIPattern(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURIPattern(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
		})
	}
}

func TestValidateIPEntry(t *testing.T) {
	tests := []struct {
		name    string
		entry   string
		wantErr bool
	}{
		{"ipv4", "1.2.3.4", false},
		{"ipv4 cidr", "10.0.0.0/8", false},
		{"ipv6", "2001:db8::1", false},
		{"ipv6 cidr", "2001:db8::/32", false},
		{"hostname", "example.com", true},
		{"bad octet", "1.2.3.400", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIPEntry(tt.entry)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIPEntry(%q) error = %v, wantErr %v", tt.entry, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRuleDefinition(t *testing.T) {
	tests := []struct {
		name       string
		def        domain.RuleDefinition
		wantFields []string
	}{
		{
			name: "plain field",
			def:  domain.RuleDefinition{Name: "admin", URI: "/admin", Field: "http.request.uri.path"},
		},
		{
			name: "field with operator",
			def:  domain.RuleDefinition{Name: "admin", URI: "/admin*", Field: "http.request.uri.path wildcard"},
		},
		{
			name: "field with function",
			def:  domain.RuleDefinition{Name: "admin", URI: "^/admin", Field: "lower(http.request.uri.path) matches"},
		},
		{
			// Allowlist contents are not checked here; see LintRunConfig.
			name: "unparseable allowlist entry",
			def:  domain.RuleDefinition{Name: "admin", URI: "/admin", Field: "http.host", AllowedIPs: []string{"$office_ips"}},
		},
		{
			name:       "missing everything",
			def:        domain.RuleDefinition{AllowedIPs: []string{"1.2.3.4"}},
			wantFields: []string{"rules[3].name", "rules[3].uri", "rules[3].field"},
		},
		{
			name:       "blank field",
			def:        domain.RuleDefinition{Name: "admin", URI: "/admin", Field: "  "},
			wantFields: []string{"rules[3].field"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateRuleDefinition("rules[3]", tt.def)
			if len(errs) != len(tt.wantFields) {
				t.Fatalf("expected %d errors, got %d: %v", len(tt.wantFields), len(errs), errs)
			}
			for i, f := range tt.wantFields {
				if errs[i].Field != f {
					t.Errorf("error %d: expected field %s, got %s", i, f, errs[i].Field)
				}
			}
		})
	}
}

func TestValidateRunConfig(t *testing.T) {
	rule := domain.RuleDefinition{Name: "admin", URI: "/admin", Field: "http.request.uri.path"}
	odd := domain.RuleDefinition{Name: "admin", URI: `/a"b`, Field: "http.host", AllowedIPs: []string{"office"}}

	tests := []struct {
		name       string
		cfg        domain.RunConfig
		wantFields []string
	}{
		{"valid", domain.RunConfig{ZoneID: "z1", Rules: []domain.RuleDefinition{rule}}, nil},
		{"missing zone", domain.RunConfig{Rules: []domain.RuleDefinition{rule}}, []string{"zone_id"}},
		{"no rules", domain.RunConfig{ZoneID: "z1"}, []string{"rules"}},
		{"nothing", domain.RunConfig{}, []string{"zone_id", "rules"}},
		{"duplicate names and odd values are not fatal", domain.RunConfig{ZoneID: "z1", Rules: []domain.RuleDefinition{rule, odd}}, nil},
		{"rule without uri", domain.RunConfig{ZoneID: "z1", Rules: []domain.RuleDefinition{rule, {Name: "b", Field: "http.host"}}}, []string{"rules[1].uri"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateRunConfig(&tt.cfg)
			if len(errs) != len(tt.wantFields) {
				t.Fatalf("expected %d errors, got %d: %v", len(tt.wantFields), len(errs), errs)
			}
			for i, f := range tt.wantFields {
				if errs[i].Field != f {
					t.Errorf("error %d: expected field %s, got %s", i, f, errs[i].Field)
				}
			}
		})
	}
}

func TestLintRunConfig(t *testing.T) {
	cfg := domain.RunConfig{
		ZoneID: "z1",
		Rules: []domain.RuleDefinition{
			{Name: "admin", URI: "/admin", Field: "http.request.uri.path", AllowedIPs: []string{"1.2.3.4"}},
			{Name: "grafana", URI: `/graf"ana`, Field: "http.request.uri.path", AllowedIPs: []string{"10.0.0.0/8", "$office_ips"}},
			{Name: "admin", URI: "/admin2", Field: "http.request.uri.path wildcard"},
		},
	}

	warns := LintRunConfig(&cfg)
	want := []string{"rules[1].uri", "rules[1].allowed_ips[1]", "rules[2].name"}
	if len(warns) != len(want) {
		t.Fatalf("expected %d warnings, got %d: %v", len(want), len(warns), warns)
	}
	for i, f := range want {
		if warns[i].Field != f {
			t.Errorf("warning %d: expected field %s, got %s", i, f, warns[i].Field)
		}
	}
}

func TestAsConfigurationError(t *testing.T) {
	var errs ValidationErrors
	if errs.AsConfigurationError() != nil {
		t.Fatal("expected nil for empty collection")
	}

	errs.Add("zone_id", "", "zone_id is required")
	err := errs.AsConfigurationError()
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) != 1 {
		t.Errorf("expected wrapped ValidationErrors, got %v", err)
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	var errs ValidationErrors
	errs.Add("rules", "", "at least one rule is required")
	errs.Add("rules[0].allowed_ips[1]", "1.2.3", "not an IP address or CIDR")

	want := `rules: at least one rule is required; rules[0].allowed_ips[1]: not an IP address or CIDR (got "1.2.3")`
	if got := errs.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
