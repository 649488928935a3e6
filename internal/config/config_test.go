package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
)

const sampleRules = `
zone_id: z1
gluetun_vpn_host: gluetun:8000
log_file: waf.log
log_level: debug
max_log_size: 5
backup_count: 3
rules:
  - name: admin
    uri: /admin
    field: http.request.uri.path
    allowed_ips:
      - 1.2.3.4
  - name: grafana
    uri: ^/grafana
    field: http.request.uri.path
    allowed_ips: []
`

func TestParseRules(t *testing.T) {
	doc, err := ParseRules([]byte(sampleRules))
	if err != nil {
		t.Fatalf("ParseRules failed: %v", err)
	}

	if doc.ZoneID != "z1" {
		t.Errorf("Expected zone z1, got %s", doc.ZoneID)
	}
	if doc.VPNHost != "gluetun:8000" {
		t.Errorf("Expected vpn host gluetun:8000, got %s", doc.VPNHost)
	}
	if doc.MaxLogSize != 5 || doc.BackupCount != 3 || doc.LogLevel != "debug" {
		t.Errorf("Unexpected logging settings: %+v", doc)
	}
	if len(doc.Rules) != 2 {
		t.Fatalf("Expected 2 rules, got %d", len(doc.Rules))
	}
	if doc.Rules[0].AllowedIPs[0] != "1.2.3.4" {
		t.Errorf("Expected allowed ip 1.2.3.4, got %v", doc.Rules[0].AllowedIPs)
	}
}

func TestDryRunDefaultsToTrue(t *testing.T) {
	doc, err := ParseRules([]byte(sampleRules))
	if err != nil {
		t.Fatalf("ParseRules failed: %v", err)
	}
	if !doc.IsDryRun() {
		t.Error("Expected dry_run to default to true")
	}

	doc, err = ParseRules([]byte("dry_run: false\n" + sampleRules))
	if err != nil {
		t.Fatalf("ParseRules failed: %v", err)
	}
	if doc.IsDryRun() {
		t.Error("Expected explicit dry_run: false to be honored")
	}
}

func TestRunConfig(t *testing.T) {
	doc, _ := ParseRules([]byte(sampleRules))
	cfg, err := doc.RunConfig()
	if err != nil {
		t.Fatalf("RunConfig failed: %v", err)
	}
	if cfg.ZoneID != "z1" || !cfg.DryRun || cfg.VPNHost != "gluetun:8000" {
		t.Errorf("Unexpected run config: %+v", cfg)
	}

	doc.ZoneID = ""
	if _, err := doc.RunConfig(); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for missing zone, got %v", err)
	}

	doc.ZoneID = "z1"
	doc.Rules = nil
	if _, err := doc.RunConfig(); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for empty rules, got %v", err)
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleRules), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := FileSource{Path: path}.RunConfig()
	if err != nil {
		t.Fatalf("RunConfig failed: %v", err)
	}
	if len(cfg.Rules) != 2 {
		t.Errorf("Expected 2 rules, got %d", len(cfg.Rules))
	}

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "missing.yaml")}.RunConfig()
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for missing file, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"token set", Config{Cloudflare: CloudflareConfig{APIToken: "t"}}, false},
		{"file shim", Config{Cloudflare: CloudflareConfig{FileShim: "rules.json"}}, false},
		{"no token", Config{}, true},
		{"oidc missing issuer", Config{Cloudflare: CloudflareConfig{APIToken: "t"}, OIDC: OIDCConfig{Enabled: true, ClientID: "c"}}, true},
		{"oidc complete", Config{Cloudflare: CloudflareConfig{APIToken: "t"}, OIDC: OIDCConfig{Enabled: true, IssuerURL: "https://id", ClientID: "c"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CF_API_TOKEN", "secret")
	t.Setenv("WAF_CONFIG_FILE", "/etc/waf/rules.yaml")
	t.Setenv("SYNC_INTERVAL", "15m")
	t.Setenv("OIDC_ALLOWED_DOMAINS", "example.com, example.org")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cloudflare.APIToken != "secret" {
		t.Errorf("Expected token from environment, got %q", cfg.Cloudflare.APIToken)
	}
	if cfg.Rules.File != "/etc/waf/rules.yaml" {
		t.Errorf("Expected rules file override, got %s", cfg.Rules.File)
	}
	if cfg.Sync.Interval.Minutes() != 15 {
		t.Errorf("Expected 15m interval, got %s", cfg.Sync.Interval)
	}
	if cfg.IPLookup.PublicURL != "https://api.ipify.org?format=json" {
		t.Errorf("Unexpected default public IP URL %s", cfg.IPLookup.PublicURL)
	}
	domains := cfg.OIDC.GetAllowedDomains()
	if len(domains) != 2 || domains[1] != "example.org" {
		t.Errorf("Unexpected allowed domains %v", domains)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Unexpected server address %s", cfg.Server.Addr())
	}
}

func TestDocumentSourceDoesNotReread(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleRules), 0644); err != nil {
		t.Fatal(err)
	}
	doc, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}

	// Edits after loading do not reach the run configuration.
	if err := os.WriteFile(path, []byte("zone_id: z2\nrules: []\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := DocumentSource{Doc: doc}.RunConfig()
	if err != nil {
		t.Fatalf("RunConfig failed: %v", err)
	}
	if cfg.ZoneID != "z1" || len(cfg.Rules) != 2 {
		t.Errorf("Expected the loaded document, got %+v", cfg)
	}
}
