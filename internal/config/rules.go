package config

import (
	"fmt"
	"os"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"github.com/bcnelson/cloudflare-waf-manager/internal/validation"
	"gopkg.in/yaml.v2"
)

// RulesDocument is the declarative YAML document listing the rules of a zone.
type RulesDocument struct {
	ZoneID  string                  `yaml:"zone_id"`
	DryRun  *bool                   `yaml:"dry_run"`
	VPNHost string                  `yaml:"gluetun_vpn_host"`
	Rules   []domain.RuleDefinition `yaml:"rules"`

	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"`
	MaxLogSize  int    `yaml:"max_log_size"` // megabytes
	BackupCount int    `yaml:"backup_count"`
}

// LoadRules reads and parses the rules document at path.
func LoadRules(path string) (*RulesDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading rules file: %w", domain.ErrConfiguration, err)
	}
	return ParseRules(data)
}

// ParseRules parses a rules document.
func ParseRules(data []byte) (*RulesDocument, error) {
	var doc RulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing rules file: %w", domain.ErrConfiguration, err)
	}
	return &doc, nil
}

// IsDryRun reports the dry_run setting, which defaults to true when absent.
func (d *RulesDocument) IsDryRun() bool {
	if d.DryRun == nil {
		return true
	}
	return *d.DryRun
}

// RunConfig validates the document and converts it into a run configuration.
func (d *RulesDocument) RunConfig() (*domain.RunConfig, error) {
	cfg := &domain.RunConfig{
		ZoneID:  d.ZoneID,
		DryRun:  d.IsDryRun(),
		Rules:   d.Rules,
		VPNHost: d.VPNHost,
	}
	if err := validation.ValidateRunConfig(cfg).AsConfigurationError(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FileSource loads the run configuration from a rules file on every call,
// so edits to the file are picked up by the next run.
type FileSource struct {
	Path string
}

// RunConfig loads and validates the rules file.
func (s FileSource) RunConfig() (*domain.RunConfig, error) {
	doc, err := LoadRules(s.Path)
	if err != nil {
		return nil, err
	}
	return doc.RunConfig()
}

// DocumentSource serves the run configuration of an already loaded
// document, for one-shot runs that must not read the file a second time.
type DocumentSource struct {
	Doc *RulesDocument
}

// RunConfig validates the document.
func (s DocumentSource) RunConfig() (*domain.RunConfig, error) {
	return s.Doc.RunConfig()
}
