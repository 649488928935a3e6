package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/bcnelson/cloudflare-waf-manager/internal/cloudflare"
	"github.com/bcnelson/cloudflare-waf-manager/internal/config"
	"github.com/bcnelson/cloudflare-waf-manager/internal/ipresolver"
	"github.com/bcnelson/cloudflare-waf-manager/internal/logging"
	"github.com/bcnelson/cloudflare-waf-manager/internal/reconciler"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	info     = color.New(color.FgBlue).FprintfFunc()
	success  = color.New(color.FgGreen).FprintfFunc()
	warn     = color.New(color.FgYellow).FprintfFunc()
	errPrint = color.New(color.FgRed).FprintfFunc()
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wafsync",
		Short: "Reconcile Cloudflare WAF custom rules with a rules file",
		Long: `wafsync keeps the custom rules of a Cloudflare zone ruleset in line with a
declarative rules file. Each declared rule blocks a URI for every source
address outside its allowlist; the host's public address and the VPN exit
address are added to every allowlist at run time.

The API token is read from CF_API_TOKEN.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Rules file (default $WAF_CONFIG_FILE or config.yaml)")

	root.AddCommand(newApplyCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newListCmd())
	return root
}

// app holds what every command needs: settings, the loaded rules document,
// and the collaborators built from them.
type app struct {
	cfg      *config.Config
	doc      *config.RulesDocument
	logger   *slog.Logger
	closer   io.Closer
	client   cloudflare.RulesetClient
	resolver ipresolver.Resolver
	rec      *reconciler.Reconciler
}

// setup loads configuration and builds the collaborators. It fails before
// any remote call when the token or the rules file is missing or invalid.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	rulesPath, _ := cmd.Flags().GetString("config")
	if rulesPath == "" {
		rulesPath = cfg.Rules.File
	}

	doc, err := config.LoadRules(rulesPath)
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(logging.Options{
		File:        doc.LogFile,
		Level:       doc.LogLevel,
		MaxSizeMB:   doc.MaxLogSize,
		BackupCount: doc.BackupCount,
		Stderr:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	logging.Install(logger)

	if err := cfg.Validate(); err != nil {
		closer.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		doc:      doc,
		logger:   logger,
		closer:   closer,
		resolver: ipresolver.New(cfg.IPLookup.PublicURL, cfg.IPLookup.Timeout, logger),
	}

	if cfg.UseFileShim() {
		logger.Info("Using file shim for Cloudflare API", "path", cfg.Cloudflare.FileShim)
		a.client = cloudflare.NewFileShim(cfg.Cloudflare.FileShim)
	} else {
		client, err := cloudflare.New(cfg.Cloudflare.APIToken, cfg.Cloudflare.BaseURL)
		if err != nil {
			closer.Close()
			return nil, fmt.Errorf("initializing Cloudflare client: %w", err)
		}
		a.client = client
	}

	a.rec = reconciler.New(a.client, a.resolver, logger)
	return a, nil
}

func (a *app) Close() error {
	return a.closer.Close()
}
