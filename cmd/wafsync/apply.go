package main

import (
	"context"
	"fmt"
	"io"

	"github.com/bcnelson/cloudflare-waf-manager/internal/config"
	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"github.com/bcnelson/cloudflare-waf-manager/internal/service"
	"github.com/bcnelson/cloudflare-waf-manager/internal/storage/memory"
	"github.com/spf13/cobra"
)

func newApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or update the declared rules",
		Long: `Reconcile every declared rule with the zone ruleset. Rules whose name
matches the description of an existing rule are updated, others are created.

The dry_run setting of the rules file is honoured (it defaults to true);
--dry-run overrides it for this invocation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var override *bool
			if cmd.Flags().Changed("dry-run") {
				v, _ := cmd.Flags().GetBool("dry-run")
				override = &v
			}
			return runSync(cmd, override)
		},
	}
	cmd.Flags().Bool("dry-run", true, "Report changes without applying them")
	return cmd
}

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would do without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun := true
			return runSync(cmd, &dryRun)
		},
	}
}

// runSync performs one run and prints its outcomes. Per-rule failures are
// printed but do not make the command fail.
func runSync(cmd *cobra.Command, dryRunOverride *bool) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	store := memory.New()
	svc := service.NewSyncService(store, config.DocumentSource{Doc: a.doc}, a.rec, 0)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resp, runErr := svc.ForceSync(ctx, dryRunOverride)
	if resp == nil {
		return runErr
	}

	run, err := store.GetRun(ctx, resp.RunID)
	if err != nil {
		return err
	}
	printRun(cmd.OutOrStdout(), run)
	return runErr
}

func printRun(w io.Writer, run *domain.Run) {
	mode := "apply"
	if run.DryRun {
		mode = "dry run"
	}
	info(w, "Zone %s, ruleset %s (%s)\n", run.ZoneID, run.RulesetID, mode)

	for _, o := range run.Outcomes {
		switch o.State {
		case domain.OutcomeDryRunReported:
			info(w, "[Dry Run] Would %s rule %q: %s\n", o.Action, o.RuleName, o.Expression)
		case domain.OutcomeApplied:
			success(w, "%s rule %q (%s): %s\n", pastTense(o.Action), o.RuleName, o.RemoteRuleID, o.Expression)
		case domain.OutcomeFailed:
			errPrint(w, "Failed to %s rule %q: %s\n", o.Action, o.RuleName, o.Error)
		default:
			warn(w, "Rule %q was not processed\n", o.RuleName)
		}
	}

	summary := fmt.Sprintf("%d created, %d updated, %d reported, %d failed",
		run.Created, run.Updated, run.Reported, run.Failed)
	switch {
	case run.Status == domain.RunFailed:
		errPrint(w, "Run failed: %s\n", run.Error)
	case run.Failed > 0:
		warn(w, "Done with failures: %s\n", summary)
	default:
		success(w, "Done: %s\n", summary)
	}
}

func pastTense(action domain.RuleAction) string {
	if action == domain.ActionCreate {
		return "Created"
	}
	return "Updated"
}
