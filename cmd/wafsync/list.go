package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the rules currently in the zone ruleset",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			handle, rules, err := a.rec.RemoteRules(ctx, a.doc.ZoneID)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			info(w, "Zone %s, ruleset %s: %d rules\n", handle.ZoneID, handle.RulesetID, len(rules))
			for _, r := range rules {
				state := "enabled"
				if !r.Enabled {
					state = "disabled"
				}
				success(w, "%s  %-24q %-18s %s\n", r.ID, r.Description, r.Action+" ("+state+")", r.Expression)
			}
			return nil
		},
	}
}
