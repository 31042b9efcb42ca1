package main

import (
	"fmt"

	"brandforge/internal/pipeline"
	"brandforge/internal/types"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <campaign-id>",
	Short: "Show a campaign's pipeline progress and latest compliance state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		campaignID := args[0]
		versions, err := app.store.ListVersions(campaignID)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Printf("campaign %s: no versions; start with 'brandforge run <brief.json>'\n", campaignID)
			return nil
		}

		completed := pipeline.CompletedSteps(versions)
		fmt.Printf("campaign %s: %d of %d steps completed\n", campaignID, completed, len(types.StepOrder))
		for i, step := range types.StepOrder {
			state := types.StepPending
			if i < completed {
				state = types.StepCompleted
			}
			fmt.Printf("  %-10s %s\n", step, state)
		}
		if completed < len(types.StepOrder) {
			fmt.Println("continue with 'brandforge retry <brief.json>'")
		}

		latest := versions[len(versions)-1]
		fmt.Printf("\nlatest: v%d (%s, %s, %d section(s))\n",
			latest.Version, latest.OriginStep, latest.CreatedAt.Format("2006-01-02 15:04:05"), len(latest.Sections))

		// Scored against the current guardrail, which may be newer than
		// the one the run captured.
		printReport(app.scanner.ScanVersion(latest, app.guardrail.Snapshot()))
		return nil
	},
}
