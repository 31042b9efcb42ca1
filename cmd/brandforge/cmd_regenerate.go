package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var regenerateInstructions string

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <brief.json> <section-key>...",
	Short: "Regenerate named sections on top of the latest version",
	Long: `Regenerates only the named sections, copying every other section
forward unchanged, and appends the result as a new artifact version.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		brief, err := loadBrief(args[0])
		if err != nil {
			return err
		}

		version, err := app.orch.RegenerateSections(cmd.Context(), brief, app.guardrail.Snapshot(), args[1:], regenerateInstructions)
		if err != nil {
			return err
		}

		fmt.Printf("Created v%d for %s\n", version.Version, version.CampaignID)
		for _, key := range version.SectionKeys() {
			fmt.Printf("  %-14s %s\n", key, version.Sections[key].Text())
		}

		if report, ok := app.orch.LatestReport(brief.CampaignID); ok {
			printReport(report)
		}
		return nil
	},
}

func init() {
	regenerateCmd.Flags().StringVarP(&regenerateInstructions, "instructions", "i", "", "extra instructions for the generator")
}
