package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var retryCmd = &cobra.Command{
	Use:   "retry <brief.json>",
	Short: "Continue a failed or interrupted run from its stored progress",
	Long: `retry resumes a campaign from the first step that has no stored
artifact version. Steps whose versions already exist are kept as-is and
the generator is not re-invoked for them.`,
	Args: cobra.ExactArgs(1),
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

		runID, err := app.orch.ResumeRun(cmd.Context(), brief, app.guardrail.Snapshot())
		if err != nil {
			return err
		}
		logger.Info("run resumed", zap.String("run_id", runID), zap.String("campaign", brief.CampaignID))

		return followRun(app, brief.CampaignID)
	},
}
