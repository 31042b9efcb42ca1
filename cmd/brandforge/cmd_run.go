package main

import (
	"encoding/json"
	"fmt"
	"os"

	"brandforge/internal/pipeline"
	"brandforge/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// loadBrief reads a campaign brief from a JSON file.
func loadBrief(path string) (types.CampaignBrief, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.CampaignBrief{}, fmt.Errorf("failed to read brief: %w", err)
	}
	var brief types.CampaignBrief
	if err := json.Unmarshal(data, &brief); err != nil {
		return types.CampaignBrief{}, fmt.Errorf("failed to parse brief: %w", err)
	}
	return brief, nil
}

var runCmd = &cobra.Command{
	Use:   "run <brief.json>",
	Short: "Run the full generation pipeline for a campaign brief",
	Args:  cobra.ExactArgs(1),
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

		runID, err := app.orch.StartRun(cmd.Context(), brief, app.guardrail.Snapshot())
		if err != nil {
			return err
		}
		logger.Info("run started", zap.String("run_id", runID), zap.String("campaign", brief.CampaignID))

		return followRun(app, brief.CampaignID)
	},
}

// followRun streams events until the campaign's run finishes, then
// prints the step table and the latest compliance report.
func followRun(app *app, campaignID string) error {
	quit := make(chan struct{})
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		for {
			select {
			case ev := <-app.events:
				fmt.Printf("%-20s %-10s %s\n", ev.Type, ev.Step, ev.Message)
			case <-quit:
				return
			}
		}
	}()

	app.orch.Wait(campaignID)
	close(quit)
	<-streamDone
	drainEvents(app.events)

	run, err := app.orch.Status(campaignID)
	if err != nil {
		return err
	}
	printRun(run)

	if report, ok := app.orch.LatestReport(campaignID); ok {
		printReport(report)
	}

	if run.Status == pipeline.RunFailed {
		return fmt.Errorf("run failed; fix the cause and continue with 'brandforge retry <brief.json>'")
	}
	return nil
}

// drainEvents prints whatever the stream goroutine had not picked up
// yet when the run finished.
func drainEvents(events chan pipeline.Event) {
	for {
		select {
		case ev := <-events:
			fmt.Printf("%-20s %-10s %s\n", ev.Type, ev.Step, ev.Message)
		default:
			return
		}
	}
}

func printRun(run pipeline.Run) {
	fmt.Printf("\nRun %s (%s) - %s\n", run.ID, run.CampaignID, run.Status)
	for _, s := range run.Steps {
		line := fmt.Sprintf("  %-10s %-12s %3d%%", s.Step, s.State, s.Progress)
		if s.Error != "" {
			line += "  " + s.Error
		}
		fmt.Println(line)
	}
}

func printReport(report types.ComplianceReport) {
	fmt.Printf("\nCompliance for v%d: score %d, %d finding(s)\n", report.Version, report.OverallScore, len(report.Annotations))
	for _, a := range report.Annotations {
		fmt.Printf("  [%-6s] %-14s %s @ %d-%d: %s", a.RiskLevel, a.SectionKey, a.RuleID, a.OffsetStart, a.OffsetEnd, a.Reason)
		if len(a.Alternatives) > 0 {
			fmt.Printf(" (try: %v)", a.Alternatives)
		}
		fmt.Println()
	}
}
