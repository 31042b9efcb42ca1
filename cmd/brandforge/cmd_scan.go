package main

import (
	"fmt"
	"os"

	"brandforge/internal/types"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <text-file>",
	Short: "Scan ad-hoc text against the workspace guardrail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read text file: %w", err)
		}

		annotations := app.scanner.Scan(args[0], string(data), app.guardrail.Snapshot())
		printReport(types.ComplianceReport{
			Annotations:  annotations,
			OverallScore: app.scanner.Score(annotations),
		})
		return nil
	},
}
