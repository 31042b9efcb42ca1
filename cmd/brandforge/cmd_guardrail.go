package main

import (
	"fmt"
	"strings"

	"brandforge/internal/types"

	"github.com/spf13/cobra"
)

var (
	guardrailForbidden []string
	guardrailRequired  []string
	guardrailTone      string
)

var guardrailCmd = &cobra.Command{
	Use:   "guardrail",
	Short: "Show or update the workspace guardrail config",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var guardrailShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current guardrail config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		cfg := app.guardrail.Snapshot()
		fmt.Printf("Tone:      %s\n", cfg.ToneDescriptor)
		fmt.Printf("Forbidden: %s\n", strings.Join(cfg.ForbiddenWords, ", "))
		fmt.Printf("Required:  %s\n", strings.Join(cfg.RequiredPhrases, ", "))
		return nil
	},
}

var guardrailSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace the guardrail config",
	Long: `Replaces the workspace guardrail. Validation happens here: empty or
duplicate phrases are rejected before anything is written. Runs already
in flight keep their snapshot; the new config applies to future runs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		cfg := types.GuardrailConfig{
			ForbiddenWords:  guardrailForbidden,
			RequiredPhrases: guardrailRequired,
			ToneDescriptor:  guardrailTone,
		}
		if err := app.guardrail.Save(cfg); err != nil {
			return err
		}
		fmt.Println("guardrail saved")
		return nil
	},
}

func init() {
	guardrailSetCmd.Flags().StringSliceVar(&guardrailForbidden, "forbidden", nil, "forbidden words/phrases")
	guardrailSetCmd.Flags().StringSliceVar(&guardrailRequired, "required", nil, "required phrases")
	guardrailSetCmd.Flags().StringVar(&guardrailTone, "tone", "", "tone descriptor")

	guardrailCmd.AddCommand(guardrailShowCmd)
	guardrailCmd.AddCommand(guardrailSetCmd)
}
