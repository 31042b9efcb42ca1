package main

import (
	"fmt"
	"strconv"

	"brandforge/internal/diff"
	"brandforge/internal/store"

	"github.com/spf13/cobra"
)

var versionsCmd = &cobra.Command{
	Use:   "versions <campaign-id>",
	Short: "List a campaign's artifact versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		versions, err := app.store.ListVersions(args[0])
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Println("no versions")
			return nil
		}
		for _, v := range versions {
			fmt.Printf("v%-3d %-10s %s  %d section(s)\n",
				v.Version, v.OriginStep, v.CreatedAt.Format("2006-01-02 15:04:05"), len(v.Sections))
		}
		return nil
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <campaign-id> <version-a> <version-b>",
	Short: "Compare two artifact versions section by section",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		a, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("version-a must be a number: %w", err)
		}
		b, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("version-b must be a number: %w", err)
		}

		result, err := app.store.Diff(args[0], a, b)
		if err != nil {
			return err
		}
		printDiff(result)
		return nil
	},
}

func printDiff(result store.DiffResult) {
	fmt.Printf("v%d -> v%d\n", result.VersionA, result.VersionB)
	for _, sd := range result.Sections {
		fmt.Printf("  %-14s %s\n", sd.SectionKey, sd.Status)
		if sd.Detail == nil {
			continue
		}
		for _, h := range sd.Detail.Hunks {
			fmt.Printf("    @@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
			for _, line := range h.Lines {
				marker := " "
				switch line.Type {
				case diff.LineAdded:
					marker = "+"
				case diff.LineRemoved:
					marker = "-"
				}
				fmt.Printf("    %s %s\n", marker, line.Content)
			}
		}
	}
}
