// brandforge is the campaign content pipeline CLI: it generates
// multi-section campaign copy from a brief, scans every section against
// the workspace guardrail, and keeps an immutable, diffable version
// history per campaign.
package main

import (
	"context"
	"fmt"
	"os"

	"brandforge/internal/config"
	"brandforge/internal/generator"
	"brandforge/internal/guardrail"
	"brandforge/internal/logging"
	"brandforge/internal/pipeline"
	"brandforge/internal/scanner"
	"brandforge/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "brandforge",
	Short: "brandforge - guarded campaign content pipeline",
	Long: `brandforge generates multi-section marketing campaign content from a
structured brief, runs every generated section through the brand-safety
scanner, and records immutable artifact versions that individual
sections can be regenerated against without discarding the rest.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}

		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("debug logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// app bundles the wired pipeline components for one CLI invocation.
type app struct {
	cfg       *config.Config
	guardrail *guardrail.Store
	watcher   *guardrail.Watcher
	scanner   *scanner.Engine
	store     *store.VersionStore
	orch      *pipeline.Orchestrator
	events    chan pipeline.Event
}

// buildApp wires the pipeline from workspace config.
func buildApp() (*app, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}

	grStore, err := guardrail.NewStore(cfg.Guardrail.Path)
	if err != nil {
		return nil, err
	}

	// Reloads apply to runs started after the change, never in-flight ones.
	var watcher *guardrail.Watcher
	if cfg.Guardrail.Watch {
		watcher, err = guardrail.NewWatcher(grStore)
		if err != nil {
			return nil, err
		}
		if err := watcher.Start(context.Background()); err != nil {
			return nil, err
		}
	}

	engine, err := scanner.NewEngine(scanner.EngineConfig{
		Weights: scanner.Weights{
			High:   cfg.Scanner.HighWeight,
			Medium: cfg.Scanner.MediumWeight,
			Low:    cfg.Scanner.LowWeight,
		},
		RulesPath: cfg.Scanner.RulesPath,
	})
	if err != nil {
		return nil, err
	}

	versionStore, err := store.NewVersionStore(cfg.Store.DatabasePath)
	if err != nil {
		return nil, err
	}

	gen, err := generator.New(cfg.Generator)
	if err != nil {
		versionStore.Close()
		return nil, err
	}

	timeout, err := cfg.GeneratorTimeout()
	if err != nil {
		versionStore.Close()
		return nil, err
	}

	events := make(chan pipeline.Event, 64)
	orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Generator:        gen,
		Scanner:          engine,
		Store:            versionStore,
		GeneratorTimeout: timeout,
		EventChan:        events,
	})

	return &app{
		cfg:       cfg,
		guardrail: grStore,
		watcher:   watcher,
		scanner:   engine,
		store:     versionStore,
		orch:      orch,
		events:    events,
	}, nil
}

func (a *app) Close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug output")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(regenerateCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(guardrailCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
