package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/foyerhq/foyer/internal/logging"
	"github.com/foyerhq/foyer/internal/store"
	"github.com/foyerhq/foyer/internal/web"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "foyer",
	Short:   "Foyer - accounts and subscription billing service",
	Long:    `Foyer is a web service for user accounts, email confirmation, profiles, and subscription billing.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return web.Run(context.Background(), Version)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Foyer %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var seedPlansCmd = &cobra.Command{
	Use:   "seed-plans <name=price_id> [<name=price_id> ...]",
	Short: "Create or update subscription plans in the registry",
	Long: `Seeds the plans table with name-to-price mappings, e.g.:

  foyer seed-plans pro=price_1ABC plus=price_2DEF

Existing plans with the same name are updated in place.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.Config{Format: "auto", Level: "info", Component: "foyer"})

		cfg, err := web.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		reg, err := store.NewRegistry(cfg.RegistryDir())
		if err != nil {
			return fmt.Errorf("open account registry: %w", err)
		}
		defer reg.Close()

		for _, arg := range args {
			name, priceID, ok := strings.Cut(arg, "=")
			name = strings.TrimSpace(name)
			priceID = strings.TrimSpace(priceID)
			if !ok || name == "" || priceID == "" {
				return fmt.Errorf("invalid plan %q: expected name=price_id", arg)
			}
			plan := &store.Plan{
				ID:            store.GeneratePlanID(),
				Name:          name,
				StripePriceID: priceID,
			}
			if err := reg.UpsertPlan(plan); err != nil {
				return fmt.Errorf("seed plan %q: %w", name, err)
			}
			log.Info().Str("plan", name).Str("priceId", priceID).Msg("Plan seeded")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(seedPlansCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
