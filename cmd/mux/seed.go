package mux

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relaymux/mux/internal/app"
	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/platform/config"
	"github.com/relaymux/mux/internal/platform/logging"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed tenants and pairing codes from MUX_TENANT_SEED/MUX_PAIRING_CODE_SEED and exit",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.Init(cfg.LogFilePath, false)
	if err != nil {
		return err
	}
	db, err := persistence.Open(cfg.DatabasePath, logging.Component(logger, "seed"))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := app.SeedFromConfig(db, cfg); err != nil {
		return err
	}
	logrus.Infof("mux seed: %d tenant(s), %d pairing code(s) ready", len(cfg.TenantSeeds), len(cfg.PairingCodeSeeds))
	return nil
}
