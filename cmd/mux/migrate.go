package mux

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relaymux/mux/internal/persistence"
	"github.com/relaymux/mux/internal/platform/config"
	"github.com/relaymux/mux/internal/platform/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQLite schema migrations and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.Init(cfg.LogFilePath, false)
	if err != nil {
		return err
	}
	db, err := persistence.Open(cfg.DatabasePath, logging.Component(logger, "migrate"))
	if err != nil {
		return err
	}
	defer db.Close()
	logrus.Info("mux: migrations applied")
	return nil
}
