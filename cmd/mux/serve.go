package mux

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relaymux/mux/internal/app"
	"github.com/relaymux/mux/internal/platform/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mux HTTP server and inbound pollers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	a, err := app.Bootstrap(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logrus.Info("mux: starting")
	return a.Run(ctx)
}
