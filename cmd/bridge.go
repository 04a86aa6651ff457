package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ammonit/intake/internal/bridge"
	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/pkg/orderapi"
)

var bridgeExportDir string

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Reconcile approved orders with the ERP",
	Long:  "Polls the order API for approved orders and hands each to the ERP integration, reporting integrated_ok or integrated_error back. Runs until interrupted; connection failures back off and retry forever.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Bridge.APIURL == "" {
			return eris.New("bridge API URL is required (INTAKE_BRIDGE_API_URL)")
		}
		if err := os.MkdirAll(bridgeExportDir, 0o755); err != nil {
			return eris.Wrap(err, "create export directory")
		}

		client := orderapi.NewClient(cfg.Bridge.APIURL, cfg.Bridge.Username, cfg.Bridge.Password)
		b := bridge.New(client, csvExportIntegrator(bridgeExportDir), cfg.Bridge)

		if err := b.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

// csvExportIntegrator hands orders to the ERP as semicolon-delimited CSV
// files in dir, one per order, picked up by the ERP's import watcher.
func csvExportIntegrator(dir string) func(ctx context.Context, o *model.Order) error {
	return func(ctx context.Context, o *model.Order) error {
		if o.Normalized == "" {
			return eris.Errorf("order %s has no normalized record", o.ID)
		}
		path := filepath.Join(dir, o.ID+".csv")
		if err := os.WriteFile(path, []byte(o.Normalized), 0o644); err != nil {
			return eris.Wrap(err, "write export file")
		}
		zap.L().Info("order exported", zap.String("order_id", o.ID), zap.String("path", path))
		return nil
	}
}

func init() {
	bridgeCmd.Flags().StringVar(&bridgeExportDir, "export-dir", "erp-export", "directory the ERP imports order files from")
	rootCmd.AddCommand(bridgeCmd)
}
