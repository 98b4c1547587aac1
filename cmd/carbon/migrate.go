package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/celerix-dev/carbon-ledger/internal/engine"
	"github.com/celerix-dev/carbon-ledger/internal/storage"
)

var (
	migrateFrom string
	migrateTo   string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy every document from one store backend to another",
	Long:  "Copies every collection, keeping document ids. Both backends take their settings from the store section of the configuration; only the driver differs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if migrateFrom == migrateTo {
			return eris.Errorf("source and destination are both %q", migrateFrom)
		}
		ctx := cmd.Context()

		srcCfg := cfg.Store
		srcCfg.Driver = migrateFrom
		src, err := storage.Open(ctx, srcCfg)
		if err != nil {
			return eris.Wrap(err, "open source store")
		}
		defer src.Close()

		dstCfg := cfg.Store
		dstCfg.Driver = migrateTo
		dst, err := storage.Open(ctx, dstCfg)
		if err != nil {
			return eris.Wrap(err, "open destination store")
		}
		defer dst.Close()

		n, err := engine.Migrate(ctx, src, dst)
		if err != nil {
			return err
		}
		zap.L().Info("migration complete",
			zap.String("from", migrateFrom),
			zap.String("to", migrateTo),
			zap.Int("documents", n),
		)
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateFrom, "from", storage.DriverEmbedded, "source driver")
	migrateCmd.Flags().StringVar(&migrateTo, "to", storage.DriverSQLite, "destination driver")
	rootCmd.AddCommand(migrateCmd)
}
