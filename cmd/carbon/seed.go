package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/celerix-dev/carbon-ledger/internal/records"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Import users, activities, factors, emissions, recommendations and vehicles from YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open seed file")
		}
		defer f.Close()

		a, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		counts, err := records.Seed(cmd.Context(), a.Ledger, f)
		fields := make([]zap.Field, 0, len(counts))
		for collection, n := range counts {
			fields = append(fields, zap.Int(collection, n))
		}
		if err != nil {
			if len(counts) > 0 {
				zap.L().Warn("seed partially imported", fields...)
			}
			return err
		}
		zap.L().Info("seed imported", fields...)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
