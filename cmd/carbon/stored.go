package main

import (
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/celerix-dev/carbon-ledger/internal/server"
	"github.com/celerix-dev/carbon-ledger/internal/storage"
	"github.com/celerix-dev/carbon-ledger/internal/vault"
)

var storedCmd = &cobra.Command{
	Use:   "stored",
	Short: "Run the document store daemon",
	Long:  "Serves the embedded document store over TCP so several processes can share it. TLS uses a fresh self-signed certificate unless stored.disable_tls is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := storage.OpenEmbedded(cfg.Store.DataDir)
		if err != nil {
			return eris.Wrap(err, "open embedded store")
		}
		defer store.Close()

		cols, _ := store.Collections(ctx)
		zap.L().Info("engine started", zap.String("data_dir", cfg.Store.DataDir), zap.Int("collections", len(cols)))

		router := server.NewRouter(store)
		if !cfg.Stored.DisableTLS {
			cert, err := vault.GenerateSelfSignedCert()
			if err != nil {
				return eris.Wrap(err, "generate TLS certificate")
			}
			router.SetCertificate(cert)
			zap.L().Info("TLS encryption enabled")
		} else {
			zap.L().Warn("TLS encryption disabled")
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutdown signal received, finalizing disk writes")
			router.Stop()
		}()

		zap.L().Info("store daemon listening", zap.Int("port", cfg.Stored.Port))
		if err := router.Listen(strconv.Itoa(cfg.Stored.Port)); err != nil {
			return eris.Wrap(err, "store daemon listen")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storedCmd)
}
