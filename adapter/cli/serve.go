package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/scholaris/adapter/api"
	"github.com/felixgeelhaar/scholaris/pkg/config"
	"github.com/felixgeelhaar/scholaris/pkg/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the billing API server with the reconciliation sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.IntegritySecret == "" {
			return errors.New("INTEGRITY_SECRET must be set")
		}

		log := observability.LoggerFromEnv()
		SetLogger(log)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		app, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer app.Close()

		billing := api.NewBillingHandler(app.service, app.gate, cfg.ReauthTokenTTL)
		webhooks := api.NewWebhookHandler(app.ingestor)
		server := api.NewServer(api.ServerConfig{
			Addr:         cfg.ListenAddr,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		}, billing, webhooks, app.verifier, app.signer, app.gate, app.limiters, app.health, log)

		if err := app.reconciler.Start(ctx); err != nil {
			return fmt.Errorf("start reconciler: %w", err)
		}
		defer app.reconciler.Stop()

		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
