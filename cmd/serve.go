package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/porthorian/weappauth/pkg/loginserver"
	prommetrics "github.com/porthorian/weappauth/pkg/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

type serveConfig struct {
	Addr       string
	SigningKey string
	Issuer     string
	TTL        time.Duration
}

func init() {
	rootCmd.AddCommand(newServeCommand())
}

func newServeCommand() *cobra.Command {
	cfg := serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a development login server",
		Long:  "Run a development login server. Identity payloads are trusted as sent; do not expose it publicly.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger("loginserver")

			signingKey := stringDefault(cfg.SigningKey, "WEAPPAUTH_SIGNING_KEY")
			if signingKey == "" {
				return errors.New("missing signing key: set --signing-key or WEAPPAUTH_SIGNING_KEY")
			}

			server, err := loginserver.New(loginserver.Config{
				SigningKey: []byte(signingKey),
				Issuer:     cfg.Issuer,
				TTL:        cfg.TTL,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			r := chi.NewRouter()
			r.Use(middleware.RequestID)
			r.Use(middleware.Recoverer)
			r.Mount("/", server.Router())
			r.Handle("/metrics", prommetrics.Handler(registry))

			addr := stringDefault(cfg.Addr, "WEAPPAUTH_ADDR")
			if addr == "" {
				addr = ":8080"
			}
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", addr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("serve: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			logger.Info("shutting down")
			return httpServer.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&cfg.Addr, "addr", "", "Listen address. Can also be set via WEAPPAUTH_ADDR. Defaults to :8080.")
	cmd.Flags().StringVar(&cfg.SigningKey, "signing-key", "", "HMAC key for session keys. Can also be set via WEAPPAUTH_SIGNING_KEY.")
	cmd.Flags().StringVar(&cfg.Issuer, "issuer", "", "Session key issuer.")
	cmd.Flags().DurationVar(&cfg.TTL, "ttl", 2*time.Hour, "Session key lifetime.")
	return cmd
}
