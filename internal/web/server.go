package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/foyerhq/foyer/internal/billing"
	"github.com/foyerhq/foyer/internal/email"
	"github.com/foyerhq/foyer/internal/identity"
	"github.com/foyerhq/foyer/internal/logging"
	"github.com/foyerhq/foyer/internal/profile"
	"github.com/foyerhq/foyer/internal/store"
	"github.com/foyerhq/foyer/internal/webmetrics"
)

const (
	sessionSweepInterval = time.Hour
	accountGaugeInterval = time.Minute
	shutdownTimeout      = 30 * time.Second
)

// Run starts the Foyer HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "foyer",
	})
	log.Info().Str("version", version).Msg("Starting Foyer")

	if err := os.MkdirAll(cfg.ImagesDir(), 0o755); err != nil {
		return fmt.Errorf("create images dir: %w", err)
	}

	reg, err := store.NewRegistry(cfg.RegistryDir())
	if err != nil {
		return fmt.Errorf("open account registry: %w", err)
	}
	defer reg.Close()

	signer, err := identity.NewTokenSigner(cfg.TokenSecret)
	if err != nil {
		return fmt.Errorf("init token signer: %w", err)
	}
	sessions := identity.NewSessionStore(reg.DB())

	emailSender := email.NewSender(cfg.PostmarkServerToken)
	if cfg.PostmarkServerToken != "" {
		log.Info().Msg("Email sender configured (Postmark)")
	} else {
		log.Info().Msg("Email sender: log-only (set POSTMARK_SERVER_TOKEN to enable)")
	}

	reconciler := billing.NewReconciler(reg, cfg.StripeAPIKey, cfg.BaseURL)

	mux := http.NewServeMux()
	deps := &Deps{
		Config:   cfg,
		Registry: reg,
		Identity: identity.NewHandlers(reg, sessions, signer, emailSender, cfg.BaseURL, cfg.EmailFrom),
		Profile:  profile.NewHandlers(reg, cfg.ImagesDir()),
		Billing:  billing.NewHandlers(reg, reconciler),
		Webhook:  billing.NewWebhookHandler(cfg.StripeWebhookSecret, reconciler),
		Version:  version,
	}
	RegisterRoutes(mux, deps)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           SecurityHeaders(mux),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Derived context for background goroutines
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go runSessionSweeper(ctx, sessions)
	go runAccountGauges(ctx, reg)

	go func() {
		log.Info().Str("addr", addr).Msg("Foyer listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Foyer stopped")
	return nil
}

// runSessionSweeper deletes expired sessions on an interval.
func runSessionSweeper(ctx context.Context, sessions *identity.SessionStore) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sessions.DeleteExpired(time.Now().UTC()); err != nil {
				log.Warn().Err(err).Msg("Failed to delete expired sessions")
			}
		case <-ctx.Done():
			return
		}
	}
}

// runAccountGauges keeps the accounts-by-confirmation gauge current.
func runAccountGauges(ctx context.Context, reg *store.Registry) {
	update := func() {
		confirmed, unconfirmed, err := reg.CountByConfirmation()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to count accounts for metrics")
			return
		}
		webmetrics.AccountsByConfirmation.WithLabelValues("confirmed").Set(float64(confirmed))
		webmetrics.AccountsByConfirmation.WithLabelValues("unconfirmed").Set(float64(unconfirmed))
	}

	update()
	ticker := time.NewTicker(accountGaugeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			update()
		case <-ctx.Done():
			return
		}
	}
}
