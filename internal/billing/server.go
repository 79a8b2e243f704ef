package billing

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/enforce"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/monitor"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/notify"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/store"
	egstripe "github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/stripe"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/logging"
)

// Run starts the billing HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "billing",
	})

	log.Info().Str("version", version).Msg("Starting EntityGuardian billing service")

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.BillingDir(), 0o755); err != nil {
		return fmt.Errorf("create billing dir: %w", err)
	}

	st, err := store.Open(cfg.BillingDir())
	if err != nil {
		return fmt.Errorf("open billing store: %w", err)
	}
	defer st.Close()

	// One process, one Stripe account.
	stripelib.Key = cfg.StripeAPIKey

	var emailSender notify.Sender
	if cfg.PostmarkServerToken != "" {
		emailSender = notify.NewPostmarkSender(cfg.PostmarkServerToken)
		log.Info().Msg("Email sender configured (Postmark)")
	} else {
		emailSender = notify.NewLogSender(func(to, subject, body string) {
			const maxBody = 4096
			bodyForLog := body
			if len(bodyForLog) > maxBody {
				bodyForLog = bodyForLog[:maxBody] + "...(truncated)"
			}
			log.Info().
				Str("to", to).
				Str("subject", subject).
				Str("body", bodyForLog).
				Msg("Email (log-only, no email provider configured)")
		})
		log.Info().Msg("Email sender: log-only (set POSTMARK_SERVER_TOKEN to enable)")
	}

	enforcer := enforce.New(st)
	notifier := notify.New(st, emailSender, cfg.EmailFrom)

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Config:       cfg,
		Store:        st,
		Enforcer:     enforcer,
		Initiator:    egstripe.NewInitiator(st, cfg.BaseURL),
		Synchronizer: egstripe.NewSynchronizer(),
		Reconciler:   egstripe.NewReconciler(st),
		Identity:     HeaderIdentity{},
		Version:      version,
	})

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Derived context for background goroutines.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	usageMonitor := monitor.New(st, notifier, cfg.MonitorInterval, cfg.MonitorThresholdPct)
	go usageMonitor.Run(ctx)

	go runSubscriberMetrics(ctx, st)

	go func() {
		log.Info().Str("addr", addr).Msg("Billing service listening")
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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Billing service stopped")
	return nil
}
