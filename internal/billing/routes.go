package billing

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/enforce"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/store"
	egstripe "github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/stripe"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config       *Config
	Store        *store.Store
	Enforcer     *enforce.Enforcer
	Initiator    CheckoutStarter
	Synchronizer CatalogSyncer
	Reconciler   *egstripe.Reconciler
	Identity     Identity
	Version      string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	identity := deps.Identity
	if identity == nil {
		identity = HeaderIdentity{}
	}
	adminAuth := func(next http.Handler) http.Handler {
		return AdminKeyMiddleware(deps.Config.AdminKey, next)
	}
	userAuth := func(next http.Handler) http.Handler {
		return requireUser(identity, next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", HandleHealthz)
	mux.HandleFunc("/readyz", HandleReadyz(deps.Store))

	// Status and metrics are private by default.
	statusHandler := http.HandlerFunc(HandleStatus(deps.Store, deps.Version))
	if deps.Config.PublicStatus {
		mux.Handle("GET /status", statusHandler)
	} else {
		mux.Handle("GET /status", adminAuth(statusHandler))
	}

	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", adminAuth(metricsHandler))
	}

	// Stripe webhook (signature-authenticated, rate-limited).
	webhookHandler := egstripe.NewWebhookHandler(deps.Config.StripeWebhookSecret, deps.Reconciler)
	webhookLimiter := NewRateLimiter(120, time.Minute)
	mux.Handle("/api/stripe/webhook", webhookLimiter.Middleware(webhookHandler))

	// Billing API (proxy-authenticated user).
	checkoutLimiter := NewRateLimiter(30, time.Minute)
	mux.Handle("POST /api/billing/checkout", checkoutLimiter.Middleware(userAuth(HandleCheckout(deps.Initiator))))
	mux.Handle("GET /api/billing/subscription", userAuth(HandleGetSubscription(deps.Store, deps.Enforcer)))
	mux.Handle("GET /api/billing/usage", userAuth(HandleGetUsage(deps.Enforcer)))
	mux.Handle("GET /api/billing/can-create-entity", userAuth(HandleCanCreateEntity(deps.Enforcer)))
	mux.Handle("GET /api/billing/can-use-feature", userAuth(HandleCanUseFeature(deps.Enforcer)))

	// Entity CRUD, gated by the enforcer.
	mux.Handle("POST /api/entities", userAuth(HandleCreateEntity(deps.Store, deps.Enforcer)))
	mux.Handle("GET /api/entities", userAuth(HandleListEntities(deps.Store)))
	mux.Handle("DELETE /api/entities/{id}", userAuth(HandleDeleteEntity(deps.Store)))
	mux.Handle("POST /api/entities/{id}/documents", userAuth(HandleAddDocument(deps.Store, deps.Enforcer)))

	// Admin API (key-authenticated).
	mux.Handle("POST /api/billing/sync", adminAuth(HandleCatalogSync(deps.Synchronizer)))
	mux.Handle("GET /admin/subscribers", adminAuth(HandleListSubscribers(deps.Store)))
}
