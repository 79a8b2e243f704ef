package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/enforce"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/plan"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/store"
	egstripe "github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/stripe"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("billing: encode response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// CheckoutStarter starts hosted checkout sessions.
type CheckoutStarter interface {
	StartCheckout(ctx context.Context, req egstripe.CheckoutRequest) (string, error)
}

// CatalogSyncer reconciles the remote price catalog.
type CatalogSyncer interface {
	Sync(ctx context.Context) (map[plan.TierID]egstripe.TierPrices, error)
}

type checkoutRequest struct {
	Tier     string `json:"tier"`
	Interval string `json:"interval"`
}

// HandleCheckout starts a hosted checkout session for the authenticated
// user.
func HandleCheckout(initiator CheckoutStarter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFromContext(r.Context())
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		var req checkoutRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		url, err := initiator.StartCheckout(r.Context(), egstripe.CheckoutRequest{
			UserID:   user.ID,
			Email:    user.Email,
			Tier:     plan.TierID(req.Tier),
			Interval: plan.Interval(req.Interval),
		})
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{"url": url})
		case errors.Is(err, egstripe.ErrInvalidTier),
			errors.Is(err, egstripe.ErrInvalidInterval),
			errors.Is(err, egstripe.ErrMissingEmail),
			errors.Is(err, egstripe.ErrMissingUserID):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, egstripe.ErrPriceNotSynced):
			log.Error().Err(err).Str("user_id", user.ID).Msg("checkout blocked on unsynced catalog")
			writeJSONError(w, http.StatusInternalServerError, err.Error())
		default:
			log.Error().Err(err).Str("user_id", user.ID).Msg("checkout failed")
			writeJSONError(w, http.StatusBadGateway, "payment provider unavailable")
		}
	}
}

// HandleCatalogSync runs a price catalog sync and returns the resulting
// tier→price map. Admin only.
func HandleCatalogSync(sync CatalogSyncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := sync.Sync(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("catalog sync failed")
			writeJSONError(w, http.StatusBadGateway, "catalog sync failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tiers": out})
	}
}

type subscriptionResponse struct {
	Tier              plan.TierID    `json:"tier"`
	TierName          string         `json:"tier_name"`
	Status            store.Status   `json:"status"`
	Subscribed        bool           `json:"subscribed"`
	CurrentPeriodEnd  *time.Time     `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool           `json:"cancel_at_period_end"`
	EntityQuota       int64          `json:"entity_quota"`
	StorageQuotaMB    int64          `json:"storage_quota_mb"`
	Features          []plan.Feature `json:"features"`
}

// HandleGetSubscription reports the caller's billing state and effective
// entitlements. A user with no row gets the starter defaults.
func HandleGetSubscription(st *store.Store, enf *enforce.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFromContext(r.Context())

		tier := enf.EffectiveTier(user.ID)
		resp := subscriptionResponse{
			Tier:           tier.ID,
			TierName:       tier.Name,
			Status:         store.StatusCanceled,
			EntityQuota:    tier.EntityQuota,
			StorageQuotaMB: tier.StorageQuotaMB,
			Features:       tier.Features,
		}

		sub, err := st.GetByUserID(user.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			resp.Status = store.StatusCanceled
			resp.Subscribed = false
		case err != nil:
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		default:
			resp.Status = sub.Status
			resp.Subscribed = sub.Subscribed
			resp.CurrentPeriodEnd = sub.CurrentPeriodEnd
			resp.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleGetUsage reports the caller's consumption against quotas.
func HandleGetUsage(enf *enforce.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFromContext(r.Context())
		usage, err := enf.CurrentUsage(r.Context(), user.ID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, usage)
	}
}

// HandleCanCreateEntity answers the entity quota check. A denial is a 200
// with allowed=false, not an error.
func HandleCanCreateEntity(enf *enforce.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFromContext(r.Context())
		d, err := enf.CanCreateEntity(r.Context(), user.ID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// HandleCanUseFeature answers a feature gate check for ?feature=<name>.
func HandleCanUseFeature(enf *enforce.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFromContext(r.Context())
		feature := strings.TrimSpace(r.URL.Query().Get("feature"))
		if feature == "" {
			writeJSONError(w, http.StatusBadRequest, "missing feature parameter")
			return
		}
		d, err := enf.CanUseFeature(r.Context(), user.ID, plan.Feature(feature))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

type createEntityRequest struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	State string `json:"state"`
}

// HandleCreateEntity creates a tracked entity, gated by the quota check.
func HandleCreateEntity(st *store.Store, enf *enforce.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFromContext(r.Context())

		var req createEntityRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeJSONError(w, http.StatusBadRequest, "name is required")
			return
		}

		d, err := enf.CanCreateEntity(r.Context(), user.ID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !d.Allowed {
			writeJSON(w, http.StatusForbidden, d)
			return
		}

		id, err := store.GenerateEntityID()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		entity := &store.Entity{
			ID:        id,
			UserID:    user.ID,
			Name:      strings.TrimSpace(req.Name),
			Kind:      strings.TrimSpace(req.Kind),
			State:     strings.TrimSpace(req.State),
			CreatedAt: time.Now().UTC(),
		}
		if err := st.InsertEntity(entity); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, entity)
	}
}

// HandleListEntities lists the caller's entities.
func HandleListEntities(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFromContext(r.Context())
		entities, err := st.ListEntities(user.ID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if entities == nil {
			entities = []*store.Entity{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entities": entities,
			"count":    len(entities),
		})
	}
}

// HandleDeleteEntity deletes one of the caller's entities.
func HandleDeleteEntity(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFromContext(r.Context())
		err := st.DeleteEntity(user.ID, r.PathValue("id"))
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "entity not found")
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
	}
}

type addDocumentRequest struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

// HandleAddDocument attaches a document record to an entity, gated by the
// document_storage feature.
func HandleAddDocument(st *store.Store, enf *enforce.Enforcer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFromContext(r.Context())

		d, err := enf.CanUseFeature(r.Context(), user.ID, plan.FeatureDocumentStorage)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !d.Allowed {
			writeJSON(w, http.StatusForbidden, d)
			return
		}

		var req addDocumentRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Name) == "" || req.SizeBytes < 0 {
			writeJSONError(w, http.StatusBadRequest, "name is required and size_bytes must be >= 0")
			return
		}

		id, err := store.GenerateDocumentID()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		doc := &store.Document{
			ID:        id,
			EntityID:  r.PathValue("id"),
			UserID:    user.ID,
			Name:      strings.TrimSpace(req.Name),
			SizeBytes: req.SizeBytes,
			CreatedAt: time.Now().UTC(),
		}
		err = st.InsertDocument(doc)
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "entity not found")
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

// HandleListSubscribers lists all subscription rows. Admin only.
func HandleListSubscribers(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subs, err := st.ListAll()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if subs == nil {
			subs = []*store.Subscription{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"subscribers": subs,
			"count":       len(subs),
		})
	}
}
