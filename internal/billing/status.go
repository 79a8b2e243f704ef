package billing

import (
	"net/http"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/bmetrics"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/store"
)

type statusResponse struct {
	Version          string               `json:"version"`
	TotalSubscribers int                  `json:"total_subscribers"`
	ByStatus         map[store.Status]int `json:"by_status"`
}

// HandleHealthz returns 200 "ok" unconditionally (liveness probe).
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz returns a handler that checks database connectivity
// (readiness probe).
func HandleReadyz(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(); err != nil {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// HandleStatus returns a handler that reports aggregate subscriber counts.
func HandleStatus(st *store.Store, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := st.CountByStatus()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}

		// Opportunistically sync gauges on status calls (in addition to the
		// background updater).
		for status, c := range counts {
			bmetrics.SubscribersByStatus.WithLabelValues(string(status)).Set(float64(c))
		}

		total := 0
		for _, c := range counts {
			total += c
		}

		writeJSON(w, http.StatusOK, statusResponse{
			Version:          version,
			TotalSubscribers: total,
			ByStatus:         counts,
		})
	}
}
