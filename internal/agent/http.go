package agent

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calebrowe/shop_sync/internal/health"
	"github.com/calebrowe/shop_sync/internal/records"
	"github.com/calebrowe/shop_sync/internal/store"
	"github.com/calebrowe/shop_sync/internal/syncer"
)

// Handler builds the local admin HTTP surface consumed by shopsyncctl and
// the terminal UI: status, queue inspection, manual drain, record access and
// reset, plus health and metrics.
func Handler(a *Agent, st *store.Store, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", health.HTTPHandler(st))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		state, err := a.SyncStatus(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	})

	mux.HandleFunc("GET /v1/queue", func(w http.ResponseWriter, r *http.Request) {
		items, err := a.PendingItems(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	})

	mux.HandleFunc("GET /v1/dlq", func(w http.ResponseWriter, r *http.Request) {
		letters, err := a.DeadLetters(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, letters)
	})

	mux.HandleFunc("DELETE /v1/dlq", func(w http.ResponseWriter, r *http.Request) {
		if err := a.PurgeDeadLetters(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /v1/drain", func(w http.ResponseWriter, r *http.Request) {
		outcomes, err := a.DrainOnce(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if outcomes == nil {
			outcomes = []syncer.ItemOutcome{}
		}
		writeJSON(w, http.StatusOK, outcomes)
	})

	mux.HandleFunc("GET /v1/records/{collection}", func(w http.ResponseWriter, r *http.Request) {
		recs, err := a.Records(r.Context(), r.PathValue("collection"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	})

	mux.HandleFunc("POST /v1/records/{collection}", func(w http.ResponseWriter, r *http.Request) {
		var rec records.Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		saved, itemID, err := a.SaveRecordOffline(r.Context(), r.PathValue("collection"), rec)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"record": saved, "item_id": itemID})
	})

	mux.HandleFunc("POST /v1/connectivity", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Online bool `json:"online"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.SetOnline(body.Online)
		writeJSON(w, http.StatusOK, map[string]any{"online": body.Online})
	})

	mux.HandleFunc("POST /v1/reset", func(w http.ResponseWriter, r *http.Request) {
		if err := a.ClearAll(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
