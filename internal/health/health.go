package health

import (
	"encoding/json"
	"net/http"

	"github.com/calebrowe/shop_sync/internal/store"
)

type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Store   bool   `json:"store,omitempty"`
}

// HTTPHandler returns an HTTP handler that reports the health status of the agent
func HTTPHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := Status{OK: true, Message: "ok", Store: true}
		w.Header().Set("Content-Type", "application/json")

		if st != nil {
			if err := st.Ping(r.Context()); err != nil {
				status.OK = false
				status.Message = "store ping failed"
				status.Store = false
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}
