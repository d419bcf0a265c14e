package observability

import (
	"encoding/json"
	"net/http"
)

// Handler serves the current metrics snapshot as JSON. Snapshots are
// point-in-time; callers must not cache them.
func Handler(metrics *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(metrics.Snapshot())
	})
}
