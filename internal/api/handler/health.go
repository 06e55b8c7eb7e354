package handler

import (
	"net/http"

	"github.com/kiranshivaraju/jarhound/internal/api/response"
	"github.com/kiranshivaraju/jarhound/internal/blob"
	"github.com/kiranshivaraju/jarhound/internal/cache"
	"github.com/kiranshivaraju/jarhound/internal/store"
)

// NewHealthHandler checks database, cache, and blob storage connectivity.
func NewHealthHandler(st store.Store, ca cache.Cache, blobs blob.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"storage":  "ok",
		}

		if err := st.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := ca.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if err := blobs.Ping(r.Context()); err != nil {
			checks["storage"] = "degraded"
		}

		for _, state := range checks {
			if state != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
