package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/jarhound/internal/api/middleware"
	"github.com/kiranshivaraju/jarhound/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler     http.HandlerFunc
	UploadScanHandler http.HandlerFunc
	ScanFromURL       http.HandlerFunc
	GetScanHandler    http.HandlerFunc
	ListScansHandler  http.HandlerFunc
	ActiveScanHandler http.HandlerFunc
	CreateKeyHandler  http.HandlerFunc
	ListKeysHandler   http.HandlerFunc
	RevokeKeyHandler  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/scans", orNotImplemented(deps.UploadScanHandler))
		r.Post("/api/v1/scans/url", orNotImplemented(deps.ScanFromURL))
		r.Get("/api/v1/scans", orNotImplemented(deps.ListScansHandler))
		r.Get("/api/v1/scans/{scanID}", orNotImplemented(deps.GetScanHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Get("/api/v1/admin/active-scan", orNotImplemented(deps.ActiveScanHandler))
			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
