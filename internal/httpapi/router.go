package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter wires the spec §6 operations onto a chi.Mux. CORS is
// permissive by default (any origin, the common verbs) since the actual
// trust boundary is the auth middleware an operator layers in front of
// this router, not CORS itself.
func NewRouter(svc *Service, logger *zap.Logger) http.Handler {
	h := newHandlers(svc)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(httpMetrics)
	r.Use(requestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/invoices", func(r chi.Router) {
		r.Post("/", h.createInvoice)
		r.Route("/{invoiceID}", func(r chi.Router) {
			r.Post("/upload", h.upload)
			r.Post("/resubmit", h.resubmit)
			r.Post("/request-changes", h.requestChanges)
			r.Post("/approve", h.approveInvoice)
			r.Get("/export", h.exportInvoice)
		})
	})

	r.Route("/exceptions/{exceptionID}", func(r chi.Router) {
		r.Post("/respond", h.respondToException)
		r.Post("/resolve", h.resolveException)
	})

	return r
}
