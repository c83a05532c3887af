// Package api exposes a Store over a local REST interface.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/ironpass/store"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	store         *store.Store
	logger        *slog.Logger
	unlockLimiter *unlockRateLimiter
	audit         *auditLogger
	docsPrefix    string
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request and audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithAlertFunc installs a callback for anomalies such as bursts of failed
// unlock attempts.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.audit.metrics = newMetricsCollector(fn)
	}
}

// WithDocsPrefix sets the mount point used by the documentation pages to
// locate openapi.yaml. Default: "/api/v1".
func WithDocsPrefix(prefix string) Option {
	return func(a *API) {
		a.docsPrefix = prefix
	}
}

// New creates a new API instance.
func New(s *store.Store, opts ...Option) *API {
	a := &API{
		store:         s,
		unlockLimiter: newUnlockRateLimiter(),
		audit:         &auditLogger{},
		docsPrefix:    "/api/v1",
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit.logger = a.logger.With("component", "audit")
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.Middleware()...)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: a.docsPrefix + "/openapi.yaml",
		Path:    trimSlash(a.docsPrefix) + "/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: a.docsPrefix + "/openapi.yaml",
		Path:    trimSlash(a.docsPrefix) + "/redoc",
	}, nil))

	r.Get("/keys", a.ListKeys)
	r.Post("/keys", a.ImportKeys)
	r.Post("/keys/{keyID}/unlock", a.UnlockKey)
	r.Delete("/keys/{keyID}/unlock", a.LockKey)

	r.Get("/entries/*", a.GetEntry)
	r.Delete("/entries/*", a.DeleteEntry)
	r.Get("/secrets/*", a.GetSecret)
	r.Put("/secrets/*", a.PutSecret)
	r.Put("/recipients/*", a.SetRecipients)

	r.Post("/move", a.MoveEntry)
	r.Post("/copy", a.CopyEntry)
	r.Get("/search", a.Search)

	r.Post("/sync/clone", a.Clone)
	r.Post("/sync/commit", a.Commit)

	return r
}

func trimSlash(p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return p
}
