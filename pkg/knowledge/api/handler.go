package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

// uploadOverhead is the multipart framing allowed on top of the archive limit.
const uploadOverhead = 1 << 20

// Handler serves the knowledge repository over HTTP.
type Handler struct {
	service        knowledge.Service
	guard          func(http.Handler) http.Handler
	logger         *slog.Logger
	maxUploadBytes int64
	metrics        *HTTPMetrics
	gatherer       prometheus.Gatherer
}

// Option configures a Handler.
type Option func(*Handler)

// WithGuard protects the moderation surface. A nil guard leaves it open.
func WithGuard(guard func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.guard = guard }
}

// WithLogger sets the request and error logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMaxUploadBytes caps the archive size accepted by POST /knowledge.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) { h.maxUploadBytes = n }
}

// WithMetrics records HTTP metrics on reg and serves gatherer at /metrics.
func WithMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.metrics = NewHTTPMetrics(reg)
		h.gatherer = gatherer
	}
}

// NewHandler creates a handler for service.
func NewHandler(service knowledge.Service, opts ...Option) *Handler {
	h := &Handler{
		service:        service,
		logger:         slog.Default(),
		maxUploadBytes: knowledge.DefaultMaxUploadSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "api")
	return h
}

// Routes returns the complete HTTP surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(h.logger))
	r.Use(RecoveryMiddleware(h.logger))
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/health", h.Health)

	r.Route("/knowledge", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Get("/", h.List)
		r.Get("/{ref}", h.Get)
		r.Get("/{ref}/download", h.Download)
		r.Get("/{ref}/preview", h.Preview)
		r.Get("/{ref}/related", h.Related)
		r.Get("/{ref}/suggest-tags", h.SuggestTags)
	})

	r.Get("/search", h.Search)
	r.Get("/categories", h.Categories)
	r.Get("/frameworks", h.Frameworks)
	r.Get("/top-rated", h.TopRated)
	r.Post("/vote/{ref}/{direction}", h.Vote)

	r.Route("/review", func(r chi.Router) {
		if h.guard != nil {
			r.Use(h.guard)
		}
		r.Get("/pending", h.PendingReviews)
		r.Get("/stats", h.ReviewStats)
		r.Post("/reconcile", h.Reconcile)
		r.Post("/{ref}/approve", h.Approve)
		r.Post("/{ref}/reject", h.Reject)
	})

	return r
}

// asModerator runs next behind the guard. Public routes use it for the
// query parameters that expose unapproved packages.
func (h *Handler) asModerator(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	if h.guard == nil {
		next(w, r)
		return
	}
	h.guard(next).ServeHTTP(w, r)
}

// resolve loads the package named by the {ref} URL parameter.
func (h *Handler) resolve(r *http.Request) (*knowledge.Package, error) {
	return h.service.Resolve(r.Context(), chi.URLParam(r, "ref"))
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &knowledge.ValidationError{
			Reason:  knowledge.ReasonInvalidField,
			Field:   key,
			Message: "must be an integer",
		}
	}
	return n, nil
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// packageView is a package with its derived rating summary.
type packageView struct {
	*knowledge.Package
	Rating knowledge.Rating `json:"rating"`
}

func newPackageView(pkg *knowledge.Package) packageView {
	return packageView{Package: pkg, Rating: pkg.Rating()}
}

func newPackageViews(pkgs []*knowledge.Package) []packageView {
	views := make([]packageView, 0, len(pkgs))
	for _, pkg := range pkgs {
		views = append(views, newPackageView(pkg))
	}
	return views
}
