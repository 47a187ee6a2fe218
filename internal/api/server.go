package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/voxelpromo/voxelpromo/internal/affiliate"
	"github.com/voxelpromo/voxelpromo/internal/linkcheck"
	"github.com/voxelpromo/voxelpromo/internal/metrics"
	"github.com/voxelpromo/voxelpromo/internal/offer"
	"github.com/voxelpromo/voxelpromo/internal/shortlink"
	"github.com/voxelpromo/voxelpromo/internal/validate"
)

// OfferPoster publishes offers to the configured channels.
type OfferPoster interface {
	PostOffer(ctx context.Context, offerID string) (offer.PostSummary, error)
	PostPending(ctx context.Context, limit int) ([]offer.PostSummary, error)
}

// JobDispatcher submits collect jobs and reports their status.
type JobDispatcher interface {
	Submit(ctx context.Context, params offer.JobParameters) (offer.CollectJob, error)
	Job(ctx context.Context, jobID string) (offer.CollectJob, error)
}

// Config carries the server knobs the handlers and middleware need.
type Config struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// Deps bundles the collaborators the server routes requests to.
type Deps struct {
	Store      offer.Store
	Templates  offer.TemplateStore
	History    offer.HistoryStore
	Links      *shortlink.Service
	Checker    *linkcheck.Checker
	Rewriter   *affiliate.Rewriter
	Poster     OfferPoster
	Dispatcher JobDispatcher
	SecLog     offer.SecurityLog
	IDs        offer.IDGenerator
	Clock      offer.Clock
	Log        *zap.Logger
}

// Server wires the chi router, middleware, and handlers.
type Server struct {
	cfg     Config
	router  chi.Router
	store   offer.Store
	tmpl    offer.TemplateStore
	history offer.HistoryStore
	links   *shortlink.Service
	checks  *linkcheck.Checker
	rewrite *affiliate.Rewriter
	poster  OfferPoster
	jobs    JobDispatcher
	seclog  offer.SecurityLog
	ids     offer.IDGenerator
	clock   offer.Clock
	limiter *clientLimiter
	log     *zap.Logger
}

// NewServer builds the HTTP server with all routes registered.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		store:   deps.Store,
		tmpl:    deps.Templates,
		history: deps.History,
		links:   deps.Links,
		checks:  deps.Checker,
		rewrite: deps.Rewriter,
		poster:  deps.Poster,
		jobs:    deps.Dispatcher,
		seclog:  deps.SecLog,
		ids:     deps.IDs,
		clock:   deps.Clock,
		limiter: newClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		log:     log,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/r/{code}", s.handleRedirect)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		if cfg.AuthEnabled {
			r.Use(s.apiKeyMiddleware)
		}

		r.Route("/offers", func(r chi.Router) {
			r.Get("/", s.handleListOffers)
			r.Post("/post-pending", s.handlePostPending)
			r.Route("/{offerID}", func(r chi.Router) {
				r.Get("/", s.handleGetOffer)
				r.Delete("/", s.handleDeleteOffer)
				r.Post("/activate", s.handleSetActive(true))
				r.Post("/deactivate", s.handleSetActive(false))
				r.Post("/post", s.handlePostOffer)
				r.Get("/history", s.handleOfferHistory)
			})
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmitJob)
			r.Get("/{jobID}", s.handleGetJob)
		})

		r.Route("/amazon", func(r chi.Router) {
			r.Get("/asin", s.handleExtractASIN)
			r.Get("/affiliate", s.handleAffiliatePreview)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/{templateID}", s.handleGetTemplate)
			r.Delete("/{templateID}", s.handleDeleteTemplate)
		})

		r.Route("/shortlinks", func(r chi.Router) {
			r.Post("/", s.handleShorten)
			r.Get("/{code}", s.handleShortLinkStats)
		})

		r.Get("/links/check", s.handleLinkCheck)
	})

	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	// Readiness is store reachability: a cheap bounded list query.
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.store.List(ctx, offer.ListFilter{Limit: 1}); err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "not_ready", "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	target, err := s.links.Resolve(r.Context(), code)
	if err != nil {
		if errors.Is(err, offer.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, "not_found", "unknown short link")
			return
		}
		s.serverError(w, r, "resolve short link", err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := offer.ListFilter{
		Source:     offer.Source(q.Get("source")),
		OnlyActive: q.Get("active") == "true",
		Unposted:   q.Get("unposted") == "true",
		Limit:      intQuery(q.Get("limit"), 50),
	}
	offers, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.serverError(w, r, "list offers", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"offers": offers, "count": len(offers)})
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.GetByID(r.Context(), chi.URLParam(r, "offerID"))
	if err != nil {
		if errors.Is(err, offer.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, "not_found", "offer not found")
			return
		}
		s.serverError(w, r, "get offer", err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleDeleteOffer(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "offerID")); err != nil {
		if errors.Is(err, offer.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, "not_found", "offer not found")
			return
		}
		s.serverError(w, r, "delete offer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "offerID")
		if err := s.store.SetActive(r.Context(), id, active); err != nil {
			if errors.Is(err, offer.ErrNotFound) {
				s.writeError(w, r, http.StatusNotFound, "not_found", "offer not found")
				return
			}
			s.serverError(w, r, "set offer active", err)
			return
		}
		o, err := s.store.GetByID(r.Context(), id)
		if err != nil {
			s.serverError(w, r, "get offer", err)
			return
		}
		s.writeJSON(w, http.StatusOK, o)
	}
}

func (s *Server) handlePostOffer(w http.ResponseWriter, r *http.Request) {
	summary, err := s.poster.PostOffer(r.Context(), chi.URLParam(r, "offerID"))
	if err != nil {
		switch {
		case errors.Is(err, offer.ErrNotFound):
			s.writeError(w, r, http.StatusNotFound, "not_found", "offer not found")
		case errors.Is(err, offer.ErrAlreadyPosted):
			s.writeError(w, r, http.StatusConflict, "already_posted", "offer was already posted")
		default:
			s.serverError(w, r, "post offer", err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePostPending(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	// Every field is optional, so a missing body means defaults.
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	summaries, err := s.poster.PostPending(r.Context(), req.Limit)
	if err != nil {
		s.serverError(w, r, "post pending offers", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries, "count": len(summaries)})
}

func (s *Server) handleOfferHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.ListByOffer(r.Context(), chi.URLParam(r, "offerID"))
	if err != nil {
		s.serverError(w, r, "list post history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var params offer.JobParameters
	if err := decodeJSON(r, &params); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if params.Query == "" {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "query is required")
		return
	}
	for _, src := range params.Sources {
		if !validate.SourceName(string(src)) {
			s.writeError(w, r, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown source %q", src))
			return
		}
	}
	job, err := s.jobs.Submit(r.Context(), params)
	if err != nil {
		s.serverError(w, r, "submit job", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Job(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, offer.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		s.serverError(w, r, "get job", err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleExtractASIN(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if !validate.HTTPURL(rawURL) {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "url must be an absolute http(s) url")
		return
	}
	asin, ok := affiliate.ExtractASIN(rawURL)
	if !ok {
		s.writeError(w, r, http.StatusUnprocessableEntity, "no_asin", "no ASIN found in url")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"asin": asin})
}

func (s *Server) handleAffiliatePreview(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if !validate.HTTPURL(rawURL) {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "url must be an absolute http(s) url")
		return
	}
	source := offer.Source(r.URL.Query().Get("source"))
	if source == "" {
		source = offer.SourceAmazon
	}
	rewritten, err := s.rewrite.Rewrite(source, rawURL)
	if err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, "rewrite_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"source":        string(source),
		"url":           rawURL,
		"affiliate_url": rewritten,
	})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.tmpl.List(r.Context())
	if err != nil {
		s.serverError(w, r, "list templates", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"templates": templates, "count": len(templates)})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Body    string `json:"body"`
		Default bool   `json:"default"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Name == "" || req.Body == "" {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "name and body are required")
		return
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.serverError(w, r, "new template id", err)
		return
	}
	now := s.clock.Now()
	tmpl := offer.MessageTemplate{
		ID:        id,
		Name:      req.Name,
		Body:      req.Body,
		Default:   req.Default,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tmpl.Save(r.Context(), tmpl); err != nil {
		s.serverError(w, r, "save template", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, tmpl)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.tmpl.GetByID(r.Context(), chi.URLParam(r, "templateID"))
	if err != nil {
		if errors.Is(err, offer.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, "not_found", "template not found")
			return
		}
		s.serverError(w, r, "get template", err)
		return
	}
	s.writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.tmpl.Delete(r.Context(), chi.URLParam(r, "templateID")); err != nil {
		if errors.Is(err, offer.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, "not_found", "template not found")
			return
		}
		s.serverError(w, r, "delete template", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShorten(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL     string `json:"url"`
		OfferID string `json:"offer_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !validate.HTTPURL(req.URL) {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "url must be an absolute http(s) url")
		return
	}
	link, err := s.links.Shorten(r.Context(), req.URL, req.OfferID)
	if err != nil {
		s.serverError(w, r, "shorten url", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"code":       link.Code,
		"short_url":  s.links.PublicURL(link.Code),
		"target_url": link.TargetURL,
	})
}

func (s *Server) handleShortLinkStats(w http.ResponseWriter, r *http.Request) {
	link, err := s.links.Stats(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		if errors.Is(err, offer.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, "not_found", "unknown short link")
			return
		}
		s.serverError(w, r, "short link stats", err)
		return
	}
	s.writeJSON(w, http.StatusOK, link)
}

func (s *Server) handleLinkCheck(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if !validate.HTTPURL(rawURL) {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "url must be an absolute http(s) url")
		return
	}
	result, err := s.checks.Check(r.Context(), rawURL)
	if err != nil {
		s.serverError(w, r, "check link", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	s.writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestID(r.Context()),
	})
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.log.Error(op, zap.Error(err), zap.String("request_id", RequestID(r.Context())))
	s.writeError(w, r, http.StatusInternalServerError, "internal", "internal server error")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
