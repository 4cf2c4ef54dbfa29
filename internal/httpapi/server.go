// Package httpapi serves a read-only JSON view of the tracker: connection
// status, buffered history, derived summary and the stats snapshot.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"pilot-tracker/internal/feed"
	"pilot-tracker/internal/flight"
	"pilot-tracker/internal/stats"
)

// FeedSource exposes the live feed state.
type FeedSource interface {
	Snapshot() feed.Status
}

// StatsSource exposes the aggregate snapshot.
type StatsSource interface {
	Current() stats.State
	Refresh(ctx context.Context) stats.State
}

// Options configure the HTTP server.
type Options struct {
	Address        string
	AllowedOrigins []string
	Now            func() time.Time
}

// Server wraps the chi router and its http.Server.
type Server struct {
	router chi.Router
	server *http.Server
	feed   FeedSource
	stats  StatsSource
	now    func() time.Time
	logger zerolog.Logger
}

// New builds the router. Either source may be nil when that part is disabled.
func New(opts Options, feedSrc FeedSource, statsSrc StatsSource, logger zerolog.Logger) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		router: chi.NewRouter(),
		feed:   feedSrc,
		stats:  statsSrc,
		now:    opts.Now,
		logger: logger.With().Str("component", "httpapi").Logger(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           60 * 15,
	}))

	s.router.Get("/healthz", s.health)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/history", s.history)
		r.Get("/summary", s.summary)
		r.Get("/categories", s.categories)
		r.Get("/stats", s.currentStats)
		r.Post("/stats/refresh", s.refreshStats)
	})

	s.server = &http.Server{
		Addr:         opts.Address,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("status api listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request served")
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	State     feed.State  `json:"state"`
	Source    feed.Source `json:"source"`
	Connected bool        `json:"connected"`
	Attempts  int         `json:"reconnectAttempts"`
	LastError string      `json:"lastError,omitempty"`
	Buffered  int         `json:"buffered"`
	Latest    *item       `json:"latest,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "live feed disabled")
		return
	}
	st := s.feed.Snapshot()
	resp := statusResponse{
		State:     st.State,
		Source:    st.Source,
		Connected: st.Connected(),
		Attempts:  st.Attempts,
		LastError: st.LastError,
		Buffered:  len(st.History),
		UpdatedAt: st.UpdatedAt,
	}
	if st.Latest != nil {
		latest := newItem(*st.Latest, s.now())
		resp.Latest = &latest
	}
	writeJSON(w, http.StatusOK, resp)
}

// item is an outcome enriched with display fields.
type item struct {
	flight.Outcome
	Category  flight.Category `json:"category"`
	Formatted string          `json:"formatted"`
	Status    string          `json:"status"`
	Label     string          `json:"label"`
	Ago       string          `json:"ago"`
}

func newItem(o flight.Outcome, now time.Time) item {
	return item{
		Outcome:   o,
		Category:  o.Category(),
		Formatted: flight.FormatMultiplier(o.Multiplier),
		Status:    flight.Status(o.Multiplier),
		Label:     flight.FormatRoundLabel(o.RoundLabel),
		Ago:       flight.TimeAgo(o.Timestamp, now),
	}
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "live feed disabled")
		return
	}
	st := s.feed.Snapshot()

	limit := len(st.History)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, limit)
	}

	now := s.now()
	items := make([]item, 0, limit)
	for _, o := range st.History[:limit] {
		items = append(items, newItem(o, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":   st.Source,
		"count":    len(items),
		"outcomes": items,
	})
}

func (s *Server) summary(w http.ResponseWriter, _ *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "live feed disabled")
		return
	}
	st := s.feed.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"source":  st.Source,
		"summary": flight.Summarize(st.History),
	})
}

type categoryInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ShortName   string   `json:"shortName"`
	Description string   `json:"description"`
	Min         float64  `json:"min"`
	Max         *float64 `json:"max"`
}

func (s *Server) categories(w http.ResponseWriter, _ *http.Request) {
	out := make([]categoryInfo, 0, flight.NumCategories)
	for _, c := range flight.Categories() {
		lower, upper := c.Bounds()
		info := categoryInfo{
			ID:          c.String(),
			Name:        c.Name(),
			ShortName:   c.ShortName(),
			Description: c.Description(),
			Min:         lower,
		}
		if !math.IsInf(upper, 1) {
			info.Max = &upper
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) currentStats(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Current())
}

func (s *Server) refreshStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Refresh(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
