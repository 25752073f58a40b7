package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/xkcd-mirror/internal/comic"
	"github.com/JakeFAU/xkcd-mirror/internal/metrics"
	"github.com/JakeFAU/xkcd-mirror/internal/query"
	"github.com/JakeFAU/xkcd-mirror/internal/syncer"
)

const requestTimeout = 60 * time.Second

// Queries answers read-only comic lookups.
type Queries interface {
	All(ctx context.Context) []comic.Record
	ByNumber(ctx context.Context, number int) (comic.Record, error)
	Random(ctx context.Context) (comic.Record, error)
	Navigate(ctx context.Context, current int, direction query.Direction) (comic.Record, error)
}

// Updater starts background synchronizations and reports their status.
type Updater interface {
	Start(ctx context.Context) (<-chan syncer.Result, error)
	Status() comic.UpdateStatus
}

// RequestIDs mints identifiers for the X-Request-ID header.
type RequestIDs interface {
	MustNewID() string
}

// Server wires HTTP handlers to the query service, the synchronizer and the
// image store.
type Server struct {
	router  chi.Router
	baseCtx context.Context
	queries Queries
	updater Updater
	blobs   comic.BlobStore
	hasher  comic.Hasher
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. Updates started
// over HTTP run under baseCtx, not the request context, so they outlive the
// request and stop only when baseCtx is cancelled.
func NewServer(
	baseCtx context.Context,
	queries Queries,
	updater Updater,
	blobs comic.BlobStore,
	hasher comic.Hasher,
	ids RequestIDs,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		baseCtx: baseCtx,
		queries: queries,
		updater: updater,
		blobs:   blobs,
		hasher:  hasher,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware(ids))
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/", s.viewerPage)
	r.Get("/update", s.updatePage)

	r.Route("/api", func(r chi.Router) {
		r.Route("/comics", func(r chi.Router) {
			r.Get("/", s.listComics)
			r.Get("/random", s.randomComic)
			r.Get("/navigate", s.navigateComics)
			r.Get("/{comic_number}", s.getComic)
			r.Get("/{comic_number}/image", s.getComicImage)
		})
		r.Post("/update", s.triggerUpdate)
		r.Get("/status", s.getStatus)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The store is loaded before the server starts listening.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(ids RequestIDs) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" && ids != nil {
				reqID = ids.MustNewID()
			}
			ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestIDFrom(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
