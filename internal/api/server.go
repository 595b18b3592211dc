// Package api serves the authoring and viewer HTTP surfaces.
package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/panotour/internal/alignment"
	"github.com/banshee-data/panotour/internal/config"
	"github.com/banshee-data/panotour/internal/hotspot"
	"github.com/banshee-data/panotour/internal/httputil"
	"github.com/banshee-data/panotour/internal/playback"
	"github.com/banshee-data/panotour/internal/transform"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes an authoring session, a playback resolver, or both. Routes
// for a nil component are not registered.
type Server struct {
	session  *alignment.Session
	resolver *playback.Resolver
	cfg      *config.AlignConfig
	assets   http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithSession mounts the authoring routes under /api/align/.
func WithSession(s *alignment.Session) Option {
	return func(srv *Server) { srv.session = s }
}

// WithResolver mounts the viewer routes under /api/tour/.
func WithResolver(r *playback.Resolver) Option {
	return func(srv *Server) { srv.resolver = r }
}

// WithAssets serves dataset files (panoramas, clouds, list.json) under
// /assets/.
func WithAssets(h http.Handler) Option {
	return func(srv *Server) { srv.assets = h }
}

// NewServer returns a server using cfg for filter and preview settings. A
// nil cfg uses built-in defaults.
func NewServer(cfg *config.AlignConfig, opts ...Option) *Server {
	if cfg == nil {
		cfg = config.EmptyAlignConfig()
	}
	s := &Server{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/config", s.showConfig)

	if s.session != nil {
		mux.HandleFunc("/api/align/status", s.alignStatus)
		mux.HandleFunc("/api/align/scenes", s.alignScenes)
		mux.HandleFunc("/api/align/select", s.alignSelect)
		mux.HandleFunc("/api/align/params", s.alignParams)
		mux.HandleFunc("/api/align/reset", s.alignReset)
		mux.HandleFunc("/api/align/base", s.alignBase)
		mux.HandleFunc("/api/align/placement", s.alignPlacement)
		mux.HandleFunc("/api/align/click", s.alignClick)
		mux.HandleFunc("/api/align/hotspots", s.alignHotspots)
		mux.HandleFunc("/api/align/markers", s.alignMarkers)
		mux.HandleFunc("/api/align/save", s.alignSave)
		mux.HandleFunc("/api/align/next", s.alignNext)
		mux.HandleFunc("/api/align/export", s.alignExport)
		mux.HandleFunc("/api/align/import", s.alignImport)
		mux.HandleFunc("/api/align/preview", s.alignPreview)
	}
	if s.resolver != nil {
		mux.HandleFunc("/api/tour/state", s.tourState)
		mux.HandleFunc("/api/tour/navigate", s.tourNavigate)
		mux.HandleFunc("/api/tour/step", s.tourStep)
		mux.HandleFunc("/api/tour/hotspot", s.tourHotspot)
		mux.HandleFunc("/api/tour/cloud", s.tourCloud)
		mux.HandleFunc("/api/tour/preview", s.tourPreview)
	}
	if s.assets != nil {
		mux.Handle("/assets/", http.StripPrefix("/assets", s.assets))
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := map[string]interface{}{"status": "ok"}
	if s.session != nil {
		saved, total := s.session.Progress()
		resp["alignment"] = map[string]int{"saved": saved, "total": total}
	}
	if s.resolver != nil {
		resp["stops"] = s.resolver.Len()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.cfg)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var rej *hotspot.Rejection
	var le *playback.LoadError
	switch {
	// A failed stop load is reported as an upstream failure whatever it wraps.
	case errors.As(err, &le):
		httputil.WriteJSONError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &rej):
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  err.Error(),
			"reason": string(rej.Reason),
		})
	case errors.Is(err, alignment.ErrSceneRange),
		errors.Is(err, playback.ErrOutOfRange),
		errors.Is(err, playback.ErrNoHotspot):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, alignment.ErrNoScene),
		errors.Is(err, alignment.ErrNotPlacing),
		errors.Is(err, alignment.ErrNoCloud),
		errors.Is(err, alignment.ErrSuperseded),
		errors.Is(err, playback.ErrSuperseded),
		errors.Is(err, playback.ErrNoScene):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, transform.ErrNonFinite),
		errors.Is(err, transform.ErrSingular),
		errors.Is(err, alignment.ErrBadBaseTransform),
		errors.Is(err, alignment.ErrEmptyDocument):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

// vec3 is the wire form of a position or direction.
type vec3 [3]float64
