package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"homebase42/internal/export"
	"homebase42/internal/shadowstate"
	"homebase42/internal/state"
)

// ValueSource serves the current published signal values
type ValueSource interface {
	GetAllValues() map[string]state.Value
	Get(key string) (state.Value, error)
}

// Exporter builds export snapshots
type Exporter interface {
	Build(ctx context.Context, opts export.Options) (*export.Snapshot, error)
}

// ConnectionChecker reports whether Home Assistant is reachable
type ConnectionChecker interface {
	IsConnected() bool
}

// Server provides HTTP API endpoints for Homebase42
type Server struct {
	values   ValueSource
	shadow   *shadowstate.Tracker
	exporter Exporter
	conn     ConnectionChecker
	logger   *zap.Logger
	router   chi.Router
	server   *http.Server
}

// NewServer creates a new API server. shadow, exporter and conn may be nil;
// the matching endpoints then report 503.
func NewServer(values ValueSource, shadow *shadowstate.Tracker, exporter Exporter, conn ConnectionChecker, logger *zap.Logger, port int) *Server {
	s := &Server{
		values:   values,
		shadow:   shadow,
		exporter: exporter,
		conn:     conn,
		logger:   logger.Named("api"),
		router:   chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	s.router.Get("/", s.handleSitemap)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/results", s.handleResults)
	s.router.Get("/api/results/{key}", s.handleResult)
	s.router.Get("/api/shadow", s.handleShadow)
	s.router.Get("/api/export", s.handleExport)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote_addr", r.RemoteAddr))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// ResultsResponse lists the published signals ordered by key
type ResultsResponse struct {
	Signals []state.Value `json:"signals"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	all := s.values.GetAllValues()
	response := ResultsResponse{Signals: make([]state.Value, 0, len(all))}
	for _, v := range all {
		response.Signals = append(response.Signals, v)
	}
	sort.Slice(response.Signals, func(i, j int) bool {
		return response.Signals[i].Key < response.Signals[j].Key
	})
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	value, err := s.values.Get(chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, value)
}

func (s *Server) handleShadow(w http.ResponseWriter, r *http.Request) {
	if s.shadow == nil {
		s.writeError(w, http.StatusServiceUnavailable, "shadow state not available")
		return
	}
	s.writeJSON(w, http.StatusOK, s.shadow.GetAllPluginStates())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		s.writeError(w, http.StatusServiceUnavailable, "export not available")
		return
	}

	opts := export.DefaultOptions()
	var err error
	if opts.IncludeAttributes, err = boolQuery(r, "include_attributes", opts.IncludeAttributes); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if opts.IncludeContext, err = boolQuery(r, "include_context", opts.IncludeContext); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.exporter.Build(r.Context(), opts)
	if err != nil {
		s.logger.Error("Export failed", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func boolQuery(r *http.Request, key string, def bool) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string `json:"status"`
	HAConnected bool   `json:"ha_connected"`
}

// handleHealth reports ok while Home Assistant is connected
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "ok", HAConnected: true}
	status := http.StatusOK
	if s.conn != nil && !s.conn.IsConnected() {
		response = HealthResponse{Status: "degraded", HAConnected: false}
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, response)
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/health", Method: "GET", Description: "Health check - reports the Home Assistant connection"},
	{Path: "/api/results", Method: "GET", Description: "Current value of every published signal"},
	{Path: "/api/results/{key}", Method: "GET", Description: "Current value of one signal"},
	{Path: "/api/shadow", Method: "GET", Description: "Scan history and inputs of each plugin"},
	{Path: "/api/export", Method: "GET", Description: "State export snapshot (?include_attributes=false&include_context=false)"},
}

// handleSitemap lists the endpoints, as HTML for browsers and plain text
// otherwise
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
    <title>Homebase42 API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>Homebase42 API</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</body>\n</html>\n")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Homebase42 API\n")
	fmt.Fprintf(w, "==============\n\n")
	for _, ep := range endpoints {
		fmt.Fprintf(w, "  %-6s %-20s %s\n", ep.Method, ep.Path, ep.Description)
	}
	fmt.Fprintf(w, "\nExample:\n\n    curl http://localhost:8081/api/results | jq\n")
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
