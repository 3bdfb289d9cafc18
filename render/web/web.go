// Package web is the browser renderer backend: chart data is pushed to
// connected pages over WebSocket and drawn client-side with ECharts, while
// user interactions flow back through the same socket into the
// interaction normalizer.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dashwire/dashwire/core"

	"github.com/evanw/esbuild/pkg/api"
)

// Static assets embedded in the binary
var (
	//go:embed assets
	staticFiles embed.FS
)

// InteractionSink receives raw interaction payloads arriving from the
// browser, keyed by chart id. Wired to the event normalizer by the
// dashboard session.
type InteractionSink func(chartID string, native map[string]any)

// Server serves the dashboard page and pushes chart payloads to connected
// clients. One server backs every chart resolved to the echarts library.
type Server struct {
	sync.Mutex
	port          int
	debug         bool
	log           core.Logger
	indexHTML     *template.Template
	scriptContent string
	hub           *Hub
	lastUpdate    time.Time

	// last payload per chart, replayed to clients connecting late
	latest map[string]ChartPayload
}

// ChartPayload is what the browser receives for one chart update.
type ChartPayload struct {
	ChartID       string         `json:"chart_id"`
	ChartType     string         `json:"chart_type"`
	Configuration map[string]any `json:"configuration"`
	Data          core.Dataset   `json:"data"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Option configures a Server.
type Option func(*Server)

// WithPort sets the HTTP listen port.
func WithPort(port int) Option {
	return func(s *Server) {
		s.port = port
	}
}

// WithDebug disables script minification.
func WithDebug() Option {
	return func(s *Server) {
		s.debug = true
	}
}

// NewServer creates the web backend, parsing the page template and
// bundling the client script.
func NewServer(log core.Logger, sink InteractionSink, options ...Option) (*Server, error) {
	server := &Server{
		port:   8080,
		log:    log,
		latest: make(map[string]ChartPayload),
	}

	for _, option := range options {
		option(server)
	}

	var err error
	server.indexHTML, err = template.ParseFS(staticFiles, "assets/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse dashboard template: %w", err)
	}

	mainJS, err := staticFiles.ReadFile("assets/js/main.js")
	if err != nil {
		return nil, fmt.Errorf("failed to read main.js: %w", err)
	}

	transpiled := api.Transform(string(mainJS), api.TransformOptions{
		Loader:            api.LoaderJS,
		Target:            api.ES2015,
		MinifySyntax:      !server.debug,
		MinifyIdentifiers: !server.debug,
		MinifyWhitespace:  !server.debug,
	})
	if len(transpiled.Errors) > 0 {
		return nil, fmt.Errorf("dashboard script failed with: %v", transpiled.Errors)
	}
	server.scriptContent = string(transpiled.Code)

	server.hub = NewHub(log, sink, server.replay)

	return server, nil
}

// Push sends a chart payload to every client watching it and stores it for
// replay to late joiners.
func (s *Server) Push(payload ChartPayload) {
	s.Lock()
	s.latest[payload.ChartID] = payload
	s.lastUpdate = time.Now()
	s.Unlock()

	s.hub.Broadcast(Message{Type: "chart_data", Payload: payload})
}

// replay returns the payloads a newly connected client starts with: the
// chart's own last payload, or every stored payload for a client watching
// the whole dashboard.
func (s *Server) replay(chartID string) []ChartPayload {
	s.Lock()
	defer s.Unlock()

	if chartID != "" {
		if payload, ok := s.latest[chartID]; ok {
			return []ChartPayload{payload}
		}
		return nil
	}

	ids := make([]string, 0, len(s.latest))
	for id := range s.latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	payloads := make([]ChartPayload, 0, len(ids))
	for _, id := range ids {
		payloads = append(payloads, s.latest[id])
	}
	return payloads
}

// chartIDs returns the ids of every chart pushed so far, sorted.
func (s *Server) chartIDs() []string {
	s.Lock()
	defer s.Unlock()

	ids := make([]string, 0, len(s.latest))
	for id := range s.latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// handleIndex serves the dashboard page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	err := s.indexHTML.Execute(w, map[string]any{
		"charts": s.chartIDs(),
	})
	if err != nil {
		s.log.Error("template execution failed: ", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// handleScript serves the bundled client script.
func (s *Server) handleScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	if _, err := w.Write([]byte(s.scriptContent)); err != nil {
		s.log.Error("failed to write script: ", err)
	}
}

// handleHealth reports unhealthy when no chart has updated recently.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.Lock()
	last := s.lastUpdate
	s.Unlock()

	if !last.IsZero() && time.Since(last) > 10*time.Minute {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Handler builds the HTTP routes of the dashboard page.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/assets/", http.FileServer(http.FS(staticFiles)))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/main.js", s.handleScript)
	mux.HandleFunc("/ws", s.hub.HandleWebSocket)
	mux.HandleFunc("/", s.handleIndex)
	return mux
}

// Start blocks serving the dashboard until the context is done or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Infof("dashboard available at http://localhost:%d", s.port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
