// Package monitor serves the HTTP status, tuning and debug surface of a
// running pipeline, and records statistics for offline plots.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/motiontrail/internal/config"
	"github.com/banshee-data/motiontrail/internal/db"
	"github.com/banshee-data/motiontrail/internal/httputil"
	"github.com/banshee-data/motiontrail/internal/motion/pipeline"
	"github.com/banshee-data/motiontrail/internal/motion/runner"
	"github.com/banshee-data/motiontrail/internal/motion/visualiser"
	"github.com/banshee-data/motiontrail/internal/version"
)

const maxConfigBody = 1 << 20

// Controller is the part of runner.Runner the web server drives.
type Controller interface {
	Status() runner.Status
	Settings() pipeline.Settings
	UpdateSettings(pipeline.Settings)
	RequestReset(reason string)
	Latest() *pipeline.Output
}

// PublisherStatser reports visualiser publisher statistics.
type PublisherStatser interface {
	Stats() visualiser.PublisherStats
}

// WebServer serves the monitoring endpoints.
type WebServer struct {
	address   string
	ctrl      Controller
	history   *History
	publisher PublisherStatser
	db        *db.DB
	server    *http.Server

	configMu sync.Mutex // serialises /api/config read-modify-write
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address   string
	Runner    Controller
	History   *History         // optional; created when nil
	Publisher PublisherStatser // optional
	DB        *db.DB           // optional; mounts /debug/tailsql and /debug/backup
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(cfg WebServerConfig) *WebServer {
	ws := &WebServer{
		address:   cfg.Address,
		ctrl:      cfg.Runner,
		history:   cfg.History,
		publisher: cfg.Publisher,
		db:        cfg.DB,
	}
	if ws.history == nil {
		ws.history = NewHistory(DefaultHistorySize)
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// History returns the tick history the server summarises. Register it as
// a runner observer.
func (ws *WebServer) History() *History { return ws.history }

// Start serves until ctx is cancelled.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[monitor] Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Println("[monitor] shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[monitor] HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("[monitor] HTTP server force close error: %v", err)
		}
	}
	return nil
}

// Handler returns the route mux.
func (ws *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/config", ws.handleConfig)
	mux.HandleFunc("/api/reset", ws.handleReset)
	mux.HandleFunc("/debug/output.png", ws.handleOutputPNG)
	mux.HandleFunc("/debug/mask.png", ws.handleMaskPNG)
	mux.HandleFunc("/debug/charts/foreground", ws.handleForegroundChart)
	if ws.db != nil {
		if err := ws.db.AttachAdminRoutes(mux); err != nil {
			log.Printf("[monitor] db admin routes disabled: %v", err)
		}
	}
	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Version    string                     `json:"version"`
	Runner     runner.Status              `json:"runner"`
	Publisher  *visualiser.PublisherStats `json:"publisher,omitempty"`
	Foreground Summary                    `json:"foreground"`
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := StatusResponse{
		Version:    version.Version,
		Runner:     ws.ctrl.Status(),
		Foreground: ws.history.Summary(),
	}
	if ws.publisher != nil {
		st := ws.publisher.Stats()
		resp.Publisher = &st
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleConfig returns the live tuning on GET. POST merges a partial
// TuningConfig over it; numeric values are clamped. Malformed documents and
// startup-only fields are rejected with 400.
func (ws *WebServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSON(w, http.StatusOK, config.FromSettings(ws.ctrl.Settings()))
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody+1))
		if err != nil {
			httputil.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
			return
		}
		if len(body) > maxConfigBody {
			httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "config body too large")
			return
		}
		patch, err := config.ParseTuningConfig(body)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if names := patch.StartupFields(); len(names) > 0 {
			httputil.WriteJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("%s cannot be changed while running", strings.Join(names, ", ")))
			return
		}

		ws.configMu.Lock()
		cur := config.FromSettings(ws.ctrl.Settings())
		cur.Merge(patch)
		ws.ctrl.UpdateSettings(cur.ToSettings())
		applied := config.FromSettings(ws.ctrl.Settings())
		ws.configMu.Unlock()

		log.Printf("[monitor] settings updated: %s", body)
		httputil.WriteJSON(w, http.StatusOK, applied)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (ws *WebServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = pipeline.ResetRequest
	}
	ws.ctrl.RequestReset(reason)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "reset requested", "reason": reason})
}

func (ws *WebServer) handleOutputPNG(w http.ResponseWriter, r *http.Request) {
	out := ws.ctrl.Latest()
	if out == nil || out.Image == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "no output yet")
		return
	}
	httputil.WritePNG(w, out.Image)
}

func (ws *WebServer) handleMaskPNG(w http.ResponseWriter, r *http.Request) {
	out := ws.ctrl.Latest()
	if out == nil || out.Mask == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "no mask yet")
		return
	}
	httputil.WritePNG(w, out.Mask.GrayImage())
}
