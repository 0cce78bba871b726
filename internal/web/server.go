// Package web serves the project explorer, file editor and preview over HTTP.
package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/canopy/internal/config"
	"github.com/hpungsan/canopy/internal/workspace"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// previewCSP lets the composed document run its own inline scripts and
// styles while keeping it in an opaque origin.
const previewCSP = "sandbox allow-scripts; default-src 'self' data: blob: https:; script-src 'unsafe-inline' 'unsafe-eval' https:; style-src 'unsafe-inline' https:"

// NewServer creates and configures the HTTP server for the Canopy web UI.
func NewServer(sess *workspace.Session, cfg *config.Config, log *logrus.Entry, version, bind string, port int) (*http.Server, error) {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	log = log.WithField("component", "web")
	h := &Handlers{
		sess:     sess,
		cfg:      cfg,
		renderer: NewRenderer(templateSub, version, log),
		log:      log,
	}

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           withRecovery(log, securityHeaders(h.routes(staticSub))),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

func (h *Handlers) routes(static fs.FS) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/files", http.StatusFound)
	})
	mux.HandleFunc("GET /files", h.HandleExplorer)
	mux.HandleFunc("POST /files", h.HandleCreate)
	mux.HandleFunc("GET /files/{id}", h.HandleFile)
	mux.HandleFunc("GET /files/{id}/raw", h.HandleRaw)
	mux.HandleFunc("POST /files/{id}/content", h.HandleEdit)
	mux.HandleFunc("POST /files/{id}/rename", h.HandleRename)
	mux.HandleFunc("POST /files/{id}/move", h.HandleMove)
	mux.HandleFunc("POST /files/{id}/toggle", h.HandleToggle)
	mux.HandleFunc("POST /files/{id}/close", h.HandleCloseTab)
	mux.HandleFunc("POST /files/{id}/delete", h.HandleDelete)
	mux.HandleFunc("DELETE /files/{id}", h.HandleDelete)

	mux.HandleFunc("POST /undo", h.HandleUndo)
	mux.HandleFunc("POST /redo", h.HandleRedo)
	mux.HandleFunc("POST /checkpoint", h.HandleCheckpoint)
	mux.HandleFunc("POST /settings", h.HandleSettings)

	mux.HandleFunc("POST /preview", h.HandleBuildPreview)
	mux.HandleFunc("GET /preview", h.HandlePreview)

	mux.HandleFunc("GET /api/tree", h.HandleAPITree)
	mux.HandleFunc("GET /api/status", h.HandleAPIStatus)
	mux.HandleFunc("POST /api/operations", h.HandleAPIOperations)
	mux.HandleFunc("POST /api/ask", h.HandleAPIAsk)

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	return mux
}

// securityHeaders adds security-related HTTP headers to all responses.
// The preview route replaces the policy with previewCSP.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// withRecovery turns a handler panic into a 500 response.
func withRecovery(log *logrus.Entry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(logrus.Fields{
					"panic": err,
					"path":  r.URL.Path,
					"stack": string(debug.Stack()),
				}).Error("handler panic")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server, log *logrus.Entry) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Infof("Canopy UI running at http://%s", srv.Addr)
	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
