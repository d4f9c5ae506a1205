// Package webserver owns the HTTP router and server lifecycle shared by the
// REST and websocket endpoints.
package webserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

type Manager struct {
	r      *mux.Router
	addr   string
	logger *slog.Logger
}

// NewManager serves files under resourcesDir on /resources/ when it is set.
func NewManager(addr, resourcesDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		r:      mux.NewRouter(),
		addr:   addr,
		logger: logger.With("component", "webserver"),
	}
	m.r.Use(IdentityMiddleware)
	m.rootHandlers(resourcesDir)
	return m
}

func (m *Manager) Router() *mux.Router {
	return m.r
}

func (m *Manager) rootHandlers(resourcesDir string) {
	m.r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	if resourcesDir == "" {
		return
	}
	if _, err := os.Stat(resourcesDir); os.IsNotExist(err) {
		if err := os.MkdirAll(resourcesDir, 0o755); err != nil {
			m.logger.Error("creating resources dir", "dir", resourcesDir, "err", err)
			return
		}
	}
	fs := http.FileServer(http.Dir(resourcesDir))
	resStr := "/resources/"
	m.r.PathPrefix(resStr).Handler(http.StripPrefix(resStr, fs))
}

// Debug logs every registered route.
func (m *Manager) Debug() {
	_ = m.r.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := route.GetMethods()
		m.logger.Debug("route", "path", pathTemplate, "methods", strings.Join(methods, ","))
		return nil
	})
}

// Serve blocks until ctx is cancelled, then shuts the server down gracefully.
func (m *Manager) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         m.addr,
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      m.r,
	}

	errc := make(chan error, 1)
	go func() {
		m.logger.Info("webserver listening", "addr", m.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.logger.Info("webserver shutting down")
	return srv.Shutdown(shutdownCtx)
}
