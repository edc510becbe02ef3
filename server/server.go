// Package server exposes the coordinator over a local HTTP control API.
// Every response uses the {success, error, data} envelope; failures map
// onto HTTP status codes through the shared error taxonomy.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/warden/backup"
	"github.com/projecteru2/warden/config"
	"github.com/projecteru2/warden/coordinator"
	"github.com/projecteru2/warden/plugin"
	"github.com/projecteru2/warden/types"
)

// Server is the warden control API.
type Server struct {
	conf    *config.Config
	coord   *coordinator.Coordinator
	tracker *plugin.Tracker
	jobs     *backup.Jobs
	backups  func() string // enqueue a backup job
	restores func() (string, error)
	prunes   func(ctx context.Context) error

	httpSrv *http.Server
}

// New assembles the API server around an already-built coordinator stack.
func New(conf *config.Config, coord *coordinator.Coordinator, tracker *plugin.Tracker, engine *backup.Engine) *Server {
	s := &Server{
		conf:    conf,
		coord:   coord,
		tracker: tracker,
		jobs:    engine.Jobs(),
		backups: func() string { return engine.BackupAsync(conf.DataDir) },
		restores: func() (string, error) {
			// A restore rewrites the data directory; the workload must be
			// fully down first.
			if state := coord.State(); state != types.StateStopped {
				return "", fmt.Errorf("restore requested while %s: %w", state, types.ErrConflict)
			}
			return engine.RestoreAsync(conf.DataDir), nil
		},
		prunes: func(ctx context.Context) error { return engine.Prune(ctx, conf.DataDir) },
	}
	s.httpSrv = &http.Server{
		Addr:              conf.APIAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/workload/start", s.handleStart)
	mux.HandleFunc("POST /api/v1/workload/stop", s.handleStop)
	mux.HandleFunc("GET /api/v1/workload/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/workload/state", s.handleState)
	mux.HandleFunc("POST /api/v1/workload/command", s.handleCommand)

	mux.HandleFunc("GET /api/v1/plugins", s.handlePluginList)
	mux.HandleFunc("GET /api/v1/plugins/{filename}", s.handlePluginGet)
	mux.HandleFunc("POST /api/v1/plugins/{filename}/enable", s.handlePluginEnable(true))
	mux.HandleFunc("POST /api/v1/plugins/{filename}/disable", s.handlePluginEnable(false))
	mux.HandleFunc("PUT /api/v1/plugins/{filename}/env", s.handlePluginSetEnv)
	mux.HandleFunc("DELETE /api/v1/plugins/{filename}/env/{key}", s.handlePluginUnsetEnv)

	mux.HandleFunc("GET /api/v1/sessions/current", s.handleCurrentSession)
	mux.HandleFunc("GET /api/v1/sessions/last", s.handleLastSession)
	mux.HandleFunc("GET /api/v1/usage", s.handleUsage)

	mux.HandleFunc("POST /api/v1/backups", s.handleBackupCreate)
	mux.HandleFunc("POST /api/v1/backups/prune", s.handleBackupPrune)
	mux.HandleFunc("POST /api/v1/restores", s.handleRestoreCreate)
	mux.HandleFunc("GET /api/v1/jobs", s.handleJobList)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleJobGet)

	health := healthcheck.NewHandler()
	health.AddReadinessCheck("api", func() error { return nil })
	mux.HandleFunc("GET /healthz", health.LiveEndpoint)
	mux.HandleFunc("GET /readyz", health.ReadyEndpoint)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Serve blocks until ctx is cancelled, then shuts the listener down.
func (s *Server) Serve(ctx context.Context) error {
	logger := log.WithFunc("server.Serve")

	errCh := make(chan error, 1)
	go func() {
		logger.Infof(ctx, "control API listening on %s", s.conf.APIAddr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown control API: %w", err)
	}
	return nil
}

// envelope is the uniform response body.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, types.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, types.ErrUnavailable):
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: err.Error()})
}
