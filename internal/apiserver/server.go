// Package apiserver exposes the REST API: Application CRUD, manual sync
// triggers, status reads and the GitHub webhook receiver.
package apiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"driftsync/internal/config"
	"driftsync/internal/controller"
	"driftsync/internal/store"
	"driftsync/pkg/apis/driftsync/v1alpha1"
	"driftsync/pkg/logging"
)

// Server serves the HTTP API.
type Server struct {
	addr          string
	store         *store.Store
	manager       *controller.Manager
	webhookSecret []byte
	httpServer    *http.Server
}

// NewServer builds the API server. The webhook secret file is optional;
// without it webhook delivery is rejected.
func NewServer(cfg config.ServerConfig, st *store.Store, manager *controller.Manager) (*Server, error) {
	s := &Server{
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		store:   st,
		manager: manager,
	}

	if cfg.WebhookSecretFile != "" {
		secret, err := os.ReadFile(cfg.WebhookSecretFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read webhook secret: %w", err)
		}
		s.webhookSecret = []byte(strings.TrimSpace(string(secret)))
	}

	return s, nil
}

// Handler returns the route table. Split out so tests can drive it with
// httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /api/v1/applications", s.handleRegister)
	mux.HandleFunc("GET /api/v1/applications", s.handleList)
	mux.HandleFunc("GET /api/v1/applications/{name}", s.handleGet)
	mux.HandleFunc("PUT /api/v1/applications/{name}", s.handleUpdate)
	mux.HandleFunc("DELETE /api/v1/applications/{name}", s.handleDelete)
	mux.HandleFunc("POST /api/v1/applications/{name}/sync", s.handleSync)
	mux.HandleFunc("GET /api/v1/applications/{name}/status", s.handleStatus)

	mux.HandleFunc("POST /api/v1/webhook/github", s.handleGitHubWebhook)

	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("APIServer", "Listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logging.Info("APIServer", "Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logging.Warn("APIServer", "Failed to encode response: %v", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"running":     s.manager.IsRunning(),
		"queueLength": s.manager.QueueLength(),
	})
}

// validateSpec enforces the minimal contract before an Application enters
// the loop.
func validateSpec(app *v1alpha1.Application) error {
	if app.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if app.Spec.Source.RepoURL == "" {
		return fmt.Errorf("spec.source.repoURL is required")
	}
	if app.Spec.Source.Revision == "" {
		return fmt.Errorf("spec.source.revision is required")
	}
	return nil
}

func decodeApplication(r *http.Request) (*v1alpha1.Application, error) {
	var app v1alpha1.Application
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := decoder.Decode(&app); err != nil {
		return nil, fmt.Errorf("invalid application body: %w", err)
	}
	return &app, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	app, err := decodeApplication(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if err := validateSpec(app); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	if _, err := s.store.Get(app.Name); err == nil {
		writeError(w, http.StatusConflict, "application %q already exists", app.Name)
		return
	}

	// registration carries no status
	app.Status = v1alpha1.ApplicationStatus{}

	if err := s.store.Save(app); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	s.manager.ApplicationSaved(app)

	logging.Info("APIServer", "Registered application %s", app.Name)
	writeJSON(w, http.StatusCreated, app)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	apps, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if apps == nil {
		apps = []*v1alpha1.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	app, err := s.store.Get(r.PathValue("name"))
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "%v", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	existing, err := s.store.Get(name)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "%v", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	app, err := decodeApplication(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	app.Name = name
	if err := validateSpec(app); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	// spec updates must not wipe accumulated status
	app.Status = existing.Status

	if err := s.store.Save(app); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	s.manager.ApplicationSaved(app)

	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := s.store.Delete(name); err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "%v", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	s.manager.ApplicationDeleted(name)

	logging.Info("APIServer", "Deleted application %s", name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := s.manager.TriggerSync(name); err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "%v", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	logging.Info("APIServer", "Manual sync triggered for %s", name)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync triggered"})
}

// statusResponse combines persisted Application status with the manager's
// live loop state.
type statusResponse struct {
	Name      string                    `json:"name"`
	Sync      v1alpha1.SyncStatus       `json:"sync"`
	Health    v1alpha1.HealthStatus     `json:"health"`
	Resources []v1alpha1.ResourceStatus `json:"resources,omitempty"`
	LastSync  *v1alpha1.SyncResult      `json:"lastSync,omitempty"`
	Loop      *loopStatus               `json:"loop,omitempty"`
}

type loopStatus struct {
	State      controller.ReconcileState `json:"state"`
	LastError  string                    `json:"lastError,omitempty"`
	RetryCount int                       `json:"retryCount,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	app, err := s.store.Get(name)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "%v", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	resp := statusResponse{
		Name:      app.Name,
		Sync:      app.Status.Sync,
		Health:    app.Status.Health,
		Resources: app.Status.Resources,
	}
	if n := len(app.Status.History); n > 0 {
		resp.LastSync = &app.Status.History[n-1]
	}
	if loop, ok := s.manager.GetStatus(name); ok {
		resp.Loop = &loopStatus{
			State:      loop.State,
			LastError:  loop.LastError,
			RetryCount: loop.RetryCount,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
