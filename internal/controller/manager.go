package controller

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	sigsyaml "sigs.k8s.io/yaml"

	"driftsync/internal/dserrors"
	"driftsync/internal/source"
	"driftsync/internal/store"
	"driftsync/pkg/apis/driftsync/v1alpha1"
	"driftsync/pkg/logging"
)

// ManagerConfig tunes the reconciliation loop.
type ManagerConfig struct {
	// Workers is the number of concurrent reconcile workers. Per-app
	// serialization is enforced by the queue, not by the worker count.
	Workers int

	// MaxRetries bounds backoff retries before an Application is parked
	// in StateFailed.
	MaxRetries int

	// InitialBackoff is the first retry delay; it doubles per attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration

	// ReconcileTimeout bounds a single pass.
	ReconcileTimeout time.Duration

	// ResyncInterval is how often every Application is re-reconciled even
	// without a detected change. This is what notices cluster drift.
	ResyncInterval time.Duration
}

// Manager owns the reconcile loop: it feeds the work queue from source
// change events, application file edits, manual triggers and the periodic
// resync, and runs the worker pool with retry and backoff.
type Manager struct {
	mu sync.RWMutex

	config     ManagerConfig
	reconciler *Reconciler
	store      *store.Store
	tracker    *source.Tracker
	watcher    *store.Watcher

	queue         *delayedQueue
	statusTracker map[string]*ReconcileStatus
	fileChanges   chan store.ChangeEvent

	// specHashes distinguishes spec edits from the controller's own
	// status writes, which also touch the files the watcher sees.
	specHashes map[string]string

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

// NewManager assembles the manager. Zero config fields get defaults.
func NewManager(config ManagerConfig, reconciler *Reconciler, st *store.Store, tracker *source.Tracker, watcher *store.Watcher) *Manager {
	if config.Workers == 0 {
		config.Workers = 2
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 5
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 5 * time.Minute
	}
	if config.ReconcileTimeout == 0 {
		config.ReconcileTimeout = time.Minute
	}
	if config.ResyncInterval == 0 {
		config.ResyncInterval = 3 * time.Minute
	}

	return &Manager{
		config:        config,
		reconciler:    reconciler,
		store:         st,
		tracker:       tracker,
		watcher:       watcher,
		queue:         newDelayedQueue(),
		statusTracker: make(map[string]*ReconcileStatus),
		fileChanges:   make(chan store.ChangeEvent, 100),
		specHashes:    make(map[string]string),
	}
}

// Start begins reconciliation: every stored Application is tracked and
// queued, then the event loops and workers run until ctx is cancelled or
// Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.ctx, m.cancelFunc = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	apps, err := m.store.List()
	if err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return fmt.Errorf("failed to load applications: %w", err)
	}
	for _, app := range apps {
		m.tracker.Track(app.Name, app.Spec.Source.RepoURL, app.Spec.Source.Revision)
		m.rememberSpec(app)
		m.enqueue(app.Name, ReasonStartup)
	}

	if m.watcher != nil {
		if err := m.watcher.Start(m.ctx, m.fileChanges); err != nil {
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return fmt.Errorf("failed to start application watcher: %w", err)
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.tracker.Start(m.ctx); err != nil && m.ctx.Err() == nil {
			logging.Error("Controller", err, "Source tracker stopped unexpectedly")
		}
	}()

	m.wg.Add(1)
	go m.processSourceEvents()

	m.wg.Add(1)
	go m.processFileEvents()

	m.wg.Add(1)
	go m.resyncLoop()

	for i := 0; i < m.config.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	logging.Info("Controller", "Started with %d workers, resync every %v (%d applications)",
		m.config.Workers, m.config.ResyncInterval, len(apps))
	return nil
}

// Stop shuts the loop down and waits for in-flight passes.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	logging.Info("Controller", "Stopping...")

	if m.cancelFunc != nil {
		m.cancelFunc()
	}
	m.queue.Shutdown()
	m.wg.Wait()

	logging.Info("Controller", "Stopped")
}

// TriggerSync queues a manual, policy-overriding sync for one Application.
func (m *Manager) TriggerSync(name string) error {
	if _, err := m.store.Get(name); err != nil {
		return err
	}
	m.enqueue(name, ReasonManual)
	return nil
}

// ApplicationSaved tells the manager an Application was created or updated
// through the API, so tracking and a reconcile start without waiting for
// the file watcher.
func (m *Manager) ApplicationSaved(app *v1alpha1.Application) {
	m.tracker.Track(app.Name, app.Spec.Source.RepoURL, app.Spec.Source.Revision)
	m.rememberSpec(app)
	m.enqueue(app.Name, ReasonFileChange)
}

// ApplicationDeleted drops tracking state for a removed Application.
func (m *Manager) ApplicationDeleted(name string) {
	m.tracker.Forget(name)

	m.mu.Lock()
	delete(m.statusTracker, name)
	delete(m.specHashes, name)
	m.mu.Unlock()
}

// rememberSpec stores the spec hash and reports whether it changed.
func (m *Manager) rememberSpec(app *v1alpha1.Application) bool {
	data, err := sigsyaml.Marshal(app.Spec)
	if err != nil {
		return true
	}
	hash := fmt.Sprintf("%x", sha256.Sum256(data))

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.specHashes[app.Name] == hash {
		return false
	}
	m.specHashes[app.Name] = hash
	return true
}

// RefreshRepo forces an immediate probe of every Application tracking the
// given repository and returns how many matched. Webhook delivery calls
// this to beat the poll interval.
func (m *Manager) RefreshRepo(repoURL string) int {
	return m.tracker.RefreshRepo(repoURL)
}

// GetStatus returns the loop state for one Application.
func (m *Manager) GetStatus(name string) (ReconcileStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statusTracker[name]
	if !ok {
		return ReconcileStatus{}, false
	}
	return *status, true
}

// GetAllStatuses returns the loop state of every known Application.
func (m *Manager) GetAllStatuses() []ReconcileStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ReconcileStatus, 0, len(m.statusTracker))
	for _, status := range m.statusTracker {
		statuses = append(statuses, *status)
	}
	return statuses
}

// QueueLength reports pending requests, used by the health endpoint.
func (m *Manager) QueueLength() int {
	return m.queue.Len()
}

// IsRunning reports whether the loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) enqueue(name string, reason ReconcileReason) {
	m.updateStatus(name, StatePending, "")
	m.queue.Add(ReconcileRequest{Name: name, Reason: reason, Attempt: 1})
}

// processSourceEvents turns tracker change events into reconcile requests.
// Probe failures mark the Application as errored right away; retrying is
// left to the tracker's own backoff, since a pass would hit the same error.
func (m *Manager) processSourceEvents() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-m.tracker.Events():
			if !ok {
				return
			}
			if event.Err != nil {
				logging.Warn("Controller", "Source probe for %s failed: %v", event.AppName, event.Err)
				m.recordProbeFailure(event.AppName, event.Err)
				continue
			}
			logging.Info("Controller", "New revision %s for application %s", event.Revision, event.AppName)
			m.enqueue(event.AppName, ReasonSourceChange)
		}
	}
}

// recordProbeFailure surfaces a source probe error on the Application without
// waiting for the next reconcile pass to hit it.
func (m *Manager) recordProbeFailure(name string, cause error) {
	sanitized := dserrors.SanitizeErrorMessage(cause.Error())
	m.updateStatus(name, StateError, sanitized)

	if _, err := m.store.UpdateStatus(name, func(status *v1alpha1.ApplicationStatus) {
		status.Sync.Status = v1alpha1.SyncStatusError
		apimeta.SetStatusCondition(&status.Conditions, metav1.Condition{
			Type:    conditionReady,
			Status:  metav1.ConditionFalse,
			Reason:  "SourceUnavailable",
			Message: sanitized,
		})
	}); err != nil && !store.IsNotFound(err) {
		logging.Warn("Controller", "Failed to record probe error on %s: %v", name, err)
	}
}

// processFileEvents reacts to direct edits of the apps/ directory.
func (m *Manager) processFileEvents() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-m.fileChanges:
			if !ok {
				return
			}
			switch event.Operation {
			case store.OperationDelete:
				logging.Info("Controller", "Application file %s removed", event.Name)
				m.ApplicationDeleted(event.Name)
			default:
				app, err := m.store.Get(event.Name)
				if err != nil {
					logging.Warn("Controller", "Changed file for %s is unreadable: %v", event.Name, err)
					continue
				}
				// our own status writes touch the file too; only spec
				// changes warrant a reconcile
				if !m.rememberSpec(app) {
					continue
				}
				logging.Info("Controller", "Application %s changed on disk", event.Name)
				m.enqueue(event.Name, ReasonFileChange)
			}
		}
	}
}

// resyncLoop periodically requeues every Application so drift is noticed
// even when no change event fires.
func (m *Manager) resyncLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			apps, err := m.store.List()
			if err != nil {
				logging.Warn("Controller", "Resync listing failed: %v", err)
				continue
			}
			for _, app := range apps {
				m.enqueue(app.Name, ReasonResync)
			}
		}
	}
}

func (m *Manager) worker(id int) {
	defer m.wg.Done()

	logging.Debug("Controller", "Worker %d started", id)

	for {
		req, ok := m.queue.Get(m.ctx)
		if !ok {
			logging.Debug("Controller", "Worker %d shutting down", id)
			return
		}

		m.processRequest(req)
		m.queue.Done(req)
	}
}

func (m *Manager) processRequest(req ReconcileRequest) {
	m.updateStatus(req.Name, StateReconciling, "")

	logging.Debug("Controller", "Reconciling %s (reason %s, attempt %d)", req.Name, req.Reason, req.Attempt)

	ctx, cancel := context.WithTimeout(m.ctx, m.config.ReconcileTimeout)
	defer cancel()

	result := m.reconciler.Reconcile(ctx, req)

	if ctx.Err() == context.DeadlineExceeded && result.Error == nil {
		result.Error = fmt.Errorf("reconciliation timed out after %v", m.config.ReconcileTimeout)
	}

	if result.Error != nil {
		m.handleError(req, result.Error)
		return
	}

	m.updateStatus(req.Name, StateSynced, "")
}

// handleError schedules a backoff retry for transient failures. Render
// validation errors are not retried: the manifests are broken and only a
// new commit fixes them.
func (m *Manager) handleError(req ReconcileRequest, cause error) {
	sanitized := dserrors.SanitizeErrorMessage(cause.Error())

	if dserrors.IsRenderValidation(cause) {
		logging.Warn("Controller", "Validation failed for %s, waiting for a new revision: %v", req.Name, cause)
		m.updateStatus(req.Name, StateError, sanitized)
		return
	}

	if req.Attempt >= m.config.MaxRetries {
		logging.Error("Controller", cause, "Giving up on %s after %d attempts", req.Name, req.Attempt)
		m.updateStatus(req.Name, StateFailed, sanitized)
		return
	}

	m.updateStatus(req.Name, StateError, sanitized)

	backoff := m.calculateBackoff(req.Attempt)
	req.Attempt++
	m.queue.AddAfter(req, backoff)

	logging.Debug("Controller", "Requeuing %s after %v (attempt %d)", req.Name, backoff, req.Attempt)
}

// calculateBackoff doubles per attempt up to the cap.
func (m *Manager) calculateBackoff(attempt int) time.Duration {
	backoff := m.config.InitialBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > m.config.MaxBackoff || backoff <= 0 {
		backoff = m.config.MaxBackoff
	}
	return backoff
}

func (m *Manager) updateStatus(name string, state ReconcileState, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statusTracker[name]
	if !ok {
		status = &ReconcileStatus{Name: name}
		m.statusTracker[name] = status
	}

	status.State = state
	status.LastError = errMsg

	switch state {
	case StateSynced:
		now := time.Now()
		status.LastReconcileTime = &now
		status.RetryCount = 0
	case StateError:
		status.RetryCount++
	}
}
