package source

import (
	"context"
	"sync"
	"time"

	"driftsync/internal/dserrors"
	"driftsync/pkg/logging"
)

// ChangeEvent is emitted when a tracked source resolves to a new commit, or
// when probing the source failed.
type ChangeEvent struct {
	// AppName is the Application whose source changed.
	AppName string

	// Revision is the resolved commit hash. Empty when Err is set.
	Revision string

	// Err is the probe failure, classified as SourceUnavailable.
	Err error

	// Timestamp is when the change was detected.
	Timestamp time.Time
}

// trackedSource is the per-Application polling state.
type trackedSource struct {
	repoURL  string
	revision string

	// lastSeen is the last commit hash emitted to consumers.
	lastSeen string

	failCount   int
	nextProbeAt time.Time
}

// Tracker polls the configured repositories at a bounded interval and emits
// a change event only when a resolved commit hash differs from the last one
// seen. Probe failures back off exponentially per source and never stop the
// tracker.
type Tracker struct {
	mu sync.Mutex

	client         RepoClient
	interval       time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	probeTimeout   time.Duration

	entries map[string]*trackedSource
	events  chan ChangeEvent

	// kick wakes the poll loop early after Track or Refresh.
	kick chan struct{}
}

// NewTracker creates a tracker polling at the given interval.
func NewTracker(client RepoClient, interval, initialBackoff, maxBackoff time.Duration) *Tracker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Minute
	}

	return &Tracker{
		client:         client,
		interval:       interval,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		probeTimeout:   30 * time.Second,
		entries:        make(map[string]*trackedSource),
		events:         make(chan ChangeEvent, 100),
		kick:           make(chan struct{}, 1),
	}
}

// Events returns the channel change events are delivered on.
func (t *Tracker) Events() <-chan ChangeEvent {
	return t.events
}

// Track registers or updates the source for an Application. Changing the
// repository or revision resets the change detection state so the next probe
// emits an event.
func (t *Tracker) Track(appName, repoURL, revision string) {
	t.mu.Lock()
	entry, ok := t.entries[appName]
	if !ok || entry.repoURL != repoURL || entry.revision != revision {
		t.entries[appName] = &trackedSource{
			repoURL:  repoURL,
			revision: revision,
		}
	}
	t.mu.Unlock()

	t.wake()
}

// Forget stops tracking an Application's source.
func (t *Tracker) Forget(appName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, appName)
}

// MarkProcessed records the commit hash a consumer has fully processed, so a
// probe resolving to the same hash stays silent.
func (t *Tracker) MarkProcessed(appName, commit string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[appName]; ok {
		entry.lastSeen = commit
	}
}

// RefreshRepo forces an immediate probe of every Application tracking the
// given repository URL. Used by the push-event webhook.
func (t *Tracker) RefreshRepo(repoURL string) int {
	t.mu.Lock()
	matched := 0
	for _, entry := range t.entries {
		if entry.repoURL == repoURL {
			entry.nextProbeAt = time.Time{}
			matched++
		}
	}
	t.mu.Unlock()

	if matched > 0 {
		t.wake()
	}
	return matched
}

// Start runs the poll loop until the context is cancelled.
func (t *Tracker) Start(ctx context.Context) error {
	logging.Info("SourceTracker", "Started polling every %v", t.interval)

	for {
		t.probeDue(ctx)

		select {
		case <-ctx.Done():
			logging.Info("SourceTracker", "Stopped")
			return ctx.Err()
		case <-t.kick:
		case <-time.After(t.interval):
		}
	}
}

// probeDue probes every entry whose next probe time has passed.
func (t *Tracker) probeDue(ctx context.Context) {
	now := time.Now()

	t.mu.Lock()
	due := make(map[string]trackedSource)
	for name, entry := range t.entries {
		if !entry.nextProbeAt.After(now) {
			due[name] = *entry
		}
	}
	t.mu.Unlock()

	for name, snapshot := range due {
		if ctx.Err() != nil {
			return
		}
		t.probe(ctx, name, snapshot)
	}
}

// probe resolves one source and updates its state under the lock.
func (t *Tracker) probe(ctx context.Context, appName string, snapshot trackedSource) {
	probeCtx, cancel := context.WithTimeout(ctx, t.probeTimeout)
	defer cancel()

	commit, err := t.client.ResolveRevision(probeCtx, snapshot.repoURL, snapshot.revision)

	t.mu.Lock()
	entry, ok := t.entries[appName]
	if !ok || entry.repoURL != snapshot.repoURL || entry.revision != snapshot.revision {
		// Entry was forgotten or retargeted while probing.
		t.mu.Unlock()
		return
	}

	if err != nil {
		entry.failCount++
		backoff := t.backoff(entry.failCount)
		entry.nextProbeAt = time.Now().Add(backoff)
		t.mu.Unlock()

		logging.Warn("SourceTracker", "Probe failed for %s (%s@%s), next attempt in %v: %v",
			appName, snapshot.repoURL, snapshot.revision, backoff, err)
		t.emit(ChangeEvent{
			AppName:   appName,
			Err:       &dserrors.SourceUnavailableError{RepoURL: snapshot.repoURL, Err: err},
			Timestamp: time.Now(),
		})
		return
	}

	entry.failCount = 0
	entry.nextProbeAt = time.Now().Add(t.interval)

	changed := commit != entry.lastSeen
	if changed {
		entry.lastSeen = commit
	}
	t.mu.Unlock()

	if changed {
		logging.Debug("SourceTracker", "Detected new commit %s for %s", commit, appName)
		t.emit(ChangeEvent{
			AppName:   appName,
			Revision:  commit,
			Timestamp: time.Now(),
		})
	}
}

// backoff computes the capped exponential probe backoff.
func (t *Tracker) backoff(failCount int) time.Duration {
	backoff := t.initialBackoff * time.Duration(1<<uint(failCount-1))
	if backoff > t.maxBackoff || backoff <= 0 {
		backoff = t.maxBackoff
	}
	return backoff
}

// emit sends an event without blocking the poll loop.
func (t *Tracker) emit(event ChangeEvent) {
	select {
	case t.events <- event:
	default:
		logging.Warn("SourceTracker", "Event channel full, dropping event for %s", event.AppName)
	}
}

// wake nudges the poll loop without waiting out the interval.
func (t *Tracker) wake() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}
