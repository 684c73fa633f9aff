package source

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"driftsync/internal/dserrors"
	"driftsync/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.Init(logging.LevelError, io.Discard)
	os.Exit(m.Run())
}

// fakeRepoClient resolves revisions from an in-memory map.
type fakeRepoClient struct {
	mu      sync.Mutex
	commits map[string]string // url@revision -> commit
	err     error
	probes  int
}

func (f *fakeRepoClient) setCommit(url, revision, commit string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commits == nil {
		f.commits = make(map[string]string)
	}
	f.commits[url+"@"+revision] = commit
}

func (f *fakeRepoClient) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRepoClient) ResolveRevision(_ context.Context, url, revision string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	if f.err != nil {
		return "", f.err
	}
	commit, ok := f.commits[url+"@"+revision]
	if !ok {
		return "", errors.New("revision not found")
	}
	return commit, nil
}

func (f *fakeRepoClient) EnsureCheckout(_ context.Context, url, revision, _ string) (string, error) {
	return f.ResolveRevision(context.Background(), url, revision)
}

func waitForEvent(t *testing.T, events <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return ChangeEvent{}
	}
}

func TestTrackerEmitsOnNewCommit(t *testing.T) {
	client := &fakeRepoClient{}
	client.setCommit("https://example.com/repo.git", "main", "commit-1")

	tracker := NewTracker(client, 10*time.Millisecond, time.Millisecond, time.Second)
	tracker.Track("guestbook", "https://example.com/repo.git", "main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tracker.Start(ctx) }()

	event := waitForEvent(t, tracker.Events())
	if event.AppName != "guestbook" || event.Revision != "commit-1" {
		t.Errorf("unexpected event: %+v", event)
	}

	// Same commit again: no further events.
	select {
	case event := <-tracker.Events():
		t.Errorf("unexpected event for unchanged commit: %+v", event)
	case <-time.After(100 * time.Millisecond):
	}

	// New commit: one more event.
	client.setCommit("https://example.com/repo.git", "main", "commit-2")
	event = waitForEvent(t, tracker.Events())
	if event.Revision != "commit-2" {
		t.Errorf("expected commit-2, got %+v", event)
	}
}

func TestTrackerEmitsSourceUnavailableOnFailure(t *testing.T) {
	client := &fakeRepoClient{}
	client.setError(errors.New("connection refused"))

	tracker := NewTracker(client, 10*time.Millisecond, time.Millisecond, time.Second)
	tracker.Track("guestbook", "https://example.com/repo.git", "main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tracker.Start(ctx) }()

	event := waitForEvent(t, tracker.Events())
	if event.Err == nil {
		t.Fatalf("expected error event, got %+v", event)
	}
	if !dserrors.Transient(event.Err) {
		t.Errorf("probe failure should classify as transient, got %v", event.Err)
	}
}

func TestTrackerForget(t *testing.T) {
	client := &fakeRepoClient{}
	client.setCommit("https://example.com/repo.git", "main", "commit-1")

	tracker := NewTracker(client, 10*time.Millisecond, time.Millisecond, time.Second)
	tracker.Track("guestbook", "https://example.com/repo.git", "main")
	tracker.Forget("guestbook")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tracker.Start(ctx) }()

	select {
	case event := <-tracker.Events():
		t.Errorf("unexpected event after Forget: %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTrackerRefreshRepo(t *testing.T) {
	client := &fakeRepoClient{}
	tracker := NewTracker(client, time.Hour, time.Millisecond, time.Second)
	tracker.Track("a", "https://example.com/one.git", "main")
	tracker.Track("b", "https://example.com/one.git", "dev")
	tracker.Track("c", "https://example.com/other.git", "main")

	if got := tracker.RefreshRepo("https://example.com/one.git"); got != 2 {
		t.Errorf("RefreshRepo matched %d entries, want 2", got)
	}
	if got := tracker.RefreshRepo("https://example.com/unknown.git"); got != 0 {
		t.Errorf("RefreshRepo matched %d entries, want 0", got)
	}
}

func TestTrackerRetargetResetsState(t *testing.T) {
	client := &fakeRepoClient{}
	client.setCommit("https://example.com/repo.git", "main", "commit-1")
	client.setCommit("https://example.com/repo.git", "dev", "commit-1")

	tracker := NewTracker(client, 10*time.Millisecond, time.Millisecond, time.Second)
	tracker.Track("guestbook", "https://example.com/repo.git", "main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tracker.Start(ctx) }()

	waitForEvent(t, tracker.Events())

	// Retargeting to another revision re-emits even though the commit hash
	// happens to be identical.
	tracker.Track("guestbook", "https://example.com/repo.git", "dev")
	event := waitForEvent(t, tracker.Events())
	if event.Revision != "commit-1" {
		t.Errorf("unexpected event after retarget: %+v", event)
	}
}
