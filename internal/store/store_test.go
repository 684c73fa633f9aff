package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"driftsync/pkg/apis/driftsync/v1alpha1"
)

func testApp(name string) *v1alpha1.Application {
	return &v1alpha1.Application{
		TypeMeta: metav1.TypeMeta{
			APIVersion: v1alpha1.GroupVersion.String(),
			Kind:       "Application",
		},
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: v1alpha1.ApplicationSpec{
			Source: v1alpha1.ApplicationSource{
				RepoURL:  "https://github.com/example/manifests.git",
				Revision: "main",
				Path:     "apps/" + name,
			},
			Destination: v1alpha1.ApplicationDestination{Namespace: name},
		},
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	require.NoError(t, s.Save(testApp("frontend")))

	got, err := s.Get("frontend")
	require.NoError(t, err)
	assert.Equal(t, "frontend", got.Name)
	assert.Equal(t, "https://github.com/example/manifests.git", got.Spec.Source.RepoURL)
	assert.Equal(t, "apps/frontend", got.Spec.Source.Path)
}

func TestGetMissingApplication(t *testing.T) {
	s := NewStore(t.TempDir())

	_, err := s.Get("absent")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestListSortedAndSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	require.NoError(t, s.Save(testApp("zeta")))
	require.NoError(t, s.Save(testApp("alpha")))

	// a malformed file must not hide the valid ones
	bad := filepath.Join(s.Dir(), "broken.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("spec: [unclosed"), 0644))

	apps, err := s.List()
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "alpha", apps[0].Name)
	assert.Equal(t, "zeta", apps[1].Name)
}

func TestListEmptyWhenDirectoryMissing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nonexistent"))

	apps, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestDelete(t *testing.T) {
	s := NewStore(t.TempDir())

	require.NoError(t, s.Save(testApp("frontend")))
	require.NoError(t, s.Delete("frontend"))

	_, err := s.Get("frontend")
	assert.True(t, IsNotFound(err))

	err = s.Delete("frontend")
	assert.True(t, IsNotFound(err))
}

func TestUpdateStatusPersists(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Save(testApp("frontend")))

	_, err := s.UpdateStatus("frontend", func(status *v1alpha1.ApplicationStatus) {
		status.Sync.Status = v1alpha1.SyncStatusSynced
		status.Sync.Revision = "abc123"
		status.Health.Status = v1alpha1.HealthHealthy
	})
	require.NoError(t, err)

	got, err := s.Get("frontend")
	require.NoError(t, err)
	assert.Equal(t, v1alpha1.SyncStatusSynced, got.Status.Sync.Status)
	assert.Equal(t, "abc123", got.Status.Sync.Revision)
	assert.Equal(t, v1alpha1.HealthHealthy, got.Status.Health.Status)
}

func TestNameMissingInFileDefaultsToFilename(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.MkdirAll(s.Dir(), 0755))

	raw := []byte("spec:\n  source:\n    repoURL: https://github.com/example/manifests.git\n    revision: main\n")
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "implicit.yaml"), raw, 0644))

	got, err := s.Get("implicit")
	require.NoError(t, err)
	assert.Equal(t, "implicit", got.Name)
}

func TestWatcherEmitsDebouncedEvents(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.MkdirAll(s.Dir(), 0755))

	w := NewWatcher(s, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan ChangeEvent, 10)
	require.NoError(t, w.Start(ctx, changes))

	require.NoError(t, s.Save(testApp("frontend")))

	select {
	case event := <-changes:
		assert.Equal(t, "frontend", event.Name)
		assert.Equal(t, OperationUpsert, event.Operation)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestWatcherReportsDeletes(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Save(testApp("frontend")))

	w := NewWatcher(s, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan ChangeEvent, 10)
	require.NoError(t, w.Start(ctx, changes))

	require.NoError(t, s.Delete("frontend"))

	select {
	case event := <-changes:
		assert.Equal(t, "frontend", event.Name)
		assert.Equal(t, OperationDelete, event.Operation)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestWatcherIgnoresNonYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.MkdirAll(s.Dir(), 0755))

	w := NewWatcher(s, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan ChangeEvent, 10)
	require.NoError(t, w.Start(ctx, changes))

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "README.md"), []byte("docs"), 0644))

	select {
	case event := <-changes:
		t.Fatalf("unexpected event for non-YAML file: %+v", event)
	case <-time.After(300 * time.Millisecond):
	}
}
