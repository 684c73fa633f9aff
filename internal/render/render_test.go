package render

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftsync/internal/cluster"
	"driftsync/internal/dserrors"
	v1alpha1 "driftsync/pkg/apis/driftsync/v1alpha1"
	"driftsync/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.Init(logging.LevelError, io.Discard)
	os.Exit(m.Run())
}

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func newRenderer() *Renderer {
	return NewRenderer(cluster.NewRegistry())
}

func TestRenderStampsOwnershipAndNamespace(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "cm.yaml", `
apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
data:
  key: value
`)

	resources, err := newRenderer().Render(dir, "guestbook", "prod")
	require.NoError(t, err)
	require.Len(t, resources, 1)

	obj := resources[0]
	assert.Equal(t, "guestbook", obj.GetLabels()[v1alpha1.OwnershipLabel])
	assert.Equal(t, "prod", obj.GetNamespace())
}

func TestRenderKeepsExplicitNamespace(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "cm.yaml", `
apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
  namespace: explicit
`)

	resources, err := newRenderer().Render(dir, "guestbook", "prod")
	require.NoError(t, err)
	assert.Equal(t, "explicit", resources[0].GetNamespace())
}

func TestRenderClusterScopedKindSkipsNamespaceDefault(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "ns.yaml", `
apiVersion: v1
kind: Namespace
metadata:
  name: guestbook
`)

	resources, err := newRenderer().Render(dir, "guestbook", "prod")
	require.NoError(t, err)
	assert.Empty(t, resources[0].GetNamespace())
}

func TestRenderMultiDocument(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "all.yaml", `
apiVersion: v1
kind: ConfigMap
metadata:
  name: first
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
spec:
  replicas: 2
---
`)

	resources, err := newRenderer().Render(dir, "guestbook", "default")
	require.NoError(t, err)
	assert.Len(t, resources, 2)
}

func TestRenderDeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "b.yaml", `
apiVersion: v1
kind: Service
metadata:
  name: web
`)
	writeManifest(t, dir, "a.yaml", `
apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
`)

	first, err := newRenderer().Render(dir, "guestbook", "default")
	require.NoError(t, err)
	second, err := newRenderer().Render(dir, "guestbook", "default")
	require.NoError(t, err)

	require.Len(t, first, 2)
	for i := range first {
		assert.Equal(t, cluster.KeyFor(first[i]), cluster.KeyFor(second[i]))
	}
}

func TestRenderRejectsMissingKind(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "bad.yaml", `
apiVersion: v1
metadata:
  name: nameless
`)

	_, err := newRenderer().Render(dir, "guestbook", "default")
	require.Error(t, err)
	assert.True(t, dserrors.IsRenderValidation(err))
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestRenderRejectsUnknownBuiltinKind(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "typo.yaml", `
apiVersion: apps/v1
kind: Deploymnet
metadata:
  name: web
`)

	_, err := newRenderer().Render(dir, "guestbook", "default")
	require.Error(t, err)
	assert.True(t, dserrors.IsRenderValidation(err))
}

func TestRenderAcceptsCustomResource(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "cr.yaml", `
apiVersion: example.com/v1
kind: Widget
metadata:
  name: one
`)

	resources, err := newRenderer().Render(dir, "guestbook", "default")
	require.NoError(t, err)
	assert.Len(t, resources, 1)
}

func TestRenderRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "one.yaml", `
apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
`)
	writeManifest(t, dir, "two.yaml", `
apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
`)

	_, err := newRenderer().Render(dir, "guestbook", "default")
	require.Error(t, err)
	assert.True(t, dserrors.IsRenderValidation(err))
	assert.Contains(t, err.Error(), "duplicate")
}

func TestRenderNothingOnValidationError(t *testing.T) {
	// One bad manifest fails the whole render, even when others are fine.
	dir := t.TempDir()
	writeManifest(t, dir, "good.yaml", `
apiVersion: v1
kind: ConfigMap
metadata:
  name: good
`)
	writeManifest(t, dir, "zbad.yaml", `
apiVersion: v1
kind: ConfigMap
metadata: {}
`)

	resources, err := newRenderer().Render(dir, "guestbook", "default")
	require.Error(t, err)
	assert.Nil(t, resources)
}

func TestRenderSkipsHiddenDirectories(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "cm.yaml", `
apiVersion: v1
kind: ConfigMap
metadata:
  name: visible
`)
	writeManifest(t, filepath.Join(dir, ".git"), "config.yaml", "not: a manifest")

	resources, err := newRenderer().Render(dir, "guestbook", "default")
	require.NoError(t, err)
	assert.Len(t, resources, 1)
}
