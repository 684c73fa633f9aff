package cluster

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"driftsync/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.Init(logging.LevelError, io.Discard)
	os.Exit(m.Run())
}

// newFakeClientset builds a Clientset over the fake dynamic client, with
// list kinds registered for every kind the registry knows.
func newFakeClientset(t *testing.T, objs ...runtime.Object) *Clientset {
	t.Helper()

	registry := NewRegistry()
	listKinds := make(map[schema.GroupVersionResource]string)
	for _, gk := range registry.GroupKinds() {
		gvr, _ := registry.Resource(gk.WithVersion(""))
		listKinds[gvr] = gk.Kind + "List"
	}

	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), listKinds, objs...)
	return NewClientset(dyn, registry)
}

func newConfigMap(namespace, name string, labels map[string]string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{}
	obj.SetAPIVersion("v1")
	obj.SetKind("ConfigMap")
	obj.SetNamespace(namespace)
	obj.SetName(name)
	obj.SetLabels(labels)
	return obj
}

func TestListByLabelFiltersOwnership(t *testing.T) {
	owned := newConfigMap("default", "owned", map[string]string{"driftsync.io/application": "guestbook"})
	other := newConfigMap("default", "other", map[string]string{"driftsync.io/application": "unrelated"})
	unlabeled := newConfigMap("default", "unlabeled", nil)

	cs := newFakeClientset(t, owned, other, unlabeled)

	live, err := cs.ListByLabel(context.Background(), "default", "driftsync.io/application", "guestbook")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "owned", live[0].GetName())
}

func TestCreateGetUpdateDelete(t *testing.T) {
	cs := newFakeClientset(t)
	ctx := context.Background()

	obj := newConfigMap("default", "settings", map[string]string{"driftsync.io/application": "guestbook"})
	require.NoError(t, cs.Create(ctx, obj))

	got, err := cs.Get(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, "settings", got.GetName())

	require.NoError(t, unstructured.SetNestedField(got.Object, "on", "data", "feature"))
	require.NoError(t, cs.Update(ctx, got))

	got, err = cs.Get(ctx, obj)
	require.NoError(t, err)
	value, _, err := unstructured.NestedString(got.Object, "data", "feature")
	require.NoError(t, err)
	assert.Equal(t, "on", value)

	require.NoError(t, cs.Delete(ctx, obj))
	_, err = cs.Get(ctx, obj)
	assert.True(t, apierrors.IsNotFound(err))
}

func TestDeleteAbsentResourceSucceeds(t *testing.T) {
	cs := newFakeClientset(t)

	obj := newConfigMap("default", "never-existed", nil)
	assert.NoError(t, cs.Delete(context.Background(), obj))
}

func TestListByLabelReturnsStableOrder(t *testing.T) {
	labels := map[string]string{"driftsync.io/application": "guestbook"}
	a := newConfigMap("default", "alpha", labels)
	b := newConfigMap("default", "beta", labels)

	svc := &unstructured.Unstructured{}
	svc.SetAPIVersion("v1")
	svc.SetKind("Service")
	svc.SetNamespace("default")
	svc.SetName("web")
	svc.SetLabels(labels)

	cs := newFakeClientset(t, b, svc, a)

	live, err := cs.ListByLabel(context.Background(), "default", "driftsync.io/application", "guestbook")
	require.NoError(t, err)
	require.Len(t, live, 3)

	names := []string{live[0].GetName(), live[1].GetName(), live[2].GetName()}
	assert.Equal(t, []string{"alpha", "beta", "web"}, names)
}
