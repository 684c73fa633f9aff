package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestRegistryBuiltinKinds(t *testing.T) {
	r := NewRegistry()

	gvr, namespaced := r.Resource(schema.GroupVersionKind{Group: "apps", Version: "v1", Kind: "Deployment"})
	assert.Equal(t, schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}, gvr)
	assert.True(t, namespaced)

	gvr, namespaced = r.Resource(schema.GroupVersionKind{Group: "", Kind: "Namespace"})
	assert.Equal(t, "namespaces", gvr.Resource)
	assert.Equal(t, "v1", gvr.Version, "preferred version applies when gvk has none")
	assert.False(t, namespaced)
}

func TestRegistryUnknownKindFallsBackToPluralization(t *testing.T) {
	r := NewRegistry()

	gvk := schema.GroupVersionKind{Group: "example.com", Version: "v1", Kind: "Widget"}
	assert.False(t, r.Known(gvk.GroupKind()))

	gvr, namespaced := r.Resource(gvk)
	assert.Equal(t, "widgets", gvr.Resource)
	assert.True(t, namespaced)
}

func TestRegistryRegisterCustomResource(t *testing.T) {
	r := NewRegistry()
	gk := schema.GroupKind{Group: "example.com", Kind: "Gateway"}

	r.Register(gk, "gateways", "v1beta1", false)

	assert.True(t, r.Known(gk))
	gvr, namespaced := r.Resource(gk.WithVersion(""))
	assert.Equal(t, "v1beta1", gvr.Version)
	assert.False(t, namespaced)
}

func TestPluralize(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{"Widget", "widgets"},
		{"Ingress", "ingresses"},
		{"NetworkPolicy", "networkpolicies"},
		{"Branch", "branches"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, pluralize(tt.kind))
	}
}

func TestResourceKeyString(t *testing.T) {
	obj := &unstructured.Unstructured{}
	obj.SetAPIVersion("apps/v1")
	obj.SetKind("Deployment")
	obj.SetNamespace("prod")
	obj.SetName("web")

	key := KeyFor(obj)
	assert.Equal(t, ResourceKey{Group: "apps", Kind: "Deployment", Namespace: "prod", Name: "web"}, key)
	assert.Equal(t, "apps/Deployment prod/web", key.String())

	clusterScoped := ResourceKey{Group: "", Kind: "Namespace", Name: "prod"}
	assert.Equal(t, "/Namespace prod", clusterScoped.String())
}
