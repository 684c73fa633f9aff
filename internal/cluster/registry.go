package cluster

import (
	"strings"
	"sync"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// kindInfo records how a kind maps onto the REST surface.
type kindInfo struct {
	resource   string
	version    string
	namespaced bool
}

// Registry maps group/kinds to their REST resource names, preferred versions
// and scope. It seeds the common built-in kinds and accepts registrations
// for custom resources.
//
// Unknown kinds fall back to a naive lowercase pluralization, which covers
// most custom resources without requiring discovery access.
type Registry struct {
	mu    sync.RWMutex
	kinds map[schema.GroupKind]kindInfo
}

// NewRegistry creates a registry seeded with the built-in Kubernetes kinds
// the diff and sync stages are expected to handle.
func NewRegistry() *Registry {
	r := &Registry{kinds: make(map[schema.GroupKind]kindInfo)}

	builtin := []struct {
		group      string
		kind       string
		resource   string
		version    string
		namespaced bool
	}{
		{"", "Namespace", "namespaces", "v1", false},
		{"", "ServiceAccount", "serviceaccounts", "v1", true},
		{"", "ConfigMap", "configmaps", "v1", true},
		{"", "Secret", "secrets", "v1", true},
		{"", "PersistentVolume", "persistentvolumes", "v1", false},
		{"", "PersistentVolumeClaim", "persistentvolumeclaims", "v1", true},
		{"", "Service", "services", "v1", true},
		{"", "Pod", "pods", "v1", true},
		{"", "LimitRange", "limitranges", "v1", true},
		{"", "ResourceQuota", "resourcequotas", "v1", true},
		{"apps", "Deployment", "deployments", "v1", true},
		{"apps", "StatefulSet", "statefulsets", "v1", true},
		{"apps", "DaemonSet", "daemonsets", "v1", true},
		{"apps", "ReplicaSet", "replicasets", "v1", true},
		{"batch", "Job", "jobs", "v1", true},
		{"batch", "CronJob", "cronjobs", "v1", true},
		{"networking.k8s.io", "Ingress", "ingresses", "v1", true},
		{"networking.k8s.io", "NetworkPolicy", "networkpolicies", "v1", true},
		{"rbac.authorization.k8s.io", "Role", "roles", "v1", true},
		{"rbac.authorization.k8s.io", "RoleBinding", "rolebindings", "v1", true},
		{"rbac.authorization.k8s.io", "ClusterRole", "clusterroles", "v1", false},
		{"rbac.authorization.k8s.io", "ClusterRoleBinding", "clusterrolebindings", "v1", false},
		{"autoscaling", "HorizontalPodAutoscaler", "horizontalpodautoscalers", "v2", true},
		{"policy", "PodDisruptionBudget", "poddisruptionbudgets", "v1", true},
		{"apiextensions.k8s.io", "CustomResourceDefinition", "customresourcedefinitions", "v1", false},
	}

	for _, b := range builtin {
		r.kinds[schema.GroupKind{Group: b.group, Kind: b.kind}] = kindInfo{
			resource:   b.resource,
			version:    b.version,
			namespaced: b.namespaced,
		}
	}

	return r
}

// Register adds or overrides the mapping for a kind, typically a custom
// resource whose scope is known to the operator.
func (r *Registry) Register(gk schema.GroupKind, resource, version string, namespaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[gk] = kindInfo{resource: resource, version: version, namespaced: namespaced}
}

// Resource returns the GroupVersionResource for a kind, and whether the kind
// is namespaced. The version from gvk wins when set; otherwise the
// registry's preferred version applies.
func (r *Registry) Resource(gvk schema.GroupVersionKind) (schema.GroupVersionResource, bool) {
	r.mu.RLock()
	info, ok := r.kinds[gvk.GroupKind()]
	r.mu.RUnlock()

	if !ok {
		info = kindInfo{resource: pluralize(gvk.Kind), namespaced: true}
	}

	version := gvk.Version
	if version == "" {
		version = info.version
	}

	return schema.GroupVersionResource{
		Group:    gvk.Group,
		Version:  version,
		Resource: info.resource,
	}, info.namespaced
}

// Known reports whether the kind is either built-in or registered.
func (r *Registry) Known(gk schema.GroupKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[gk]
	return ok
}

// GroupKinds returns all registered group/kinds. Used by the live observer
// to enumerate listable resources.
func (r *Registry) GroupKinds() []schema.GroupKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]schema.GroupKind, 0, len(r.kinds))
	for gk := range r.kinds {
		kinds = append(kinds, gk)
	}
	return kinds
}

// pluralize lowercases a kind and appends "s"/"es" the way the API machinery
// names resources. It is only a fallback for unregistered custom resources.
func pluralize(kind string) string {
	lower := strings.ToLower(kind)
	switch {
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"),
		strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return lower + "es"
	case strings.HasSuffix(lower, "y"):
		return lower[:len(lower)-1] + "ies"
	default:
		return lower + "s"
	}
}
