package cluster

import (
	"context"
	"fmt"
	"sort"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"

	"driftsync/internal/dserrors"
	"driftsync/pkg/logging"
)

// Interface is the platform boundary: everything the reconciliation loop
// needs from the destination cluster. Every read is a fresh snapshot; the
// client holds no cache.
type Interface interface {
	// ListByLabel returns all resources of the registry's known kinds that
	// carry the given label, across the namespace (or all namespaces when
	// namespace is empty for cluster-scoped kinds).
	ListByLabel(ctx context.Context, namespace, label, value string) ([]*unstructured.Unstructured, error)

	// Get fetches the live counterpart of a manifest. Returns a
	// kubernetes NotFound error when the resource does not exist.
	Get(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error)

	// Create creates the resource.
	Create(ctx context.Context, obj *unstructured.Unstructured) error

	// Update replaces the resource. The object must carry the live
	// resourceVersion; a stale version yields a Conflict error.
	Update(ctx context.Context, obj *unstructured.Unstructured) error

	// Delete removes the resource. Deleting an absent resource is not an
	// error.
	Delete(ctx context.Context, obj *unstructured.Unstructured) error
}

// Clientset implements Interface over a client-go dynamic client.
type Clientset struct {
	dyn      dynamic.Interface
	registry *Registry
}

// NewClientset wraps a dynamic client with the kind registry.
func NewClientset(dyn dynamic.Interface, registry *Registry) *Clientset {
	return &Clientset{dyn: dyn, registry: registry}
}

// NewForDefaultConfig builds a Clientset from the ambient kubeconfig or
// in-cluster configuration.
func NewForDefaultConfig(registry *Registry) (*Clientset, error) {
	restConfig, err := GetRestConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get Kubernetes config: %w", err)
	}

	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	return NewClientset(dyn, registry), nil
}

// GetRestConfig returns the REST config using controller-runtime's
// kubeconfig and in-cluster detection.
func GetRestConfig() (*rest.Config, error) {
	return ctrl.GetConfig()
}

// resourceFor resolves the dynamic resource interface for an object.
func (c *Clientset) resourceFor(obj *unstructured.Unstructured) dynamic.ResourceInterface {
	gvr, namespaced := c.registry.Resource(obj.GroupVersionKind())
	if namespaced {
		return c.dyn.Resource(gvr).Namespace(obj.GetNamespace())
	}
	return c.dyn.Resource(gvr)
}

// ListByLabel enumerates every known kind and collects resources carrying
// the label. Kinds the cluster does not serve are skipped.
func (c *Clientset) ListByLabel(ctx context.Context, namespace, label, value string) ([]*unstructured.Unstructured, error) {
	opts := metav1.ListOptions{LabelSelector: fmt.Sprintf("%s=%s", label, value)}

	var out []*unstructured.Unstructured
	for _, gk := range c.registry.GroupKinds() {
		gvr, namespaced := c.registry.Resource(gk.WithVersion(""))

		var ri dynamic.ResourceInterface
		if namespaced {
			ri = c.dyn.Resource(gvr).Namespace(namespace)
		} else {
			ri = c.dyn.Resource(gvr)
		}

		list, err := ri.List(ctx, opts)
		if err != nil {
			if apierrors.IsNotFound(err) || apierrors.IsForbidden(err) {
				// The cluster does not serve this kind, or we may not
				// read it. Neither blocks observing the rest.
				logging.Debug("Cluster", "Skipping %s during list: %v", gk, err)
				continue
			}
			return nil, &dserrors.PlatformUnavailableError{
				Err: fmt.Errorf("listing %s: %w", gk, err),
			}
		}

		for i := range list.Items {
			out = append(out, &list.Items[i])
		}
	}

	// Listing order across kinds depends on map iteration; callers expect
	// stable snapshots.
	sort.Slice(out, func(i, j int) bool {
		return KeyFor(out[i]).String() < KeyFor(out[j]).String()
	})

	return out, nil
}

// Get fetches the live counterpart of a manifest.
func (c *Clientset) Get(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	return c.resourceFor(obj).Get(ctx, obj.GetName(), metav1.GetOptions{})
}

// Create creates the resource on the cluster.
func (c *Clientset) Create(ctx context.Context, obj *unstructured.Unstructured) error {
	_, err := c.resourceFor(obj).Create(ctx, obj, metav1.CreateOptions{})
	return err
}

// Update replaces the resource on the cluster.
func (c *Clientset) Update(ctx context.Context, obj *unstructured.Unstructured) error {
	_, err := c.resourceFor(obj).Update(ctx, obj, metav1.UpdateOptions{})
	return err
}

// Delete removes the resource. Absence is treated as success so prune is
// idempotent.
func (c *Clientset) Delete(ctx context.Context, obj *unstructured.Unstructured) error {
	err := c.resourceFor(obj).Delete(ctx, obj.GetName(), metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}
