package cluster

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ResourceKey identifies a resource independently of API version. Desired
// and live sets are joined on this key.
type ResourceKey struct {
	Group     string
	Kind      string
	Namespace string
	Name      string
}

// KeyFor derives the identity key from a manifest or live object.
func KeyFor(obj *unstructured.Unstructured) ResourceKey {
	gvk := obj.GroupVersionKind()
	return ResourceKey{
		Group:     gvk.Group,
		Kind:      gvk.Kind,
		Namespace: obj.GetNamespace(),
		Name:      obj.GetName(),
	}
}

// String renders the key for logs and error messages.
func (k ResourceKey) String() string {
	if k.Namespace == "" {
		return fmt.Sprintf("%s/%s %s", k.Group, k.Kind, k.Name)
	}
	return fmt.Sprintf("%s/%s %s/%s", k.Group, k.Kind, k.Namespace, k.Name)
}
