// Package render materializes a checked-out source path into the ordered,
// validated set of resource manifests an Application declares.
//
// Rendering is all-or-nothing: a single malformed manifest fails the whole
// revision with an error naming the offending resource, and nothing of that
// revision reaches the diff stage.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"

	"driftsync/internal/cluster"
	"driftsync/internal/dserrors"
	v1alpha1 "driftsync/pkg/apis/driftsync/v1alpha1"
	"driftsync/pkg/logging"
)

// Renderer turns manifest files into desired resource sets.
type Renderer struct {
	registry *cluster.Registry
}

// NewRenderer creates a renderer validating kinds against the registry.
func NewRenderer(registry *cluster.Registry) *Renderer {
	return &Renderer{registry: registry}
}

// Render reads every manifest under dir, validates it, stamps the ownership
// label and default namespace for the Application, and returns the desired
// set in deterministic order. The returned set is a fresh snapshot;
// rendering the same tree twice yields equal sets.
func (r *Renderer) Render(dir, appName, defaultNamespace string) ([]*unstructured.Unstructured, error) {
	paths, err := manifestPaths(dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[cluster.ResourceKey]string)
	var resources []*unstructured.Unstructured

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
		}

		relPath, _ := filepath.Rel(dir, path)
		docs, err := decodeDocuments(data)
		if err != nil {
			return nil, &dserrors.RenderValidationError{Resource: relPath, Reason: err.Error()}
		}

		for i, obj := range docs {

			if err := r.validate(obj); err != nil {
				return nil, &dserrors.RenderValidationError{
					Resource: fmt.Sprintf("%s (document %d)", relPath, i+1),
					Reason:   err.Error(),
				}
			}

			r.stamp(obj, appName, defaultNamespace)

			key := cluster.KeyFor(obj)
			if prev, dup := seen[key]; dup {
				return nil, &dserrors.RenderValidationError{
					Resource: relPath,
					Reason:   fmt.Sprintf("duplicate resource %s, first declared in %s", key, prev),
				}
			}
			seen[key] = relPath

			resources = append(resources, obj)
		}
	}

	// Deterministic order regardless of filesystem walk order.
	sort.Slice(resources, func(i, j int) bool {
		return cluster.KeyFor(resources[i]).String() < cluster.KeyFor(resources[j]).String()
	})

	logging.Debug("Renderer", "Rendered %d resources for %s from %s", len(resources), appName, dir)
	return resources, nil
}

// manifestPaths collects manifest files under dir in sorted order.
func manifestPaths(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Hidden directories (including .git) are not manifests.
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan manifests in %s: %w", dir, err)
	}

	sort.Strings(paths)
	return paths, nil
}

// decodeDocuments decodes a (possibly multi-document) YAML or JSON file
// into unstructured objects. Empty documents are dropped.
func decodeDocuments(data []byte) ([]*unstructured.Unstructured, error) {
	decoder := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(data), 4096)

	var docs []*unstructured.Unstructured
	for {
		var content map[string]interface{}
		err := decoder.Decode(&content)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("invalid manifest: %v", err)
		}
		if len(content) == 0 {
			continue
		}
		docs = append(docs, &unstructured.Unstructured{Object: content})
	}
}

// validate enforces the minimal contract every manifest must satisfy before
// it may enter a desired set.
func (r *Renderer) validate(obj *unstructured.Unstructured) error {
	gvk := obj.GroupVersionKind()
	if gvk.Kind == "" {
		return fmt.Errorf("missing kind")
	}
	if gvk.Version == "" {
		return fmt.Errorf("missing apiVersion on %s", gvk.Kind)
	}
	if obj.GetName() == "" {
		return fmt.Errorf("missing metadata.name on %s", gvk.Kind)
	}

	// Core and extension groups must be known to the registry; anything in
	// a custom group is accepted as a custom resource.
	if (gvk.Group == "" || strings.HasSuffix(gvk.Group, ".k8s.io") || isWellKnownGroup(gvk.Group)) &&
		!r.registry.Known(gvk.GroupKind()) {
		return fmt.Errorf("unknown kind %s in group %q", gvk.Kind, gvk.Group)
	}

	return nil
}

// isWellKnownGroup reports whether a group belongs to the built-in API
// surface, where unknown kinds indicate a typo rather than a custom resource.
func isWellKnownGroup(group string) bool {
	switch group {
	case "apps", "batch", "autoscaling", "policy":
		return true
	default:
		return false
	}
}

// stamp sets the ownership label and defaults the namespace for namespaced
// kinds so the live observer can find everything the controller manages.
func (r *Renderer) stamp(obj *unstructured.Unstructured, appName, defaultNamespace string) {
	labels := obj.GetLabels()
	if labels == nil {
		labels = make(map[string]string)
	}
	labels[v1alpha1.OwnershipLabel] = appName
	obj.SetLabels(labels)

	_, namespaced := r.registry.Resource(obj.GroupVersionKind())
	if namespaced && obj.GetNamespace() == "" {
		obj.SetNamespace(defaultNamespace)
	}
}
