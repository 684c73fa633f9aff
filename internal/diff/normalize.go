package diff

import (
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// platform-injected metadata fields that must not participate in comparison.
var injectedMetadataFields = []string{
	"uid",
	"resourceVersion",
	"generation",
	"creationTimestamp",
	"deletionTimestamp",
	"deletionGracePeriodSeconds",
	"managedFields",
	"selfLink",
	"finalizers",
	"ownerReferences",
}

// annotations the platform or tooling writes that carry no desired state.
var injectedAnnotations = []string{
	"kubectl.kubernetes.io/last-applied-configuration",
	"deployment.kubernetes.io/revision",
}

// normalize returns a copy of obj with platform-injected fields removed, so
// structural comparison sees only declared state.
func normalize(obj *unstructured.Unstructured) *unstructured.Unstructured {
	out := obj.DeepCopy()

	unstructured.RemoveNestedField(out.Object, "status")
	for _, field := range injectedMetadataFields {
		unstructured.RemoveNestedField(out.Object, "metadata", field)
	}

	annotations := out.GetAnnotations()
	if annotations != nil {
		for _, key := range injectedAnnotations {
			delete(annotations, key)
		}
		if len(annotations) == 0 {
			unstructured.RemoveNestedField(out.Object, "metadata", "annotations")
		} else {
			out.SetAnnotations(annotations)
		}
	}

	return out
}

// subsetEqual reports whether every field declared in desired is present
// with an equal value in live. Fields the server defaults into live but the
// manifest never declared do not count as drift.
func subsetEqual(desired, live interface{}) bool {
	switch d := desired.(type) {
	case map[string]interface{}:
		l, ok := live.(map[string]interface{})
		if !ok {
			return false
		}
		for key, dv := range d {
			lv, present := l[key]
			if !present {
				return false
			}
			if !subsetEqual(dv, lv) {
				return false
			}
		}
		return true

	case []interface{}:
		l, ok := live.([]interface{})
		if !ok || len(l) != len(d) {
			return false
		}
		for i := range d {
			if !subsetEqual(d[i], l[i]) {
				return false
			}
		}
		return true

	default:
		return scalarEqual(desired, live)
	}
}

// scalarEqual compares leaf values, tolerating the int64/float64 ambiguity
// YAML and JSON decoding introduce for whole numbers.
func scalarEqual(a, b interface{}) bool {
	if an, aok := asFloat(a); aok {
		if bn, bok := asFloat(b); bok {
			return an == bn
		}
		return false
	}
	return a == b
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// changedPaths walks desired and collects the paths where live disagrees.
// Paths are dotted field references for maps and bracketed indexes for
// lists, e.g. "spec.template.spec.containers[0].image".
func changedPaths(prefix string, desired, live interface{}) []string {
	switch d := desired.(type) {
	case map[string]interface{}:
		l, ok := live.(map[string]interface{})
		if !ok {
			return []string{prefix}
		}
		var paths []string
		keys := make([]string, 0, len(d))
		for key := range d {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			childPrefix := key
			if prefix != "" {
				childPrefix = prefix + "." + key
			}
			lv, present := l[key]
			if !present {
				paths = append(paths, childPrefix)
				continue
			}
			paths = append(paths, changedPaths(childPrefix, d[key], lv)...)
		}
		return paths

	case []interface{}:
		l, ok := live.([]interface{})
		if !ok || len(l) != len(d) {
			return []string{prefix}
		}
		var paths []string
		for i := range d {
			paths = append(paths, changedPaths(fmt.Sprintf("%s[%d]", prefix, i), d[i], l[i])...)
		}
		return paths

	default:
		if !scalarEqual(desired, live) {
			return []string{prefix}
		}
		return nil
	}
}
