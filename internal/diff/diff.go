// Package diff compares rendered desired state against a live cluster
// snapshot and produces an ordered operation plan. Comparison ignores
// platform-injected metadata so that server-side defaulting never reads as
// drift, and plans are deterministic: resources are ordered by kind weight
// (namespaces and configuration first, workloads next, routing last), then
// by namespace and name.
package diff

import (
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"driftsync/internal/cluster"
)

// State classifies a single resource key after comparison.
type State string

const (
	// Unchanged means live matches desired on every declared field.
	Unchanged State = "Unchanged"
	// Modified means the resource exists but at least one declared field drifted.
	Modified State = "Modified"
	// Missing means the resource is declared but absent from the cluster.
	Missing State = "Missing"
	// Extra means the resource is owned by the application but no longer declared.
	Extra State = "Extra"
)

// ResourceDiff is the comparison outcome for one resource key.
type ResourceDiff struct {
	Key     cluster.ResourceKey
	State   State
	Desired *unstructured.Unstructured
	Live    *unstructured.Unstructured
	// ChangedPaths lists the drifted fields for Modified resources, as
	// dotted paths into the manifest.
	ChangedPaths []string
}

// Result holds the full comparison, ordered by apply weight.
type Result struct {
	Diffs []ResourceDiff
}

// InSync reports whether the snapshot matches desired state. Extra
// resources only break sync when pruning is enabled, because without it
// they are never acted on.
func (r *Result) InSync(pruneEnabled bool) bool {
	for _, d := range r.Diffs {
		switch d.State {
		case Missing, Modified:
			return false
		case Extra:
			if pruneEnabled {
				return false
			}
		}
	}
	return true
}

// OperationType names an action the sync executor performs.
type OperationType string

const (
	OpCreate OperationType = "Create"
	OpUpdate OperationType = "Update"
	OpPrune  OperationType = "Prune"
)

// Operation is one step in a sync plan.
type Operation struct {
	Type    OperationType
	Key     cluster.ResourceKey
	Desired *unstructured.Unstructured
	Live    *unstructured.Unstructured
}

// Compare matches desired manifests against live resources by key and
// classifies each. Both inputs may be in any order; the result is sorted.
func Compare(desired, live []*unstructured.Unstructured) *Result {
	liveByKey := make(map[cluster.ResourceKey]*unstructured.Unstructured, len(live))
	for _, obj := range live {
		liveByKey[cluster.KeyFor(obj)] = obj
	}

	result := &Result{}
	seen := make(map[cluster.ResourceKey]bool, len(desired))

	for _, obj := range desired {
		key := cluster.KeyFor(obj)
		seen[key] = true

		liveObj, exists := liveByKey[key]
		if !exists {
			result.Diffs = append(result.Diffs, ResourceDiff{Key: key, State: Missing, Desired: obj})
			continue
		}

		normDesired := normalize(obj)
		normLive := normalize(liveObj)
		if subsetEqual(normDesired.Object, normLive.Object) {
			result.Diffs = append(result.Diffs, ResourceDiff{Key: key, State: Unchanged, Desired: obj, Live: liveObj})
			continue
		}
		result.Diffs = append(result.Diffs, ResourceDiff{
			Key:          key,
			State:        Modified,
			Desired:      obj,
			Live:         liveObj,
			ChangedPaths: changedPaths("", normDesired.Object, normLive.Object),
		})
	}

	for _, obj := range live {
		key := cluster.KeyFor(obj)
		if !seen[key] {
			result.Diffs = append(result.Diffs, ResourceDiff{Key: key, State: Extra, Live: obj})
		}
	}

	sortDiffs(result.Diffs)
	return result
}

// Operations turns the comparison into an executable plan. Creates and
// updates come first in apply order; prunes follow in reverse order so
// dependents go away before the things they depend on, and only when
// pruning is enabled.
func (r *Result) Operations(pruneEnabled bool) []Operation {
	var ops []Operation
	for _, d := range r.Diffs {
		switch d.State {
		case Missing:
			ops = append(ops, Operation{Type: OpCreate, Key: d.Key, Desired: d.Desired})
		case Modified:
			ops = append(ops, Operation{Type: OpUpdate, Key: d.Key, Desired: d.Desired, Live: d.Live})
		}
	}

	if pruneEnabled {
		var prunes []Operation
		for _, d := range r.Diffs {
			if d.State == Extra {
				prunes = append(prunes, Operation{Type: OpPrune, Key: d.Key, Live: d.Live})
			}
		}
		for i := len(prunes) - 1; i >= 0; i-- {
			ops = append(ops, prunes[i])
		}
	}

	return ops
}

// kindOrder is the apply ordering: cluster scaffolding and configuration
// before the workloads that consume them, routing surfaces last. Kinds not
// listed apply after everything listed, ordered by name.
var kindOrder = []string{
	"Namespace",
	"ResourceQuota",
	"LimitRange",
	"CustomResourceDefinition",
	"StorageClass",
	"PersistentVolume",
	"PersistentVolumeClaim",
	"ServiceAccount",
	"Secret",
	"ConfigMap",
	"ClusterRole",
	"ClusterRoleBinding",
	"Role",
	"RoleBinding",
	"Service",
	"DaemonSet",
	"Pod",
	"ReplicaSet",
	"Deployment",
	"StatefulSet",
	"Job",
	"CronJob",
	"HorizontalPodAutoscaler",
	"PodDisruptionBudget",
	"Ingress",
	"NetworkPolicy",
}

var kindWeight = func() map[string]int {
	m := make(map[string]int, len(kindOrder))
	for i, kind := range kindOrder {
		m[kind] = i
	}
	return m
}()

func weightOf(kind string) int {
	if w, ok := kindWeight[kind]; ok {
		return w
	}
	return len(kindOrder)
}

func sortDiffs(diffs []ResourceDiff) {
	sort.SliceStable(diffs, func(i, j int) bool {
		wi, wj := weightOf(diffs[i].Key.Kind), weightOf(diffs[j].Key.Kind)
		if wi != wj {
			return wi < wj
		}
		if diffs[i].Key.Namespace != diffs[j].Key.Namespace {
			return diffs[i].Key.Namespace < diffs[j].Key.Namespace
		}
		return diffs[i].Key.Name < diffs[j].Key.Name
	})
}
