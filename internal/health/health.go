// Package health derives per-resource and per-application health from live
// cluster state. Each supported kind has its own rule; kinds without a rule
// report Unknown and never drag the aggregate down on their own.
package health

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"driftsync/pkg/apis/driftsync/v1alpha1"
)

// Status is the outcome of evaluating one live resource.
type Status struct {
	Code    v1alpha1.HealthStatusCode
	Message string
}

type rule func(obj *unstructured.Unstructured) Status

var rules = map[string]rule{
	"Deployment":            deploymentHealth,
	"StatefulSet":           statefulSetHealth,
	"DaemonSet":             daemonSetHealth,
	"ReplicaSet":            replicaSetHealth,
	"Pod":                   podHealth,
	"Service":               serviceHealth,
	"Job":                   jobHealth,
	"PersistentVolumeClaim": pvcHealth,
	"Namespace":             alwaysHealthy,
	"ConfigMap":             alwaysHealthy,
	"Secret":                alwaysHealthy,
	"ServiceAccount":        alwaysHealthy,
}

// Evaluate applies the rule for the object's kind. Unknown kinds get
// HealthUnknown with an explanatory message.
func Evaluate(obj *unstructured.Unstructured) Status {
	if r, ok := rules[obj.GetKind()]; ok {
		return r(obj)
	}
	return Status{
		Code:    v1alpha1.HealthUnknown,
		Message: fmt.Sprintf("no health rule for kind %s", obj.GetKind()),
	}
}

// Aggregate folds resource statuses into one application-level code using
// severity precedence: Degraded beats Progressing beats Missing beats
// Unknown beats Healthy. An empty set is Healthy.
func Aggregate(statuses []v1alpha1.HealthStatusCode) v1alpha1.HealthStatusCode {
	result := v1alpha1.HealthHealthy
	for _, s := range statuses {
		if s.IsWorseThan(result) {
			result = s
		}
	}
	return result
}

func alwaysHealthy(_ *unstructured.Unstructured) Status {
	return Status{Code: v1alpha1.HealthHealthy}
}

func deploymentHealth(obj *unstructured.Unstructured) Status {
	desired := replicasOrOne(obj, "spec", "replicas")
	updated, _, _ := unstructured.NestedInt64(obj.Object, "status", "updatedReplicas")
	ready, _, _ := unstructured.NestedInt64(obj.Object, "status", "readyReplicas")
	available, _, _ := unstructured.NestedInt64(obj.Object, "status", "availableReplicas")

	if cond, found := condition(obj, string(appsv1.DeploymentProgressing)); found {
		if reason, _, _ := unstructured.NestedString(cond, "reason"); reason == "ProgressDeadlineExceeded" {
			return Status{Code: v1alpha1.HealthDegraded, Message: "progress deadline exceeded"}
		}
	}
	if updated < desired {
		return Status{
			Code:    v1alpha1.HealthProgressing,
			Message: fmt.Sprintf("%d of %d replicas updated", updated, desired),
		}
	}
	if ready < desired || available < desired {
		return Status{
			Code:    v1alpha1.HealthProgressing,
			Message: fmt.Sprintf("%d of %d replicas ready", ready, desired),
		}
	}
	return Status{Code: v1alpha1.HealthHealthy}
}

func statefulSetHealth(obj *unstructured.Unstructured) Status {
	desired := replicasOrOne(obj, "spec", "replicas")
	ready, _, _ := unstructured.NestedInt64(obj.Object, "status", "readyReplicas")
	updated, _, _ := unstructured.NestedInt64(obj.Object, "status", "updatedReplicas")

	if ready < desired || updated < desired {
		return Status{
			Code:    v1alpha1.HealthProgressing,
			Message: fmt.Sprintf("%d of %d replicas ready", ready, desired),
		}
	}
	return Status{Code: v1alpha1.HealthHealthy}
}

func daemonSetHealth(obj *unstructured.Unstructured) Status {
	desired, _, _ := unstructured.NestedInt64(obj.Object, "status", "desiredNumberScheduled")
	ready, _, _ := unstructured.NestedInt64(obj.Object, "status", "numberReady")

	if ready < desired {
		return Status{
			Code:    v1alpha1.HealthProgressing,
			Message: fmt.Sprintf("%d of %d pods ready", ready, desired),
		}
	}
	return Status{Code: v1alpha1.HealthHealthy}
}

func replicaSetHealth(obj *unstructured.Unstructured) Status {
	desired := replicasOrOne(obj, "spec", "replicas")
	ready, _, _ := unstructured.NestedInt64(obj.Object, "status", "readyReplicas")

	if ready < desired {
		return Status{
			Code:    v1alpha1.HealthProgressing,
			Message: fmt.Sprintf("%d of %d replicas ready", ready, desired),
		}
	}
	return Status{Code: v1alpha1.HealthHealthy}
}

func podHealth(obj *unstructured.Unstructured) Status {
	phase, _, _ := unstructured.NestedString(obj.Object, "status", "phase")
	switch corev1.PodPhase(phase) {
	case corev1.PodRunning, corev1.PodSucceeded:
		return Status{Code: v1alpha1.HealthHealthy}
	case corev1.PodPending:
		return Status{Code: v1alpha1.HealthProgressing, Message: "pod is pending"}
	case corev1.PodFailed:
		reason, _, _ := unstructured.NestedString(obj.Object, "status", "reason")
		return Status{Code: v1alpha1.HealthDegraded, Message: reason}
	default:
		return Status{Code: v1alpha1.HealthUnknown, Message: fmt.Sprintf("pod phase %q", phase)}
	}
}

func serviceHealth(obj *unstructured.Unstructured) Status {
	svcType, _, _ := unstructured.NestedString(obj.Object, "spec", "type")
	if corev1.ServiceType(svcType) != corev1.ServiceTypeLoadBalancer {
		return Status{Code: v1alpha1.HealthHealthy}
	}
	ingress, found, _ := unstructured.NestedSlice(obj.Object, "status", "loadBalancer", "ingress")
	if !found || len(ingress) == 0 {
		return Status{Code: v1alpha1.HealthProgressing, Message: "waiting for load balancer"}
	}
	return Status{Code: v1alpha1.HealthHealthy}
}

func jobHealth(obj *unstructured.Unstructured) Status {
	if cond, found := condition(obj, string(batchv1.JobFailed)); found {
		message, _, _ := unstructured.NestedString(cond, "message")
		return Status{Code: v1alpha1.HealthDegraded, Message: message}
	}
	if _, found := condition(obj, string(batchv1.JobComplete)); found {
		return Status{Code: v1alpha1.HealthHealthy}
	}
	return Status{Code: v1alpha1.HealthProgressing, Message: "job is running"}
}

func pvcHealth(obj *unstructured.Unstructured) Status {
	phase, _, _ := unstructured.NestedString(obj.Object, "status", "phase")
	switch corev1.PersistentVolumeClaimPhase(phase) {
	case corev1.ClaimBound:
		return Status{Code: v1alpha1.HealthHealthy}
	case corev1.ClaimPending:
		return Status{Code: v1alpha1.HealthProgressing, Message: "volume claim is pending"}
	case corev1.ClaimLost:
		return Status{Code: v1alpha1.HealthDegraded, Message: "bound volume was lost"}
	default:
		return Status{Code: v1alpha1.HealthUnknown, Message: fmt.Sprintf("claim phase %q", phase)}
	}
}

// replicasOrOne reads an optional replica count; an omitted field means the
// API server defaults it to one.
func replicasOrOne(obj *unstructured.Unstructured, fields ...string) int64 {
	n, found, err := unstructured.NestedInt64(obj.Object, fields...)
	if !found || err != nil {
		return 1
	}
	return n
}

// condition returns the status condition with the given type when it is
// present with status True.
func condition(obj *unstructured.Unstructured, condType string) (map[string]interface{}, bool) {
	conditions, found, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if !found {
		return nil, false
	}
	for _, c := range conditions {
		cond, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		t, _, _ := unstructured.NestedString(cond, "type")
		s, _, _ := unstructured.NestedString(cond, "status")
		if t == condType && corev1.ConditionStatus(s) == corev1.ConditionTrue {
			return cond, true
		}
	}
	return nil, false
}
