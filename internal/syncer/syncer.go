// Package syncer executes diff plans against the destination cluster. Each
// attempt produces an append-only SyncResult; individual resource failures
// never abort the rest of the plan.
package syncer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"driftsync/internal/cluster"
	"driftsync/internal/diff"
	"driftsync/internal/dserrors"
	"driftsync/pkg/apis/driftsync/v1alpha1"
	"driftsync/pkg/logging"
)

// Syncer applies operation plans.
type Syncer struct {
	client cluster.Interface
}

// New returns a Syncer over the given cluster client.
func New(client cluster.Interface) *Syncer {
	return &Syncer{client: client}
}

// Execute runs the plan in order and records a per-resource result for each
// operation. A failed resource is recorded and skipped; the remaining
// operations still run. The returned result is Succeeded only when every
// operation succeeded.
func (s *Syncer) Execute(ctx context.Context, appName, revision string, ops []diff.Operation) *v1alpha1.SyncResult {
	result := &v1alpha1.SyncResult{
		ID:        uuid.NewString(),
		Revision:  revision,
		Phase:     v1alpha1.SyncPhaseRunning,
		StartedAt: metav1.Now(),
	}

	logging.Info("Syncer", "Starting sync %s for application %s at %s (%d operations)",
		result.ID, appName, revision, len(ops))

	failures := 0
	for _, op := range ops {
		rr := v1alpha1.ResourceResult{
			Group:     op.Key.Group,
			Kind:      op.Key.Kind,
			Namespace: op.Key.Namespace,
			Name:      op.Key.Name,
			Operation: string(op.Type),
			Succeeded: true,
		}

		if err := s.apply(ctx, op); err != nil {
			applyErr := &dserrors.ResourceApplyError{
				Kind:      op.Key.Kind,
				Namespace: op.Key.Namespace,
				Name:      op.Key.Name,
				Operation: string(op.Type),
				Err:       err,
			}
			failures++
			rr.Succeeded = false
			rr.Message = dserrors.SanitizeErrorMessage(applyErr.Error())
			logging.Warn("Syncer", "Sync %s: %v", result.ID, applyErr)
		} else {
			logging.Debug("Syncer", "Sync %s: %s %s", result.ID, op.Type, op.Key)
		}

		result.Resources = append(result.Resources, rr)
	}

	now := metav1.Now()
	result.FinishedAt = &now
	if failures == 0 {
		result.Phase = v1alpha1.SyncPhaseSucceeded
	} else {
		result.Phase = v1alpha1.SyncPhaseFailed
		result.Message = fmt.Sprintf("%d of %d operations failed", failures, len(ops))
	}

	logging.Info("Syncer", "Finished sync %s for application %s: %s", result.ID, appName, result.Phase)
	return result
}

func (s *Syncer) apply(ctx context.Context, op diff.Operation) error {
	switch op.Type {
	case diff.OpCreate:
		return s.create(ctx, op.Desired)
	case diff.OpUpdate:
		return s.update(ctx, op.Desired, op.Live)
	case diff.OpPrune:
		return s.client.Delete(ctx, op.Live)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

func (s *Syncer) create(ctx context.Context, desired *unstructured.Unstructured) error {
	err := s.client.Create(ctx, desired)
	if apierrors.IsAlreadyExists(err) {
		// Someone created it between observe and apply. Converge by
		// updating instead.
		live, getErr := s.client.Get(ctx, desired)
		if getErr != nil {
			return fmt.Errorf("resource appeared concurrently and could not be read back: %w", getErr)
		}
		return s.update(ctx, desired, live)
	}
	return err
}

// update replaces the live object with the desired manifest, carrying over
// the live resourceVersion. On a write conflict the live object is re-read
// and the update retried exactly once; a second conflict surfaces as a
// ConflictError and the next reconciliation cycle picks it up.
func (s *Syncer) update(ctx context.Context, desired, live *unstructured.Unstructured) error {
	obj := desired.DeepCopy()
	obj.SetResourceVersion(live.GetResourceVersion())

	err := s.client.Update(ctx, obj)
	if !apierrors.IsConflict(err) {
		return err
	}

	fresh, getErr := s.client.Get(ctx, desired)
	if getErr != nil {
		return fmt.Errorf("re-reading after conflict: %w", getErr)
	}

	obj = desired.DeepCopy()
	obj.SetResourceVersion(fresh.GetResourceVersion())
	if retryErr := s.client.Update(ctx, obj); retryErr != nil {
		if apierrors.IsConflict(retryErr) {
			return &dserrors.ConflictError{
				Kind: desired.GetKind(),
				Name: desired.GetName(),
				Err:  retryErr,
			}
		}
		return retryErr
	}
	return nil
}
