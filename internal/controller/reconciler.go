package controller

import (
	"context"
	"fmt"
	"path/filepath"

	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"driftsync/internal/cluster"
	"driftsync/internal/diff"
	"driftsync/internal/dserrors"
	"driftsync/internal/health"
	"driftsync/internal/render"
	"driftsync/internal/source"
	"driftsync/internal/store"
	"driftsync/internal/syncer"
	"driftsync/pkg/apis/driftsync/v1alpha1"
	"driftsync/pkg/logging"
)

// historyLimit caps the sync attempts kept in Application status.
const historyLimit = 10

const conditionReady = "Ready"

// Reconciler performs one full reconcile pass: resolve the source, render
// desired state, observe live state, diff, optionally sync, evaluate health
// and persist the resulting status.
type Reconciler struct {
	store    *store.Store
	repo     source.RepoClient
	tracker  *source.Tracker
	renderer *render.Renderer
	client   cluster.Interface
	syncer   *syncer.Syncer
	cacheDir string
}

// NewReconciler wires the reconcile pipeline.
func NewReconciler(
	st *store.Store,
	repo source.RepoClient,
	tracker *source.Tracker,
	renderer *render.Renderer,
	client cluster.Interface,
	sync *syncer.Syncer,
	cacheDir string,
) *Reconciler {
	return &Reconciler{
		store:    st,
		repo:     repo,
		tracker:  tracker,
		renderer: renderer,
		client:   client,
		syncer:   sync,
		cacheDir: cacheDir,
	}
}

// Reconcile runs one pass for the named Application. A deleted Application
// is dropped from source tracking; its cluster resources are left in place.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) Result {
	app, err := r.store.Get(req.Name)
	if err != nil {
		if store.IsNotFound(err) {
			logging.Info("Controller", "Application %s no longer exists, dropping", req.Name)
			r.tracker.Forget(req.Name)
			return Result{}
		}
		return Result{Error: err}
	}

	// the spec may have been edited since the last pass
	r.tracker.Track(app.Name, app.Spec.Source.RepoURL, app.Spec.Source.Revision)

	commit, err := r.repo.ResolveRevision(ctx, app.Spec.Source.RepoURL, app.Spec.Source.Revision)
	if err != nil {
		r.recordFailure(app.Name, err)
		return Result{Error: err}
	}

	checkout := source.CheckoutPath(r.cacheDir, app.Spec.Source.RepoURL)
	if _, err := r.repo.EnsureCheckout(ctx, app.Spec.Source.RepoURL, commit, checkout); err != nil {
		r.recordFailure(app.Name, err)
		return Result{Error: err}
	}

	manifestDir := filepath.Join(checkout, app.Spec.Source.Path)
	desired, err := r.renderer.Render(manifestDir, app.Name, app.Spec.Destination.Namespace)
	if err != nil {
		r.recordFailure(app.Name, err)
		return Result{Error: err}
	}

	live, err := r.client.ListByLabel(ctx, app.Spec.Destination.Namespace, v1alpha1.OwnershipLabel, app.Name)
	if err != nil {
		r.recordFailure(app.Name, err)
		return Result{Error: err}
	}

	prune := app.PruneEnabled()
	comparison := diff.Compare(desired, live)

	var syncResult *v1alpha1.SyncResult
	if r.shouldApply(app, req, commit, comparison) {
		if ops := comparison.Operations(prune); len(ops) > 0 {
			if _, err := r.store.UpdateStatus(app.Name, func(status *v1alpha1.ApplicationStatus) {
				status.Sync.Status = v1alpha1.SyncStatusSyncing
			}); err != nil {
				return Result{Error: err}
			}

			syncResult = r.syncer.Execute(ctx, app.Name, commit, ops)

			// re-observe so status reflects post-sync reality
			live, err = r.client.ListByLabel(ctx, app.Spec.Destination.Namespace, v1alpha1.OwnershipLabel, app.Name)
			if err != nil {
				r.recordFailure(app.Name, err)
				return Result{Error: err}
			}
			comparison = diff.Compare(desired, live)
		}
	}

	var syncErr error
	if syncResult != nil && syncResult.Phase == v1alpha1.SyncPhaseFailed {
		syncErr = fmt.Errorf("sync %s failed: %s", syncResult.ID, syncResult.Message)
	}

	resources, codes := resourceStatuses(comparison, prune)
	aggregated := health.Aggregate(codes)
	inSync := comparison.InSync(prune)

	now := metav1.Now()
	if _, err := r.store.UpdateStatus(app.Name, func(status *v1alpha1.ApplicationStatus) {
		status.Sync.Revision = commit
		switch {
		case syncErr != nil:
			status.Sync.Status = v1alpha1.SyncStatusError
		case inSync:
			status.Sync.Status = v1alpha1.SyncStatusSynced
		default:
			status.Sync.Status = v1alpha1.SyncStatusOutOfSync
		}
		status.Health.Status = aggregated
		status.Health.Message = ""
		status.Resources = resources
		status.ReconciledAt = &now

		if syncResult != nil {
			status.History = append(status.History, *syncResult)
			if len(status.History) > historyLimit {
				status.History = status.History[len(status.History)-historyLimit:]
			}
		}

		if syncErr != nil {
			apimeta.SetStatusCondition(&status.Conditions, metav1.Condition{
				Type:    conditionReady,
				Status:  metav1.ConditionFalse,
				Reason:  "SyncFailed",
				Message: dserrors.SanitizeErrorMessage(syncErr.Error()),
			})
		} else {
			apimeta.SetStatusCondition(&status.Conditions, metav1.Condition{
				Type:   conditionReady,
				Status: metav1.ConditionTrue,
				Reason: "ReconcileSucceeded",
			})
		}
	}); err != nil {
		return Result{Error: err}
	}

	r.tracker.MarkProcessed(app.Name, commit)

	if syncErr != nil {
		return Result{Error: syncErr}
	}

	logging.Debug("Controller", "Reconciled %s at %s: sync=%v health=%s", app.Name, commit, inSync, aggregated)
	return Result{}
}

// shouldApply decides whether the pass writes to the cluster. Manual
// triggers always apply. Automated sync applies on a new revision; with
// self-heal it also re-applies over cluster drift at an unchanged revision.
func (r *Reconciler) shouldApply(app *v1alpha1.Application, req ReconcileRequest, commit string, comparison *diff.Result) bool {
	if req.Reason == ReasonManual {
		return true
	}
	if !app.AutomatedSyncEnabled() {
		return false
	}
	if app.Status.Sync.Revision != commit {
		return true
	}
	return app.SelfHealEnabled() && !comparison.InSync(app.PruneEnabled())
}

// recordFailure persists the error on the Application before the manager
// schedules a retry.
func (r *Reconciler) recordFailure(name string, cause error) {
	if _, err := r.store.UpdateStatus(name, func(status *v1alpha1.ApplicationStatus) {
		status.Sync.Status = v1alpha1.SyncStatusError
		apimeta.SetStatusCondition(&status.Conditions, metav1.Condition{
			Type:    conditionReady,
			Status:  metav1.ConditionFalse,
			Reason:  "ReconcileFailed",
			Message: dserrors.SanitizeErrorMessage(cause.Error()),
		})
	}); err != nil {
		logging.Warn("Controller", "Failed to record error on %s: %v", name, err)
	}
}

// resourceStatuses derives the per-resource breakdown and the health codes
// feeding aggregation. Extra resources count as OutOfSync only when pruning
// would act on them.
func resourceStatuses(comparison *diff.Result, pruneEnabled bool) ([]v1alpha1.ResourceStatus, []v1alpha1.HealthStatusCode) {
	var resources []v1alpha1.ResourceStatus
	var codes []v1alpha1.HealthStatusCode

	for _, d := range comparison.Diffs {
		rs := v1alpha1.ResourceStatus{
			Group:     d.Key.Group,
			Kind:      d.Key.Kind,
			Namespace: d.Key.Namespace,
			Name:      d.Key.Name,
		}

		switch d.State {
		case diff.Unchanged:
			rs.Status = v1alpha1.SyncStatusSynced
		case diff.Modified, diff.Missing:
			rs.Status = v1alpha1.SyncStatusOutOfSync
		case diff.Extra:
			if pruneEnabled {
				rs.Status = v1alpha1.SyncStatusOutOfSync
			} else {
				rs.Status = v1alpha1.SyncStatusSynced
			}
		}

		if d.Live != nil {
			hs := health.Evaluate(d.Live)
			rs.Health = v1alpha1.HealthStatus{Status: hs.Code, Message: hs.Message}
		} else {
			rs.Health = v1alpha1.HealthStatus{Status: v1alpha1.HealthMissing}
		}

		resources = append(resources, rs)
		codes = append(codes, rs.Health.Status)
	}

	return resources, codes
}
