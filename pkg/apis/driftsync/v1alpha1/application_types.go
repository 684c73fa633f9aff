package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// OwnershipLabel is stamped onto every resource rendered for an Application
// so the live-state observer can find everything the controller manages.
const OwnershipLabel = "driftsync.io/application"

// ApplicationSource describes where the desired state is declared.
type ApplicationSource struct {
	// RepoURL is the URL of the git repository containing the manifests.
	// +kubebuilder:validation:Required
	RepoURL string `json:"repoURL" yaml:"repoURL"`

	// Revision is the branch, tag or commit hash to track.
	// +kubebuilder:default=main
	Revision string `json:"revision,omitempty" yaml:"revision,omitempty"`

	// Path is the directory within the repository to render.
	// An empty path renders the repository root.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ApplicationDestination describes the cluster and namespace the rendered
// resources are applied to.
type ApplicationDestination struct {
	// Server is the API server endpoint of the destination cluster.
	// Empty means the cluster the controller itself runs against.
	Server string `json:"server,omitempty" yaml:"server,omitempty"`

	// Namespace is the default namespace for namespaced resources that
	// do not declare one.
	// +kubebuilder:default=default
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// AutomatedSyncPolicy controls what the controller does without being asked.
type AutomatedSyncPolicy struct {
	// Prune allows the controller to delete live resources that are no
	// longer present in the desired state.
	// +kubebuilder:default=false
	Prune bool `json:"prune,omitempty" yaml:"prune,omitempty"`

	// SelfHeal allows the controller to revert out-of-band edits to live
	// resources even when the source has not changed.
	// +kubebuilder:default=false
	SelfHeal bool `json:"selfHeal,omitempty" yaml:"selfHeal,omitempty"`
}

// SyncPolicy configures automated behavior for an Application.
type SyncPolicy struct {
	// Automated enables automated sync. When nil, the controller still
	// reports drift but only syncs on an explicit trigger.
	Automated *AutomatedSyncPolicy `json:"automated,omitempty" yaml:"automated,omitempty"`
}

// SyncStatusCode describes whether live state matches desired state.
// +kubebuilder:validation:Enum=Unknown;Synced;OutOfSync;Syncing;Error
type SyncStatusCode string

const (
	// SyncStatusUnknown means the comparison has not run yet.
	SyncStatusUnknown SyncStatusCode = "Unknown"

	// SyncStatusSynced means live state matches the desired state.
	SyncStatusSynced SyncStatusCode = "Synced"

	// SyncStatusOutOfSync means drift or a source change was detected.
	SyncStatusOutOfSync SyncStatusCode = "OutOfSync"

	// SyncStatusSyncing means a sync operation is in flight.
	SyncStatusSyncing SyncStatusCode = "Syncing"

	// SyncStatusError means the last reconciliation attempt failed and is
	// awaiting retry or operator attention.
	SyncStatusError SyncStatusCode = "Error"
)

// HealthStatusCode classifies the runtime condition of a resource or an
// aggregated Application.
// +kubebuilder:validation:Enum=Healthy;Progressing;Degraded;Missing;Unknown
type HealthStatusCode string

const (
	HealthHealthy     HealthStatusCode = "Healthy"
	HealthProgressing HealthStatusCode = "Progressing"
	HealthDegraded    HealthStatusCode = "Degraded"
	HealthMissing     HealthStatusCode = "Missing"
	HealthUnknown     HealthStatusCode = "Unknown"
)

// healthPrecedence orders health codes worst-first for aggregation.
var healthPrecedence = map[HealthStatusCode]int{
	HealthDegraded:    0,
	HealthProgressing: 1,
	HealthMissing:     2,
	HealthUnknown:     3,
	HealthHealthy:     4,
}

// IsWorseThan reports whether h ranks worse than other in the fixed
// aggregation precedence Degraded > Progressing > Missing > Unknown > Healthy.
func (h HealthStatusCode) IsWorseThan(other HealthStatusCode) bool {
	return healthPrecedence[h] < healthPrecedence[other]
}

// SyncStatus summarizes the comparison between desired and live state.
type SyncStatus struct {
	// Status is the comparison outcome.
	Status SyncStatusCode `json:"status,omitempty" yaml:"status,omitempty"`

	// Revision is the source commit hash the comparison was made against.
	Revision string `json:"revision,omitempty" yaml:"revision,omitempty"`
}

// HealthStatus is the aggregated runtime condition of an Application.
type HealthStatus struct {
	// Status is the aggregated health code.
	Status HealthStatusCode `json:"status,omitempty" yaml:"status,omitempty"`

	// Message carries detail for non-Healthy states.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// ResourceStatus reports sync and health for a single managed resource.
type ResourceStatus struct {
	Group     string `json:"group,omitempty" yaml:"group,omitempty"`
	Kind      string `json:"kind" yaml:"kind"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Name      string `json:"name" yaml:"name"`

	// Status is the per-resource sync outcome.
	Status SyncStatusCode `json:"status,omitempty" yaml:"status,omitempty"`

	// Health is the per-resource health classification.
	Health HealthStatus `json:"health,omitempty" yaml:"health,omitempty"`
}

// SyncOperationPhase is the lifecycle phase of one sync attempt.
// +kubebuilder:validation:Enum=Running;Succeeded;Failed
type SyncOperationPhase string

const (
	SyncPhaseRunning   SyncOperationPhase = "Running"
	SyncPhaseSucceeded SyncOperationPhase = "Succeeded"
	SyncPhaseFailed    SyncOperationPhase = "Failed"
)

// ResourceResult records the outcome of one operation on one resource.
type ResourceResult struct {
	Group     string `json:"group,omitempty" yaml:"group,omitempty"`
	Kind      string `json:"kind" yaml:"kind"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Name      string `json:"name" yaml:"name"`

	// Operation is the action taken: Create, Update or Prune.
	Operation string `json:"operation" yaml:"operation"`

	// Succeeded reports whether the operation was applied.
	Succeeded bool `json:"succeeded" yaml:"succeeded"`

	// Message carries the error text for failed operations.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// SyncResult is the append-only record of one reconciliation attempt.
type SyncResult struct {
	// ID uniquely identifies the sync attempt.
	ID string `json:"id" yaml:"id"`

	// Revision is the source commit hash that was synced.
	Revision string `json:"revision,omitempty" yaml:"revision,omitempty"`

	// Phase is the terminal phase of the attempt.
	Phase SyncOperationPhase `json:"phase" yaml:"phase"`

	// Resources lists the per-resource operations performed.
	Resources []ResourceResult `json:"resources,omitempty" yaml:"resources,omitempty"`

	// StartedAt is when the attempt began.
	StartedAt metav1.Time `json:"startedAt" yaml:"startedAt"`

	// FinishedAt is when the attempt completed.
	FinishedAt *metav1.Time `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`

	// Message carries a summary for failed attempts.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// ApplicationSpec defines the desired state of Application.
type ApplicationSpec struct {
	// Source declares where the desired manifests live.
	// +kubebuilder:validation:Required
	Source ApplicationSource `json:"source" yaml:"source"`

	// Destination declares where the manifests are applied.
	Destination ApplicationDestination `json:"destination,omitempty" yaml:"destination,omitempty"`

	// SyncPolicy controls automated pruning and self-healing.
	SyncPolicy SyncPolicy `json:"syncPolicy,omitempty" yaml:"syncPolicy,omitempty"`
}

// ApplicationStatus defines the observed state of Application.
type ApplicationStatus struct {
	// Sync is the latest comparison outcome.
	Sync SyncStatus `json:"sync,omitempty" yaml:"sync,omitempty"`

	// Health is the latest aggregated health.
	Health HealthStatus `json:"health,omitempty" yaml:"health,omitempty"`

	// Resources is the per-resource breakdown from the latest pass.
	Resources []ResourceStatus `json:"resources,omitempty" yaml:"resources,omitempty"`

	// History is the append-only record of sync attempts, newest last.
	History []SyncResult `json:"history,omitempty" yaml:"history,omitempty"`

	// ReconciledAt is when the controller last completed a pass.
	ReconciledAt *metav1.Time `json:"reconciledAt,omitempty" yaml:"reconciledAt,omitempty"`

	// Conditions represent the latest available observations of the
	// Application's state, including surfaced errors.
	Conditions []metav1.Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=app
// +kubebuilder:printcolumn:name="Repo",type="string",JSONPath=".spec.source.repoURL"
// +kubebuilder:printcolumn:name="Revision",type="string",JSONPath=".spec.source.revision"
// +kubebuilder:printcolumn:name="Sync",type="string",JSONPath=".status.sync.status"
// +kubebuilder:printcolumn:name="Health",type="string",JSONPath=".status.health.status"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// Application is the Schema for the applications API
type Application struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ApplicationSpec   `json:"spec,omitempty"`
	Status ApplicationStatus `json:"status,omitempty"`
}

// PruneEnabled reports whether the sync policy allows deleting live
// resources that left the desired state.
func (a *Application) PruneEnabled() bool {
	return a.Spec.SyncPolicy.Automated != nil && a.Spec.SyncPolicy.Automated.Prune
}

// SelfHealEnabled reports whether the sync policy allows reverting
// out-of-band drift without a new source change.
func (a *Application) SelfHealEnabled() bool {
	return a.Spec.SyncPolicy.Automated != nil && a.Spec.SyncPolicy.Automated.SelfHeal
}

// AutomatedSyncEnabled reports whether detected changes are synced without
// an explicit trigger.
func (a *Application) AutomatedSyncEnabled() bool {
	return a.Spec.SyncPolicy.Automated != nil
}

// +kubebuilder:object:root=true

// ApplicationList contains a list of Application
type ApplicationList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Application `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Application{}, &ApplicationList{})
}
