// Package controller runs the reconciliation loop: it turns source changes,
// file edits, manual triggers and periodic resyncs into serialized
// reconcile passes per Application, with bounded retries and exponential
// backoff on failure.
package controller

import (
	"time"
)

// ReconcileReason says what prompted a reconcile request. Manual requests
// force a sync regardless of the automated sync policy.
type ReconcileReason string

const (
	ReasonStartup      ReconcileReason = "startup"
	ReasonSourceChange ReconcileReason = "source-change"
	ReasonFileChange   ReconcileReason = "file-change"
	ReasonManual       ReconcileReason = "manual"
	ReasonResync       ReconcileReason = "resync"
)

// ReconcileRequest asks for one reconcile pass over one Application.
type ReconcileRequest struct {
	// Name is the Application name.
	Name string

	// Reason records what triggered the request.
	Reason ReconcileReason

	// Attempt is the retry counter, starting at 1.
	Attempt int
}

// Result is the outcome of one reconcile pass.
type Result struct {
	// Error is the pass failure, if any. The manager classifies it and
	// decides between backoff retry and waiting for the next change.
	Error error
}

// ReconcileState is the lifecycle state the manager tracks per Application.
type ReconcileState string

const (
	// StatePending means a request is queued but not yet picked up.
	StatePending ReconcileState = "Pending"

	// StateReconciling means a worker is processing the Application.
	StateReconciling ReconcileState = "Reconciling"

	// StateSynced means the last pass completed without error.
	StateSynced ReconcileState = "Synced"

	// StateError means the last pass failed and a retry is scheduled.
	StateError ReconcileState = "Error"

	// StateFailed means retries are exhausted; only a new change or a
	// manual trigger restarts reconciliation.
	StateFailed ReconcileState = "Failed"
)

// ReconcileStatus is the manager's view of one Application's loop.
type ReconcileStatus struct {
	Name              string
	State             ReconcileState
	LastError         string
	LastReconcileTime *time.Time
	RetryCount        int
}
