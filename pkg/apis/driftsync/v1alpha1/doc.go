// Package v1alpha1 contains API Schema definitions for the driftsync v1alpha1 API group.
//
// This package defines the Application resource, the unit of work for the
// driftsync controller. An Application binds a configuration source (a git
// repository at a revision and path) to a destination (a cluster and
// namespace) together with a sync policy. The v1alpha1 API version is the
// initial alpha release and is subject to change.
//
// # API Group: driftsync.io/v1alpha1
//
// ## Application
//
// Application declares what should run where. The controller continuously
// renders the source into a set of Kubernetes manifests, compares them with
// the live cluster state, and converges the cluster towards the declared
// state.
//
// Example:
//
//	apiVersion: driftsync.io/v1alpha1
//	kind: Application
//	metadata:
//	  name: guestbook
//	spec:
//	  source:
//	    repoURL: https://github.com/example/deployments.git
//	    revision: main
//	    path: apps/guestbook
//	  destination:
//	    namespace: guestbook
//	  syncPolicy:
//	    automated:
//	      prune: true
//	      selfHeal: true
//
// +kubebuilder:object:generate=true
// +groupName=driftsync.io
package v1alpha1
