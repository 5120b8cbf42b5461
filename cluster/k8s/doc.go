// Package k8s provides a Kubernetes-native cluster backend.
//
// Member discovery uses Pod annotations with a configurable label
// selector; the live view is the set of Ready Pods carrying a member-id
// annotation. Role locks and leadership registers use one
// coordination/v1 Lease per role.
//
// Example:
//
//	client := kubernetes.NewForConfigOrDie(rest.InClusterConfig())
//	provider := k8s.New(client, "my-namespace")
//	// Use provider as a cluster.Store, cluster.LeaderStore and
//	// cluster.MembershipView.
package k8s
