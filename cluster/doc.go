// Package cluster provides cluster membership and leadership election.
//
// # Membership
//
// Each running node registers itself as a [Member] with a unique
// [id.NodeID] and sends periodic heartbeats through a [Store]. A
// [MembershipView] turns the registry into the sorted list of live member
// identities; every node must observe the same sorted list for the
// resource allocator to hand out disjoint slices. [HeartbeatView] derives
// it from heartbeat age; the cluster/k8s sub-package derives it from
// running Pods.
//
// # Leader Election
//
// A named [Role] is owned by whichever node identity is written in the
// role's register. The [Elector] reads and writes the register only while
// holding a per-role lock acquired with a bounded wait, and decides what
// to do with the pure function [Classify]:
//
//   - [Unclaimed]: the register is empty or names a node that is no longer
//     live, so this node may claim it
//   - [ClaimedByMe]: nothing to do
//   - [ClaimedByOther]: another live node owns the role
//
// A lock that cannot be acquired in time, or a cancelled wait, means "not
// this round". Callers simply try again on their next election tick.
package cluster
