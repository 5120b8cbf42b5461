package k8s

import (
	"context"
	"errors"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/clock"
	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/id"
)

const testNS = "default"

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestProvider creates a Provider backed by the fake K8s client and a
// manual clock, with the given pods pre-created.
func newTestProvider(t *testing.T, pods ...*corev1.Pod) (*Provider, *fake.Clientset, *clock.Manual) {
	t.Helper()
	cs := fake.NewClientset()
	for _, pod := range pods {
		if _, err := cs.CoreV1().Pods(testNS).Create(context.Background(), pod, metav1.CreateOptions{}); err != nil {
			t.Fatalf("create pod: %v", err)
		}
	}

	clk := clock.NewManual(epoch)
	return New(cs, testNS, WithClock(clk)), cs, clk
}

// makeMemberPod creates a labeled, Ready Pod.
func makeMemberPod(name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNS,
			Labels: map[string]string{
				"app.kubernetes.io/component": "cassieq",
			},
			Annotations: make(map[string]string),
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodReady, Status: corev1.ConditionTrue},
			},
		},
	}
}

func makeMember(hostname string, at time.Time) *cluster.Member {
	return &cluster.Member{
		ID:        id.NewNodeID(),
		Hostname:  hostname,
		State:     cluster.MemberActive,
		LastSeen:  at,
		Metadata:  map[string]string{"zone": "us-east-1"},
		CreatedAt: at,
	}
}

// ──────────────────────────────────────────────────
// Member registration tests
// ──────────────────────────────────────────────────

func TestRegisterMember(t *testing.T) {
	p, cs, _ := newTestProvider(t, makeMemberPod("node-1"))
	ctx := context.Background()

	m := makeMember("node-1", epoch)
	if err := p.RegisterMember(ctx, m); err != nil {
		t.Fatalf("RegisterMember: %v", err)
	}

	pod, err := cs.CoreV1().Pods(testNS).Get(ctx, "node-1", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}
	if got := pod.Annotations[defaultAnnotationPrefix+"member-id"]; got != m.ID.String() {
		t.Fatalf("member-id annotation = %q, want %q", got, m.ID.String())
	}
	if got := pod.Annotations[defaultAnnotationPrefix+"state"]; got != "active" {
		t.Fatalf("state annotation = %q, want active", got)
	}
}

func TestRegisterMember_PodNotFound(t *testing.T) {
	p, _, _ := newTestProvider(t)
	err := p.RegisterMember(context.Background(), makeMember("ghost", epoch))
	if !errors.Is(err, cassieq.ErrMemberNotFound) {
		t.Fatalf("err = %v, want ErrMemberNotFound", err)
	}
}

func TestDeregisterMember(t *testing.T) {
	p, cs, _ := newTestProvider(t, makeMemberPod("node-1"))
	ctx := context.Background()

	m := makeMember("node-1", epoch)
	if err := p.RegisterMember(ctx, m); err != nil {
		t.Fatalf("RegisterMember: %v", err)
	}
	if err := p.DeregisterMember(ctx, m.ID); err != nil {
		t.Fatalf("DeregisterMember: %v", err)
	}

	pod, _ := cs.CoreV1().Pods(testNS).Get(ctx, "node-1", metav1.GetOptions{}) //nolint:errcheck // pod was created above
	if _, ok := pod.Annotations[defaultAnnotationPrefix+"member-id"]; ok {
		t.Fatal("member-id annotation should be removed")
	}

	if err := p.DeregisterMember(ctx, m.ID); !errors.Is(err, cassieq.ErrMemberNotFound) {
		t.Fatalf("second deregister err = %v, want ErrMemberNotFound", err)
	}
}

func TestHeartbeatMember(t *testing.T) {
	p, _, _ := newTestProvider(t, makeMemberPod("node-1"))
	ctx := context.Background()

	m := makeMember("node-1", epoch)
	if err := p.RegisterMember(ctx, m); err != nil {
		t.Fatalf("RegisterMember: %v", err)
	}

	later := epoch.Add(30 * time.Second)
	if err := p.HeartbeatMember(ctx, m.ID, later); err != nil {
		t.Fatalf("HeartbeatMember: %v", err)
	}

	members, err := p.ListMembers(ctx)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 1 || !members[0].LastSeen.Equal(later) {
		t.Fatalf("members = %+v, want one with LastSeen %v", members, later)
	}

	if err := p.HeartbeatMember(ctx, id.NewNodeID(), later); !errors.Is(err, cassieq.ErrMemberNotFound) {
		t.Fatalf("unknown member err = %v, want ErrMemberNotFound", err)
	}
}

func TestListMembers_SkipsUnannotatedAndUnlabeled(t *testing.T) {
	other := makeMemberPod("other")
	other.Labels = map[string]string{"app": "nginx"}
	p, _, _ := newTestProvider(t, makeMemberPod("node-1"), makeMemberPod("node-2"), other)
	ctx := context.Background()

	if err := p.RegisterMember(ctx, makeMember("node-2", epoch)); err != nil {
		t.Fatalf("RegisterMember: %v", err)
	}

	members, err := p.ListMembers(ctx)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 1 || members[0].Hostname != "node-2" {
		t.Fatalf("members = %+v, want only node-2", members)
	}
	if members[0].Metadata["zone"] != "us-east-1" {
		t.Fatalf("metadata = %v", members[0].Metadata)
	}
}

func TestReapDeadMembers(t *testing.T) {
	p, _, _ := newTestProvider(t, makeMemberPod("node-1"), makeMemberPod("node-2"))
	ctx := context.Background()

	stale := makeMember("node-1", epoch.Add(-time.Hour))
	fresh := makeMember("node-2", epoch)
	for _, m := range []*cluster.Member{stale, fresh} {
		if err := p.RegisterMember(ctx, m); err != nil {
			t.Fatalf("RegisterMember: %v", err)
		}
	}

	dead, err := p.ReapDeadMembers(ctx, epoch.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReapDeadMembers: %v", err)
	}
	if len(dead) != 1 || dead[0].ID.String() != stale.ID.String() {
		t.Fatalf("dead = %+v, want only the stale member", dead)
	}

	members, _ := p.ListMembers(ctx) //nolint:errcheck // checked by length
	if len(members) != 1 || members[0].Hostname != "node-2" {
		t.Fatalf("members after reap = %+v", members)
	}
}

// ──────────────────────────────────────────────────
// Membership view tests
// ──────────────────────────────────────────────────

func TestLiveMembers(t *testing.T) {
	notReady := makeMemberPod("node-3")
	notReady.Status.Conditions[0].Status = corev1.ConditionFalse
	p, _, _ := newTestProvider(t, makeMemberPod("node-1"), makeMemberPod("node-2"), notReady)
	ctx := context.Background()

	a := makeMember("node-1", epoch)
	b := makeMember("node-2", epoch)
	b.State = cluster.MemberDraining
	c := makeMember("node-3", epoch)
	for _, m := range []*cluster.Member{a, b, c} {
		if err := p.RegisterMember(ctx, m); err != nil {
			t.Fatalf("RegisterMember: %v", err)
		}
	}

	live, err := p.LiveMembers(ctx)
	if err != nil {
		t.Fatalf("LiveMembers: %v", err)
	}
	if len(live) != 1 || live[0] != a.ID.String() {
		t.Fatalf("live = %v, want [%s]", live, a.ID)
	}
}

// ──────────────────────────────────────────────────
// Role lock tests
// ──────────────────────────────────────────────────

func TestLockRole_New(t *testing.T) {
	p, cs, _ := newTestProvider(t)
	ctx := context.Background()

	ok, err := p.LockRole(ctx, cluster.RoleDeletionSweeper, "node-a", 15*time.Second)
	if err != nil || !ok {
		t.Fatalf("LockRole = %v, %v; want true", ok, err)
	}

	lease, err := cs.CoordinationV1().Leases(testNS).Get(ctx, "cassieq-deletion-sweeper", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get lease: %v", err)
	}
	if *lease.Spec.HolderIdentity != "node-a" || *lease.Spec.LeaseDurationSeconds != 15 {
		t.Fatalf("lease spec = %+v", lease.Spec)
	}
}

func TestLockRole_ReAcquireAndContested(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()
	role := cluster.RoleDefinitionJanitor

	if ok, _ := p.LockRole(ctx, role, "node-a", 15*time.Second); !ok { //nolint:errcheck // checked via ok
		t.Fatal("first lock should succeed")
	}
	if ok, _ := p.LockRole(ctx, role, "node-a", 15*time.Second); !ok { //nolint:errcheck // checked via ok
		t.Fatal("holder should re-acquire its own lock")
	}
	ok, err := p.LockRole(ctx, role, "node-b", 15*time.Second)
	if err != nil {
		t.Fatalf("LockRole: %v", err)
	}
	if ok {
		t.Fatal("other holder should not take a live lock")
	}
}

func TestLockRole_Expired(t *testing.T) {
	p, _, clk := newTestProvider(t)
	ctx := context.Background()
	role := cluster.RoleDeletionSweeper

	if ok, _ := p.LockRole(ctx, role, "node-a", 10*time.Second); !ok { //nolint:errcheck // checked via ok
		t.Fatal("first lock should succeed")
	}
	clk.Advance(11 * time.Second)

	ok, err := p.LockRole(ctx, role, "node-b", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("LockRole after expiry = %v, %v; want true", ok, err)
	}
}

func TestUnlockRole(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()
	role := cluster.RoleDeletionSweeper

	if ok, _ := p.LockRole(ctx, role, "node-a", time.Minute); !ok { //nolint:errcheck // checked via ok
		t.Fatal("first lock should succeed")
	}

	// A non-holder cannot release.
	if err := p.UnlockRole(ctx, role, "node-b"); err != nil {
		t.Fatalf("UnlockRole: %v", err)
	}
	if ok, _ := p.LockRole(ctx, role, "node-b", time.Minute); ok { //nolint:errcheck // checked via ok
		t.Fatal("lock should still be held by node-a")
	}

	if err := p.UnlockRole(ctx, role, "node-a"); err != nil {
		t.Fatalf("UnlockRole: %v", err)
	}
	if ok, _ := p.LockRole(ctx, role, "node-b", time.Minute); !ok { //nolint:errcheck // checked via ok
		t.Fatal("released lock should be free")
	}
}

func TestUnlockRole_NoLease(t *testing.T) {
	p, _, _ := newTestProvider(t)
	if err := p.UnlockRole(context.Background(), cluster.RoleDeletionSweeper, "node-a"); err != nil {
		t.Fatalf("UnlockRole: %v", err)
	}
}

func TestRoleOwner(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()
	role := cluster.RoleDefinitionJanitor

	owner, err := p.GetRoleOwner(ctx, role)
	if err != nil || owner != "" {
		t.Fatalf("GetRoleOwner = %q, %v; want empty", owner, err)
	}

	// The owner register survives lock churn on the same Lease.
	if err := p.SetRoleOwner(ctx, role, "node-a"); err != nil {
		t.Fatalf("SetRoleOwner: %v", err)
	}
	if ok, _ := p.LockRole(ctx, role, "node-b", time.Minute); !ok { //nolint:errcheck // checked via ok
		t.Fatal("lock should succeed")
	}
	if owner, _ := p.GetRoleOwner(ctx, role); owner != "node-a" { //nolint:errcheck // checked via owner
		t.Fatalf("owner = %q, want node-a", owner)
	}

	if err := p.SetRoleOwner(ctx, role, ""); err != nil {
		t.Fatalf("SetRoleOwner clear: %v", err)
	}
	if owner, _ := p.GetRoleOwner(ctx, role); owner != "" { //nolint:errcheck // checked via owner
		t.Fatalf("owner = %q, want empty", owner)
	}
}

func TestOptions(t *testing.T) {
	cs := fake.NewClientset()
	p := New(cs, "ns",
		WithLeasePrefix("q"),
		WithLabelSelector("app=q"),
		WithAnnotationPrefix("q/"),
	)
	if p.leasePrefix != "q" || p.labelSelector != "app=q" || p.annotationPrefix != "q/" {
		t.Fatalf("options not applied: %+v", p)
	}
	if got := p.leaseName(cluster.RoleDeletionSweeper); got != "q-deletion-sweeper" {
		t.Fatalf("leaseName = %q", got)
	}
}
