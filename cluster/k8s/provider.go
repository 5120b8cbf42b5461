package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/clock"
	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/id"
)

// Compile-time checks.
var (
	_ cluster.Store          = (*Provider)(nil)
	_ cluster.LeaderStore    = (*Provider)(nil)
	_ cluster.MembershipView = (*Provider)(nil)
)

const (
	defaultLeasePrefix      = "cassieq"
	defaultLabelSelector    = "app.kubernetes.io/component=cassieq"
	defaultAnnotationPrefix = "cassieq.paradoxical.io/"
)

// Provider implements the cluster contracts using Kubernetes primitives:
//   - Member registration via Pod annotations and label selectors
//   - Liveness via Pod readiness
//   - Role locks and registers via the coordination/v1 Lease API
type Provider struct {
	client           kubernetes.Interface
	namespace        string
	leasePrefix      string
	labelSelector    string
	annotationPrefix string
	clock            clock.Clock
	logger           *slog.Logger
}

// New creates a Kubernetes cluster provider.
// The clientset and namespace are required. Use functional options to customise
// the lease prefix, label selector, annotation prefix, clock or logger.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Provider {
	p := &Provider{
		client:           client,
		namespace:        namespace,
		leasePrefix:      defaultLeasePrefix,
		labelSelector:    defaultLabelSelector,
		annotationPrefix: defaultAnnotationPrefix,
		clock:            clock.System{},
		logger:           slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ──────────────────────────────────────────────────
// Member registration (Pod annotations)
// ──────────────────────────────────────────────────

// RegisterMember stores member data as annotations on the member's Pod.
// The Pod is located by matching the member's Hostname to the Pod name.
func (p *Provider) RegisterMember(ctx context.Context, m *cluster.Member) error {
	pod, err := p.client.CoreV1().Pods(p.namespace).Get(ctx, m.Hostname, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return fmt.Errorf("k8s: pod %q not found: %w", m.Hostname, cassieq.ErrMemberNotFound)
		}
		return fmt.Errorf("k8s: register member get pod: %w", err)
	}

	if pod.Annotations == nil {
		pod.Annotations = make(map[string]string)
	}
	p.setMemberAnnotations(pod, m)

	if _, err := p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: register member update pod: %w", err)
	}
	return nil
}

// DeregisterMember removes cassieq annotations from the member's Pod.
func (p *Provider) DeregisterMember(ctx context.Context, nodeID id.NodeID) error {
	pod, err := p.findPodByMemberID(ctx, nodeID.String())
	if err != nil {
		return err
	}
	if pod == nil {
		return cassieq.ErrMemberNotFound
	}

	p.removeMemberAnnotations(pod)

	if _, err := p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: deregister member update pod: %w", err)
	}
	return nil
}

// HeartbeatMember updates the last-seen annotation on the member's Pod.
func (p *Provider) HeartbeatMember(ctx context.Context, nodeID id.NodeID, at time.Time) error {
	pod, err := p.findPodByMemberID(ctx, nodeID.String())
	if err != nil {
		return err
	}
	if pod == nil {
		return cassieq.ErrMemberNotFound
	}

	pod.Annotations[p.annotationPrefix+"last-seen"] = at.UTC().Format(time.RFC3339Nano)

	if _, err := p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: heartbeat member update pod: %w", err)
	}
	return nil
}

// ListMembers returns all registered members by scanning Pod annotations,
// oldest first.
func (p *Provider) ListMembers(ctx context.Context) ([]*cluster.Member, error) {
	pods, err := p.listPods(ctx)
	if err != nil {
		return nil, err
	}

	members := make([]*cluster.Member, 0, len(pods))
	for i := range pods {
		m, convErr := p.memberFromPod(&pods[i])
		if convErr != nil {
			continue // pod has no/invalid cassieq annotations
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, k int) bool {
		return members[i].CreatedAt.Before(members[k].CreatedAt)
	})
	return members, nil
}

// ReapDeadMembers strips the annotations of members last seen before
// cutoff and returns them.
func (p *Provider) ReapDeadMembers(ctx context.Context, cutoff time.Time) ([]*cluster.Member, error) {
	pods, err := p.listPods(ctx)
	if err != nil {
		return nil, err
	}

	var dead []*cluster.Member
	for i := range pods {
		pod := &pods[i]
		m, convErr := p.memberFromPod(pod)
		if convErr != nil || !m.LastSeen.Before(cutoff) {
			continue
		}
		p.removeMemberAnnotations(pod)
		if _, err := p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
			return dead, fmt.Errorf("k8s: reap member update pod: %w", err)
		}
		dead = append(dead, m)
	}
	return dead, nil
}

// LiveMembers returns the member IDs of Ready Pods, sorted. Kubernetes
// readiness replaces heartbeat age as the liveness signal.
func (p *Provider) LiveMembers(ctx context.Context) ([]string, error) {
	pods, err := p.listPods(ctx)
	if err != nil {
		return nil, err
	}

	live := make([]string, 0, len(pods))
	for i := range pods {
		pod := &pods[i]
		memberID := pod.Annotations[p.annotationPrefix+"member-id"]
		if memberID == "" || !podReady(pod) {
			continue
		}
		if cluster.MemberState(pod.Annotations[p.annotationPrefix+"state"]) == cluster.MemberDraining {
			continue
		}
		live = append(live, memberID)
	}
	slices.Sort(live)
	return live, nil
}

// ──────────────────────────────────────────────────
// Leadership (Lease API)
// ──────────────────────────────────────────────────

// LockRole takes the Lease of role for holder if it is free, expired or
// already held by holder.
func (p *Provider) LockRole(ctx context.Context, role cluster.Role, holder string, ttl time.Duration) (bool, error) {
	now := metav1.NewMicroTime(p.clock.Now())
	ttlSec := int32(max(ttl.Seconds(), 1))

	lease, err := p.getLease(ctx, role)
	if err != nil {
		return false, err
	}
	if lease == nil {
		newLease := p.newLease(role)
		newLease.Spec.HolderIdentity = &holder
		newLease.Spec.LeaseDurationSeconds = &ttlSec
		newLease.Spec.AcquireTime = &now
		newLease.Spec.RenewTime = &now
		if _, err := p.client.CoordinationV1().Leases(p.namespace).Create(ctx, newLease, metav1.CreateOptions{}); err != nil {
			if errors.IsAlreadyExists(err) {
				return false, nil // race: someone else created it first
			}
			return false, fmt.Errorf("k8s: create lease: %w", err)
		}
		return true, nil
	}

	if p.isLeaseHeldByOther(lease, holder) {
		return false, nil
	}

	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != holder {
		lease.Spec.AcquireTime = &now
	}
	lease.Spec.HolderIdentity = &holder
	lease.Spec.LeaseDurationSeconds = &ttlSec
	lease.Spec.RenewTime = &now

	if _, err := p.client.CoordinationV1().Leases(p.namespace).Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if errors.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("k8s: update lease (acquire): %w", err)
	}
	return true, nil
}

// UnlockRole clears the Lease holder of role if holder holds it.
func (p *Provider) UnlockRole(ctx context.Context, role cluster.Role, holder string) error {
	lease, err := p.getLease(ctx, role)
	if err != nil || lease == nil {
		return err
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != holder {
		return nil
	}

	lease.Spec.HolderIdentity = nil
	lease.Spec.RenewTime = nil
	if _, err := p.client.CoordinationV1().Leases(p.namespace).Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if errors.IsConflict(err) {
			return nil
		}
		return fmt.Errorf("k8s: update lease (release): %w", err)
	}
	return nil
}

// GetRoleOwner returns the owner annotation of the role's Lease.
func (p *Provider) GetRoleOwner(ctx context.Context, role cluster.Role) (string, error) {
	lease, err := p.getLease(ctx, role)
	if err != nil || lease == nil {
		return "", err
	}
	return lease.Annotations[p.annotationPrefix+"owner"], nil
}

// SetRoleOwner writes the owner annotation of the role's Lease.
func (p *Provider) SetRoleOwner(ctx context.Context, role cluster.Role, owner string) error {
	lease, err := p.getLease(ctx, role)
	if err != nil {
		return err
	}
	if lease == nil {
		if owner == "" {
			return nil
		}
		lease = p.newLease(role)
		lease.Annotations[p.annotationPrefix+"owner"] = owner
		if _, err := p.client.CoordinationV1().Leases(p.namespace).Create(ctx, lease, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("k8s: create lease (owner): %w", err)
		}
		return nil
	}

	if lease.Annotations == nil {
		lease.Annotations = make(map[string]string)
	}
	if owner == "" {
		delete(lease.Annotations, p.annotationPrefix+"owner")
	} else {
		lease.Annotations[p.annotationPrefix+"owner"] = owner
	}
	if _, err := p.client.CoordinationV1().Leases(p.namespace).Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: update lease (owner): %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (p *Provider) leaseName(role cluster.Role) string {
	return p.leasePrefix + "-" + strings.ToLower(string(role))
}

func (p *Provider) newLease(role cluster.Role) *coordinationv1.Lease {
	return &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:        p.leaseName(role),
			Namespace:   p.namespace,
			Annotations: make(map[string]string),
		},
	}
}

// getLease returns the Lease of role, or nil when it does not exist.
func (p *Provider) getLease(ctx context.Context, role cluster.Role) (*coordinationv1.Lease, error) {
	lease, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName(role), metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("k8s: get lease: %w", err)
	}
	return lease, nil
}

func (p *Provider) listPods(ctx context.Context) ([]corev1.Pod, error) {
	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: p.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("k8s: list pods: %w", err)
	}
	return pods.Items, nil
}

// setMemberAnnotations writes all member fields as Pod annotations.
func (p *Provider) setMemberAnnotations(pod *corev1.Pod, m *cluster.Member) {
	a := pod.Annotations
	prefix := p.annotationPrefix

	a[prefix+"member-id"] = m.ID.String()
	a[prefix+"hostname"] = m.Hostname
	a[prefix+"state"] = string(m.State)
	a[prefix+"last-seen"] = m.LastSeen.UTC().Format(time.RFC3339Nano)
	a[prefix+"created-at"] = m.CreatedAt.UTC().Format(time.RFC3339Nano)

	if len(m.Metadata) > 0 {
		b, _ := json.Marshal(m.Metadata) //nolint:errcheck // marshal of map[string]string does not fail
		a[prefix+"metadata"] = string(b)
	}
}

// removeMemberAnnotations deletes all cassieq annotations from a Pod.
func (p *Provider) removeMemberAnnotations(pod *corev1.Pod) {
	prefix := p.annotationPrefix
	for _, k := range []string{"member-id", "hostname", "state", "last-seen", "created-at", "metadata"} {
		delete(pod.Annotations, prefix+k)
	}
}

// memberFromPod converts Pod annotations to a cluster.Member.
func (p *Provider) memberFromPod(pod *corev1.Pod) (*cluster.Member, error) {
	prefix := p.annotationPrefix
	a := pod.Annotations

	rawID := a[prefix+"member-id"]
	if rawID == "" {
		return nil, fmt.Errorf("k8s: pod %q missing member-id annotation", pod.Name)
	}

	nodeID, err := id.ParseNodeID(rawID)
	if err != nil {
		return nil, fmt.Errorf("k8s: parse member id: %w", err)
	}

	lastSeen, _ := time.Parse(time.RFC3339Nano, a[prefix+"last-seen"])   //nolint:errcheck // best-effort parse
	createdAt, _ := time.Parse(time.RFC3339Nano, a[prefix+"created-at"]) //nolint:errcheck // best-effort parse

	m := &cluster.Member{
		ID:        nodeID,
		Hostname:  a[prefix+"hostname"],
		State:     cluster.MemberState(a[prefix+"state"]),
		LastSeen:  lastSeen,
		CreatedAt: createdAt,
	}
	if raw := a[prefix+"metadata"]; raw != "" {
		meta := make(map[string]string)
		if uErr := json.Unmarshal([]byte(raw), &meta); uErr == nil {
			m.Metadata = meta
		}
	}
	return m, nil
}

// findPodByMemberID scans pods with the label selector for one whose
// member-id annotation matches.
func (p *Provider) findPodByMemberID(ctx context.Context, memberID string) (*corev1.Pod, error) {
	pods, err := p.listPods(ctx)
	if err != nil {
		return nil, err
	}
	for i := range pods {
		if pods[i].Annotations[p.annotationPrefix+"member-id"] == memberID {
			return &pods[i], nil
		}
	}
	return nil, nil
}

func podReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning || pod.DeletionTimestamp != nil {
		return false
	}
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

// isLeaseHeldByOther returns true if the lease is held by a different
// holder and has not expired.
func (p *Provider) isLeaseHeldByOther(lease *coordinationv1.Lease, holder string) bool {
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return false // no holder
	}
	if *lease.Spec.HolderIdentity == holder {
		return false // we hold it
	}
	return !p.isLeaseExpired(lease)
}

// isLeaseExpired returns true if the lease's renew time + duration is in the past.
func (p *Provider) isLeaseExpired(lease *coordinationv1.Lease) bool {
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	dur := time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second
	return p.clock.Now().After(lease.Spec.RenewTime.Time.Add(dur))
}
