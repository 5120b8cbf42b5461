package redis

import (
	"strconv"

	"github.com/paradoxical-io/cassieq-sub001/cluster"
	"github.com/paradoxical-io/cassieq-sub001/queue"
)

// Redis key naming conventions for cassieq data.
// All keys are prefixed with "cassieq:" unless WithPrefix says otherwise.

const defaultPrefix = "cassieq:"

type keys struct {
	prefix string
}

// ── Queue definition keys ──

// def returns the Hash of one queue version: cassieq:def:{account}/{name}/{version}
func (k keys) def(q queue.ID) string { return k.prefix + "def:" + q.String() }

// defIDs is the Set tracking all definition IDs for enumeration.
func (k keys) defIDs() string { return k.prefix + "def_ids" }

// active maps each ref to its active version.
func (k keys) active() string { return k.prefix + "def_active" }

// latest maps each ref to the highest version ever created.
func (k keys) latest() string { return k.prefix + "def_latest" }

// ── Per-version keys ──

// counter holds the next index: cassieq:counter:{queue}
func (k keys) counter(q queue.ID) string { return k.prefix + "counter:" + q.String() }

// pointers is the Hash of reader, repair and invis: cassieq:pointers:{queue}
func (k keys) pointers(q queue.ID) string { return k.prefix + "pointers:" + q.String() }

// message is the Hash of one row: cassieq:msg:{queue}:{index}
func (k keys) message(q queue.ID, index uint64) string {
	return k.prefix + "msg:" + q.String() + ":" + strconv.FormatUint(index, 10)
}

// markers maps bucket numbers to tombstone times: cassieq:markers:{queue}
func (k keys) markers(q queue.ID) string { return k.prefix + "markers:" + q.String() }

// ── DLQ keys ──

// dlq returns the key for a DLQ entry entity: cassieq:dlq:{id}
func (k keys) dlq(id string) string { return k.prefix + "dlq:" + id }

// dlqByTime is the Sorted Set of DLQ entry IDs scored by failure time.
func (k keys) dlqByTime() string { return k.prefix + "dlq_by_time" }

// ── Cluster keys ──

// member returns the key for a member entity: cassieq:member:{id}
func (k keys) member(id string) string { return k.prefix + "member:" + id }

// memberIDs is the Set tracking all member IDs for enumeration.
func (k keys) memberIDs() string { return k.prefix + "member_ids" }

// lock is the expiring lock of a role.
func (k keys) lock(role cluster.Role) string { return k.prefix + "lock:" + string(role) }

// owner is the leadership register of a role.
func (k keys) owner(role cluster.Role) string { return k.prefix + "owner:" + string(role) }

// ── Bus ──

// events is the Pub/Sub channel carrying bus events.
func (k keys) events() string { return k.prefix + "events" }
