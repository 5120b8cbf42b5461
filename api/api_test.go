package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/api"
	"github.com/paradoxical-io/cassieq-sub001/clock"
	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/engine"
	"github.com/paradoxical-io/cassieq-sub001/queue"
	"github.com/paradoxical-io/cassieq-sub001/store/memory"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const queues = "/api/v1/accounts/acme/queues"

type testServer struct {
	t   *testing.T
	srv *httptest.Server
	eng *engine.Engine
}

func newServer(t *testing.T, opts ...engine.Option) *testServer {
	t.Helper()
	cfg := cassieq.DefaultConfig()
	cfg.NodeName = "api-test"
	cfg.CASRetryWait = time.Millisecond
	cfg.CASRetryMaxWait = 5 * time.Millisecond
	cfg.JanitorSchedule = ""
	cfg.DeletionDelay = time.Hour

	eng, err := engine.New(memory.New(), cfg, opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	srv := httptest.NewServer(api.New(eng).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = eng.Stop(context.Background())
	})
	return &testServer{t: t, srv: srv, eng: eng}
}

// call sends body (JSON-encoded unless it is a []byte) and decodes a JSON
// reply into out when out is not nil.
func (s *testServer) call(method, path string, body any, out any) int {
	s.t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rdr)
	if err != nil {
		s.t.Fatalf("new request: %v", err)
	}
	resp, err := s.srv.Client().Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			s.t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *testServer) create(name string) {
	s.t.Helper()
	if code := s.call(http.MethodPost, queues, api.CreateQueueRequest{QueueName: name}, nil); code != http.StatusCreated {
		s.t.Fatalf("create %s = %d, want 201", name, code)
	}
}

func (s *testServer) next(name string, visibilitySeconds int) (*api.MessageResponse, int) {
	s.t.Helper()
	var msg api.MessageResponse
	code := s.call(http.MethodGet, queues+"/"+name+"/messages/next?invisibilityTimeSeconds="+itoa(visibilitySeconds), nil, &msg)
	if code != http.StatusOK {
		return nil, code
	}
	return &msg, code
}

// ──────────────────────────────────────────────────
// Queues
// ──────────────────────────────────────────────────

func TestCreateAndGetQueue(t *testing.T) {
	s := newServer(t)

	var created api.QueueResponse
	code := s.call(http.MethodPost, queues, api.CreateQueueRequest{
		QueueName:        "orders",
		BucketSize:       5,
		MaxDeliveryCount: 3,
		DeadLetterQueue:  "orders-dead",
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create = %d, want 201", code)
	}
	if created.Version != 0 || created.BucketSize != 5 || created.MaxDeliveryCount != 3 || created.Status != "active" {
		t.Fatalf("created = %+v", created)
	}

	var got api.QueueResponse
	if code := s.call(http.MethodGet, queues+"/orders", nil, &got); code != http.StatusOK {
		t.Fatalf("get = %d, want 200", code)
	}
	if got.DeadLetterQueue != "orders-dead" || got.Account != "acme" {
		t.Fatalf("got = %+v", got)
	}
}

func TestCreateQueue_Errors(t *testing.T) {
	s := newServer(t)
	s.create("orders")

	tests := []struct {
		name string
		body any
		code int
		want string
	}{
		{"exists", api.CreateQueueRequest{QueueName: "orders"}, http.StatusConflict, "queue_exists"},
		{"missing name", api.CreateQueueRequest{}, http.StatusBadRequest, "invalid_queue"},
		{"negative bucket size", api.CreateQueueRequest{QueueName: "x", BucketSize: -1}, http.StatusBadRequest, "invalid_queue"},
		{"malformed body", []byte("{"), http.StatusBadRequest, "bad_request"},
		{"repair interval overflows", api.CreateQueueRequest{QueueName: "x", RepairIntervalSeconds: math.MaxInt}, http.StatusBadRequest, "bad_request"},
		{"negative grace", api.CreateQueueRequest{QueueName: "x", TombstoneGraceSeconds: -1}, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e api.ErrorResponse
			if code := s.call(http.MethodPost, queues, tt.body, &e); code != tt.code || e.Code != tt.want {
				t.Fatalf("create = %d %q, want %d %q", code, e.Code, tt.code, tt.want)
			}
		})
	}
}

func TestListQueues_FiltersAccount(t *testing.T) {
	s := newServer(t)
	s.create("a")
	s.create("b")
	if code := s.call(http.MethodPost, "/api/v1/accounts/globex/queues", api.CreateQueueRequest{QueueName: "c"}, nil); code != http.StatusCreated {
		t.Fatalf("create globex = %d", code)
	}

	var out []api.QueueResponse
	if code := s.call(http.MethodGet, queues+"?status=active", nil, &out); code != http.StatusOK {
		t.Fatalf("list = %d", code)
	}
	if len(out) != 2 {
		t.Fatalf("listed %d queues, want 2: %+v", len(out), out)
	}
	for _, q := range out {
		if q.Account != "acme" {
			t.Fatalf("listed foreign queue %+v", q)
		}
	}
}

func TestDeleteQueue(t *testing.T) {
	s := newServer(t)
	s.create("orders")

	var deleted api.QueueResponse
	if code := s.call(http.MethodDelete, queues+"/orders", nil, &deleted); code != http.StatusAccepted {
		t.Fatalf("delete = %d, want 202", code)
	}
	if deleted.Status != string(queue.StatusDeleting) {
		t.Fatalf("deleted status = %q", deleted.Status)
	}

	var e api.ErrorResponse
	if code := s.call(http.MethodDelete, queues+"/orders", nil, &e); code != http.StatusConflict || e.Code != "queue_deleting" {
		t.Fatalf("second delete = %d %q", code, e.Code)
	}
	if code := s.call(http.MethodGet, queues+"/orders", nil, &e); code != http.StatusNotFound {
		t.Fatalf("get deleted = %d, want 404", code)
	}

	// A new version can be created while the old one is erased.
	s.create("orders")
}

func TestQueueStatistics(t *testing.T) {
	s := newServer(t)

	if code := s.call(http.MethodGet, queues+"/orders/statistics", nil, nil); code != http.StatusNotFound {
		t.Fatalf("statistics of unknown queue = %d, want 404", code)
	}

	s.create("orders")
	for _, body := range []string{"a", "b", "c"} {
		s.call(http.MethodPost, queues+"/orders/messages", []byte(body), nil)
	}

	var stats api.QueueStatisticsResponse
	if code := s.call(http.MethodGet, queues+"/orders/statistics", nil, &stats); code != http.StatusOK || stats.Size != 3 {
		t.Fatalf("statistics = %d %+v, want size 3", code, stats)
	}
}

// ──────────────────────────────────────────────────
// Messages
// ──────────────────────────────────────────────────

func TestPutConsumeAck(t *testing.T) {
	s := newServer(t)
	s.create("orders")

	var put api.PutMessageResponse
	if code := s.call(http.MethodPost, queues+"/orders/messages", []byte("hello"), &put); code != http.StatusCreated {
		t.Fatalf("put = %d, want 201", code)
	}
	if put.Index != 0 {
		t.Fatalf("index = %d, want 0", put.Index)
	}

	msg, code := s.next("orders", 5)
	if code != http.StatusOK {
		t.Fatalf("next = %d, want 200", code)
	}
	if msg.Message != "hello" || msg.Encoding != "" || msg.DeliveryCount != 1 || msg.PopReceipt == "" {
		t.Fatalf("message = %+v", msg)
	}

	ack := queues + "/orders/messages?popReceipt=" + msg.PopReceipt
	if code := s.call(http.MethodDelete, ack, nil, nil); code != http.StatusNoContent {
		t.Fatalf("ack = %d, want 204", code)
	}
	var e api.ErrorResponse
	if code := s.call(http.MethodDelete, ack, nil, &e); code != http.StatusConflict || e.Code != "stale_receipt" {
		t.Fatalf("second ack = %d %q, want 409 stale_receipt", code, e.Code)
	}

	if _, code := s.next("orders", 5); code != http.StatusNoContent {
		t.Fatalf("next on drained queue = %d, want 204", code)
	}
}

func TestMessages_SecondsOutOfRange(t *testing.T) {
	s := newServer(t)
	s.create("orders")

	paths := []string{
		queues + "/orders/messages/next?invisibilityTimeSeconds=9223372037",
		queues + "/orders/messages/next?invisibilityTimeSeconds=-1",
	}
	for _, p := range paths {
		var e api.ErrorResponse
		if code := s.call(http.MethodGet, p, nil, &e); code != http.StatusBadRequest || e.Code != "bad_request" {
			t.Fatalf("GET %s = %d %q, want 400 bad_request", p, code, e.Code)
		}
	}

	var e api.ErrorResponse
	code := s.call(http.MethodPost, queues+"/orders/messages?initialInvisibilitySeconds=9223372037", []byte("x"), &e)
	if code != http.StatusBadRequest || e.Code != "bad_request" {
		t.Fatalf("put = %d %q, want 400 bad_request", code, e.Code)
	}
}

func TestPut_RejectsNonText(t *testing.T) {
	s := newServer(t)
	s.create("orders")

	var e api.ErrorResponse
	if code := s.call(http.MethodPost, queues+"/orders/messages", []byte{0xff, 0xfe, 0x00}, &e); code != http.StatusBadRequest || e.Code != "bad_request" {
		t.Fatalf("put = %d %q, want 400 bad_request", code, e.Code)
	}
}

func TestNext_BinaryPayloadIsEncoded(t *testing.T) {
	s := newServer(t)
	s.create("orders")
	raw := []byte{0xff, 0xfe, 0x00, 'a'}
	if _, err := s.eng.Put(context.Background(), queue.Ref{Account: "acme", Name: "orders"}, raw, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}

	msg, code := s.next("orders", 5)
	if code != http.StatusOK {
		t.Fatalf("next = %d, want 200", code)
	}
	if msg.Encoding != api.EncodingBase64 {
		t.Fatalf("encoding = %q, want base64", msg.Encoding)
	}
	got, err := msg.Payload()
	if err != nil || !bytes.Equal(got, raw) {
		t.Fatalf("payload = %v, %v; want %v", got, err, raw)
	}
}

func TestAck_BadReceipt(t *testing.T) {
	s := newServer(t)
	s.create("orders")

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"missing", "", "bad_request"},
		{"malformed", "?popReceipt=not-a-receipt!", "invalid_receipt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e api.ErrorResponse
			code := s.call(http.MethodDelete, queues+"/orders/messages"+tt.query, nil, &e)
			if code != http.StatusBadRequest || e.Code != tt.want {
				t.Fatalf("ack = %d %q, want 400 %q", code, e.Code, tt.want)
			}
		})
	}
}

func TestUpdateMessage(t *testing.T) {
	s := newServer(t)
	s.create("orders")
	s.call(http.MethodPost, queues+"/orders/messages", []byte("draft"), nil)

	msg, _ := s.next("orders", 5)
	body := "final"
	var upd api.UpdateMessageResponse
	code := s.call(http.MethodPut, queues+"/orders/messages", api.UpdateMessageRequest{
		PopReceipt:              msg.PopReceipt,
		InvisibilityTimeSeconds: 0,
		Message:                 &body,
	}, &upd)
	if code != http.StatusOK || upd.PopReceipt == msg.PopReceipt {
		t.Fatalf("update = %d %+v", code, upd)
	}

	// The old receipt is stale; the message is visible again with the new body.
	var e api.ErrorResponse
	if code := s.call(http.MethodDelete, queues+"/orders/messages?popReceipt="+msg.PopReceipt, nil, &e); code != http.StatusConflict {
		t.Fatalf("ack with old receipt = %d, want 409", code)
	}
	again, code := s.next("orders", 5)
	if code != http.StatusOK || again.Message != "final" {
		t.Fatalf("redelivery = %d %+v", code, again)
	}

	code = s.call(http.MethodPut, queues+"/orders/messages", api.UpdateMessageRequest{PopReceipt: msg.PopReceipt}, &e)
	if code != http.StatusConflict || e.Code != "stale_receipt" {
		t.Fatalf("update with stale receipt = %d %q", code, e.Code)
	}
}

func TestUpdateMessageByTag(t *testing.T) {
	s := newServer(t)
	s.create("orders")
	s.call(http.MethodPost, queues+"/orders/messages", []byte("draft"), nil)
	msg, _ := s.next("orders", 30)

	path := queues + "/orders/messages/0?tag=" + msg.MessageTag
	var upd api.UpdateByTagResponse
	if code := s.call(http.MethodPut, path, []byte("final"), &upd); code != http.StatusOK || upd.MessageTag == msg.MessageTag {
		t.Fatalf("update by tag = %d %+v", code, upd)
	}
	if code := s.call(http.MethodPut, path, []byte("late"), nil); code != http.StatusConflict {
		t.Fatalf("update with stale tag = %d, want 409", code)
	}
	if code := s.call(http.MethodPut, queues+"/orders/messages/x?tag=a", []byte("x"), nil); code != http.StatusBadRequest {
		t.Fatalf("update with bad index = %d, want 400", code)
	}
}

func TestPut_InitialInvisibility(t *testing.T) {
	clk := clock.NewManual(epoch)
	s := newServer(t, engine.WithClock(clk))
	s.create("orders")

	s.call(http.MethodPost, queues+"/orders/messages?initialInvisibilitySeconds=10", []byte("later"), nil)
	if _, code := s.next("orders", 5); code != http.StatusNoContent {
		t.Fatalf("next before deadline = %d, want 204", code)
	}
	clk.Advance(11 * time.Second)
	if msg, code := s.next("orders", 5); code != http.StatusOK || msg.Message != "later" {
		t.Fatalf("next after deadline = %d %+v", code, msg)
	}

	if code := s.call(http.MethodPost, queues+"/orders/messages?initialInvisibilitySeconds=-1", []byte("x"), nil); code != http.StatusBadRequest {
		t.Fatalf("negative invisibility = %d, want 400", code)
	}
}

func TestPut_Throttled(t *testing.T) {
	s := newServer(t, engine.WithLimits(queue.Limit{Account: "acme", Rate: 1, Burst: 1}))
	s.create("orders")

	s.call(http.MethodPost, queues+"/orders/messages", []byte("a"), nil)
	var e api.ErrorResponse
	if code := s.call(http.MethodPost, queues+"/orders/messages", []byte("b"), &e); code != http.StatusTooManyRequests || e.Code != "throttled" {
		t.Fatalf("throttled put = %d %q", code, e.Code)
	}
}

func TestMessages_UnknownQueue(t *testing.T) {
	s := newServer(t)
	var e api.ErrorResponse
	if code := s.call(http.MethodPost, queues+"/missing/messages", []byte("x"), &e); code != http.StatusNotFound || e.Code != "queue_not_found" {
		t.Fatalf("put to unknown queue = %d %q", code, e.Code)
	}
}

// ──────────────────────────────────────────────────
// Repair and dead letters
// ──────────────────────────────────────────────────

func TestRepairAndDLQ(t *testing.T) {
	clk := clock.NewManual(epoch)
	s := newServer(t, engine.WithClock(clk))
	s.call(http.MethodPost, queues, api.CreateQueueRequest{QueueName: "orders", MaxDeliveryCount: 1}, nil)
	s.call(http.MethodPost, queues+"/orders/messages", []byte("poison"), nil)

	if _, code := s.next("orders", 5); code != http.StatusOK {
		t.Fatalf("next = %d", code)
	}
	clk.Advance(6 * time.Second)

	var rep api.RepairResponse
	if code := s.call(http.MethodPost, queues+"/orders/repair", nil, &rep); code != http.StatusOK || rep.Poisoned != 1 {
		t.Fatalf("repair = %d %+v, want one poisoned", code, rep)
	}

	var count api.DLQCountResponse
	if code := s.call(http.MethodGet, "/api/v1/dlq/count", nil, &count); code != http.StatusOK || count.Count != 1 {
		t.Fatalf("dlq count = %d %+v", code, count)
	}

	var entries []*dlq.Entry
	if code := s.call(http.MethodGet, "/api/v1/dlq?account=acme&queue=orders", nil, &entries); code != http.StatusOK || len(entries) != 1 {
		t.Fatalf("dlq list = %d, %d entries", code, len(entries))
	}
	entryPath := "/api/v1/dlq/" + entries[0].ID.String()

	var entry dlq.Entry
	if code := s.call(http.MethodGet, entryPath, nil, &entry); code != http.StatusOK || string(entry.Payload) != "poison" {
		t.Fatalf("dlq get = %d %+v", code, entry)
	}

	var replay api.ReplayDLQResponse
	if code := s.call(http.MethodPost, entryPath+"/replay", nil, &replay); code != http.StatusCreated {
		t.Fatalf("replay = %d, want 201", code)
	}
	if msg, code := s.next("orders", 5); code != http.StatusOK || msg.Message != "poison" || msg.Index != replay.Index {
		t.Fatalf("replayed delivery = %d %+v", code, msg)
	}

	clk.Advance(time.Minute)
	var purged api.PurgeDLQResponse
	if code := s.call(http.MethodPost, "/api/v1/dlq/purge?olderThanSeconds=30", nil, &purged); code != http.StatusOK || purged.Purged != 1 {
		t.Fatalf("purge = %d %+v", code, purged)
	}
}

func TestDLQ_BadAndUnknownEntries(t *testing.T) {
	s := newServer(t)

	if code := s.call(http.MethodGet, "/api/v1/dlq/not-an-id", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("get malformed id = %d, want 400", code)
	}
	var e api.ErrorResponse
	missing := "/api/v1/dlq/dlq_01h455vb4pex5vsknk084sn02q"
	if code := s.call(http.MethodGet, missing, nil, &e); code != http.StatusNotFound || e.Code != "dlq_entry_not_found" {
		t.Fatalf("get unknown id = %d %q", code, e.Code)
	}
	var entries []*dlq.Entry
	if code := s.call(http.MethodGet, "/api/v1/dlq", nil, &entries); code != http.StatusOK || len(entries) != 0 {
		t.Fatalf("empty list = %d %v", code, entries)
	}
	if code := s.call(http.MethodGet, "/api/v1/dlq?limit=x", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d, want 400", code)
	}
}

func TestErrorForCode(t *testing.T) {
	if err := api.ErrorForCode("queue_not_found"); err != cassieq.ErrQueueNotFound {
		t.Fatalf("ErrorForCode(queue_not_found) = %v", err)
	}
	if err := api.ErrorForCode("nope"); err != nil {
		t.Fatalf("ErrorForCode(nope) = %v, want nil", err)
	}
}
