package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
	"github.com/paradoxical-io/cassieq-sub001/api"
	"github.com/paradoxical-io/cassieq-sub001/engine"
	"github.com/paradoxical-io/cassieq-sub001/store/memory"
)

func startServer(t *testing.T) string {
	t.Helper()
	cfg := cassieq.DefaultConfig()
	cfg.NodeName = "cli-test"
	cfg.JanitorSchedule = ""
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng, err := engine.New(memory.New(), cfg, engine.WithLogger(logger))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	srv := httptest.NewServer(api.New(eng, api.WithLogger(logger)).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = eng.Stop(context.Background())
	})
	return srv.URL
}

// run executes the CLI with args against url and returns its output.
func run(t *testing.T, url, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--url", url, "--account", "acme"))
	err := root.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, url string, args ...string) string {
	t.Helper()
	out, err := run(t, url, "", args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func TestCLI_MessageFlow(t *testing.T) {
	url := startServer(t)

	var q api.QueueResponse
	if err := json.Unmarshal([]byte(mustRun(t, url, "queue", "create", "orders", "--bucket-size", "5")), &q); err != nil {
		t.Fatalf("decode create output: %v", err)
	}
	if q.QueueName != "orders" || q.BucketSize != 5 {
		t.Fatalf("created = %+v", q)
	}

	mustRun(t, url, "message", "put", "orders", "--data", "hello")
	if _, err := run(t, url, "from stdin", "message", "put", "orders"); err != nil {
		t.Fatalf("put from stdin: %v", err)
	}

	var size api.QueueStatisticsResponse
	_ = json.Unmarshal([]byte(mustRun(t, url, "queue", "size", "orders")), &size)
	if size.Size != 2 {
		t.Fatalf("size = %d, want 2", size.Size)
	}

	var msg api.MessageResponse
	if err := json.Unmarshal([]byte(mustRun(t, url, "message", "next", "orders", "--visibility", "1m")), &msg); err != nil {
		t.Fatalf("decode next output: %v", err)
	}
	if msg.Message != "hello" {
		t.Fatalf("next = %+v", msg)
	}
	if out := mustRun(t, url, "message", "ack", "orders", msg.PopReceipt); !strings.Contains(out, "acked") {
		t.Fatalf("ack output = %q", out)
	}
	if _, err := run(t, url, "", "message", "ack", "orders", msg.PopReceipt); err == nil {
		t.Fatal("second ack succeeded, want a stale receipt error")
	}

	if err := json.Unmarshal([]byte(mustRun(t, url, "message", "next", "orders")), &msg); err != nil || msg.Message != "from stdin" {
		t.Fatalf("second next = %+v, %v", msg, err)
	}
	if out := mustRun(t, url, "message", "next", "orders"); !strings.Contains(out, "no message") {
		t.Fatalf("next on drained queue = %q", out)
	}
}

func TestCLI_QueueListAndDelete(t *testing.T) {
	url := startServer(t)
	mustRun(t, url, "queue", "create", "a")
	mustRun(t, url, "queue", "create", "b")

	var list []api.QueueResponse
	if err := json.Unmarshal([]byte(mustRun(t, url, "queue", "list", "--status", "active")), &list); err != nil || len(list) != 2 {
		t.Fatalf("list = %+v, %v", list, err)
	}

	mustRun(t, url, "queue", "delete", "a")
	if _, err := run(t, url, "", "queue", "get", "a"); err == nil {
		t.Fatal("get of deleted queue succeeded")
	}
}

func TestCLI_DLQ(t *testing.T) {
	url := startServer(t)

	var count api.DLQCountResponse
	if err := json.Unmarshal([]byte(mustRun(t, url, "dlq", "count")), &count); err != nil || count.Count != 0 {
		t.Fatalf("count = %+v, %v", count, err)
	}
	if out := mustRun(t, url, "dlq", "list"); strings.TrimSpace(out) != "[]" {
		t.Fatalf("list = %q, want []", out)
	}
	if _, err := run(t, url, "", "dlq", "replay", "not-an-id"); err == nil {
		t.Fatal("replay with a malformed id succeeded")
	}
}

func TestCLI_RequiresAccount(t *testing.T) {
	root := NewRoot()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"queue", "list", "--url", "http://127.0.0.1:1", "--account", ""})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "--account") {
		t.Fatalf("err = %v, want missing account", err)
	}
}

func TestMessageNext_VisibilityFlag(t *testing.T) {
	cmd := newMessageNextCommand()
	if err := cmd.Flags().Parse([]string{"--visibility", "90s"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v, _ := cmd.Flags().GetDuration("visibility"); v != 90*time.Second {
		t.Fatalf("visibility = %v, want 90s", v)
	}
}
