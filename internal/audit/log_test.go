package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/YvesL-Web/project-manager/internal/auth"
	"github.com/YvesL-Web/project-manager/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	return entry
}

func TestRecord(t *testing.T) {
	buf := captureLog(t)

	ctx := WithRequestID(context.Background(), "req-123")
	sub := auth.Subject{UserID: "user-42", Username: "alice"}
	ctx = auth.ContextWithIdentity(ctx, auth.NewIdentity(sub, nil))

	fields := map[string]any{"rights": "add_project"}
	err := Record(ctx, Event{Name: "rbac.role.update", ResourceType: "role", ResourceID: "r-1", Fields: fields})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	fields["rights"] = "mutated"

	entry := decodeEntry(t, buf)
	if entry["type"] != "audit" || entry["event"] != "rbac.role.update" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != "user-42" || entry["username"] != "alice" {
		t.Fatalf("unexpected identity fields: %v %v", entry["user_id"], entry["username"])
	}
	if entry["resource_type"] != "role" || entry["resource_id"] != "r-1" {
		t.Fatalf("unexpected resource: %v %v", entry["resource_type"], entry["resource_id"])
	}
	got, ok := entry["fields"].(map[string]any)
	if !ok || got["rights"] != "add_project" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestRecordAnonymous(t *testing.T) {
	buf := captureLog(t)

	if err := Record(context.Background(), Event{Name: "auth.login"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	entry := decodeEntry(t, buf)
	for _, key := range []string{"user_id", "username", "request_id", "resource_id"} {
		if _, ok := entry[key]; ok {
			t.Fatalf("unexpected %s in %v", key, entry)
		}
	}
	if fields, ok := entry["fields"].(map[string]any); !ok || len(fields) != 0 {
		t.Fatalf("expected empty fields, got %v", entry["fields"])
	}
}

func TestRecordRequiresName(t *testing.T) {
	if err := Record(context.Background(), Event{Name: "  "}); err == nil {
		t.Fatal("expected error for blank event name")
	}
}

func TestWithRequestIDIgnoresBlank(t *testing.T) {
	ctx := WithRequestID(context.Background(), "   ")
	if got := requestID(ctx); got != "" {
		t.Fatalf("expected no request id, got %q", got)
	}
}
