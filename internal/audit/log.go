package audit

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/YvesL-Web/project-manager/internal/auth"
	"github.com/YvesL-Web/project-manager/internal/obs"
)

type requestIDKey struct{}

// Event describes one security relevant action: a login or a directory mutation.
type Event struct {
	Name         string
	ResourceType string
	ResourceID   string
	Fields       map[string]any
}

// WithRequestID attaches the request identifier so audit entries can be correlated with access logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	rid, _ := ctx.Value(requestIDKey{}).(string)
	return rid
}

// Record writes ev as a single JSON line of type "audit". The acting identity is taken
// from ctx; anonymous actions (a failed login) carry no actor fields.
func Record(ctx context.Context, ev Event) error {
	name := strings.TrimSpace(ev.Name)
	if name == "" {
		return errors.New("audit: event name is required")
	}
	entry := map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"type":   "audit",
		"event":  name,
		"fields": map[string]any{},
	}
	if rid := requestID(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		if id.UserID != "" {
			entry["user_id"] = id.UserID
		}
		if id.Username != "" {
			entry["username"] = id.Username
		}
	}
	if ev.ResourceType != "" {
		entry["resource_type"] = ev.ResourceType
	}
	if ev.ResourceID != "" {
		entry["resource_id"] = ev.ResourceID
	}
	if len(ev.Fields) > 0 {
		entry["fields"] = maps.Clone(ev.Fields)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
