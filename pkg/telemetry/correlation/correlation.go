// Package correlation carries the identifier that ties an API request to the
// events it publishes.
package correlation

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey struct{}

// ID returns the correlation id stored on ctx, or "".
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// With stores id on ctx. An empty id leaves ctx unchanged.
func With(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// Ensure returns ctx carrying a correlation id. A missing id is minted as a
// ULID so ids sort by creation time.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := ID(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return With(ctx, id), id
}

// Metadata is attached to every outbound event.
type Metadata struct {
	CorrelationID string `json:"correlation_id"`
	TraceID       string `json:"trace_id,omitempty"`
	SpanID        string `json:"span_id,omitempty"`
}

func MetadataFromContext(ctx context.Context) Metadata {
	_, id := Ensure(ctx)
	meta := Metadata{CorrelationID: id}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		meta.TraceID, meta.SpanID = sc.TraceID().String(), sc.SpanID().String()
	}
	return meta
}
