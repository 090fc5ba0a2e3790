package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	targetIDKey   contextKey = "target_id"
	editionIDKey  contextKey = "edition_id"
	workflowIDKey contextKey = "workflow_id"
	runIDKey      contextKey = "workflow_run_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithTarget adds harvest target and edition IDs to the context.
func WithTarget(ctx context.Context, targetID, editionID string) context.Context {
	ctx = context.WithValue(ctx, targetIDKey, targetID)
	ctx = context.WithValue(ctx, editionIDKey, editionID)
	return ctx
}

// TargetFromContext retrieves harvest target and edition IDs from context.
// Returns empty strings if not present.
func TargetFromContext(ctx context.Context) (targetID, editionID string) {
	if v := ctx.Value(targetIDKey); v != nil {
		if id, ok := v.(string); ok {
			targetID = id
		}
	}
	if v := ctx.Value(editionIDKey); v != nil {
		if id, ok := v.(string); ok {
			editionID = id
		}
	}
	return targetID, editionID
}

// WithWorkflow adds workflow ID and run ID to the context.
func WithWorkflow(ctx context.Context, workflowID, runID string) context.Context {
	ctx = context.WithValue(ctx, workflowIDKey, workflowID)
	ctx = context.WithValue(ctx, runIDKey, runID)
	return ctx
}

// WorkflowFromContext retrieves workflow ID and run ID from context.
// Returns empty strings if not present.
func WorkflowFromContext(ctx context.Context) (workflowID, runID string) {
	if v := ctx.Value(workflowIDKey); v != nil {
		if id, ok := v.(string); ok {
			workflowID = id
		}
	}
	if v := ctx.Value(runIDKey); v != nil {
		if id, ok := v.(string); ok {
			runID = id
		}
	}
	return workflowID, runID
}
