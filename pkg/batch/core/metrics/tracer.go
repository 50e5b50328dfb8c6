package metrics

import (
	"context"
)

// Tracer is an abstract interface for distributed tracing.
// It lets refreshes, upstream queries and workflow runs be followed in a tracing system
// such as OpenTelemetry.
type Tracer interface {
	// StartRefreshSpan starts a Span for a dataset refresh.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	//          It is recommended to call the returned function in a defer statement.
	StartRefreshSpan(ctx context.Context, datasetKey string) (context.Context, func())

	// StartWorkflowSpan starts a Span for a workflow run.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	StartWorkflowSpan(ctx context.Context, code string, runID string) (context.Context, func())

	// StartSpan starts a child Span for any other unit of work (upstream query, publish, iteration).
	StartSpan(ctx context.Context, name string, attributes map[string]interface{}) (context.Context, func())

	// RecordError records an error in the current Span.
	//
	// ctx: The context with the current Span.
	// module: The component where the error occurred (e.g., "upstream", "cache").
	// err: The error to record.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current Span.
	//
	// ctx: The context with the current Span.
	// name: The name of the event (e.g., "retry", "lease_reclaimed").
	// attributes: Additional attributes to associate with the event.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
