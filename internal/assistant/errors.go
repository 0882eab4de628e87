package assistant

import "errors"

// Stage-level errors. The orchestrator catches all of these at its boundary
// and converts them into the next fallback transition; none propagate to the
// API caller.
var (
	// ErrSchemaIntrospection indicates the snapshotter could not capture the
	// schema. Fatal for the attempt; no partial snapshot is cached.
	ErrSchemaIntrospection = errors.New("schema introspection failed")

	// ErrSynthesis indicates the model call failed or returned unusable output.
	ErrSynthesis = errors.New("query synthesis failed")

	// ErrUnsafeQuery indicates the validator rejected a candidate. Rejected
	// text is never executed.
	ErrUnsafeQuery = errors.New("unsafe query rejected")

	// ErrExecution indicates a database-level failure running a validated query.
	ErrExecution = errors.New("query execution failed")

	// ErrRetrieval indicates the vector fallback path itself failed; the chain
	// is terminal after this.
	ErrRetrieval = errors.New("evidence retrieval failed")
)
