package workflow

import "fmt"

// Node-local failure reasons recorded in RunState.Errors.
const (
	reasonCycle       = "cycle detected"
	reasonTimeout     = "timeout"
	reasonInvalidEdge = "invalid inbound connection"
)

// ValidationError reports an edge that violates port type compatibility.
// It is rejected at authoring time and never enters a stored graph.
type ValidationError struct {
	EdgeID     string
	SourceType DataType
	TargetType DataType
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("edge %s: incompatible connection %s -> %s", e.EdgeID, e.SourceType, e.TargetType)
}

// RunError is a run-level fatal error reported before any node is
// dispatched (e.g. a graph with no input node).
type RunError struct {
	Reason string
}

func (e *RunError) Error() string { return e.Reason }

// GateError reports a resolveGate call against a node that is not
// currently waiting for approval.
type GateError struct {
	NodeID string
	Status Status
}

func (e *GateError) Error() string {
	return fmt.Sprintf("node %s is not waiting for approval (status %s)", e.NodeID, e.Status)
}

// TransientError marks a generation failure that the caller could retry
// later (rate limits, upstream 5xx). The engine maps it to node ERROR all
// the same; retry policy belongs to the generation service contract.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a generation failure that retrying cannot fix.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }
