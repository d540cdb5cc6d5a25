package workflow

import (
	"context"
)

// RunContext is the slice of run state an executor may touch: the shared
// blackboard and the read-only results of already-completed nodes. It is
// scoped to one run; two runs never observe each other's writes.
type RunContext struct {
	Blackboard map[string]Artifact
	Results    map[string]*Artifact
}

// ExecResult is the outcome of executing a single node.
type ExecResult struct {
	// Result is cached as the node's artifact once the node is DONE.
	Result *Artifact
	// Outputs maps produced output handle ids to the artifact emitted on
	// them. When nil, every outgoing edge carries Result. When set it is
	// exhaustive: only the listed handles propagate, and edges from any
	// unlisted declared handle belong to a discarded branch.
	Outputs map[string]Artifact
	// Waiting suspends the node as WAITING_FOR_APPROVAL instead of
	// completing it. Only the gatekeeper sets this.
	Waiting bool
	// Message is the approval prompt shown by the approval surface.
	Message string
}

// NodeExecutor defines the interface for executing a single node kind.
// inputs holds the joined per-port artifacts delivered by inbound edges.
type NodeExecutor interface {
	Execute(ctx context.Context, node Node, inputs map[string]Artifact, run *RunContext) (*ExecResult, error)
}

// Registry maps executor keys to their implementation. Input, output and
// task nodes are keyed by kind; logic nodes by their resolved job id.
type Registry map[string]NodeExecutor

// NewRegistry creates a registry populated with all built-in executor
// types, wired to the given generation service.
func NewRegistry(gen Generator) Registry {
	vars := &VariableExecutor{}
	return Registry{
		KindInput:      &InputExecutor{},
		KindOutput:     &OutputExecutor{},
		KindTask:       &TaskExecutor{gen: gen},
		JobRouter:      &RouterExecutor{},
		JobGatekeeper:  &GatekeeperExecutor{},
		JobSetVariable: vars,
		JobGetVariable: vars,
	}
}

// executorKey selects the registry entry for a node. Logic nodes resolve
// through the job catalog so the default-first policy applies to them too.
func executorKey(node Node) string {
	if node.Kind != KindLogic {
		return node.Kind
	}
	job := ResolveJob(node)
	if job == nil {
		return ""
	}
	return job.ID
}
