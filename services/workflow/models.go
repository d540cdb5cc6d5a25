package workflow

import "time"

// DataType classifies what flows through a port. Compatibility between
// types is a flat predicate, not a hierarchy; see Compatible.
type DataType string

const (
	TypeTrigger DataType = "TRIGGER"
	TypeText    DataType = "TEXT"
	TypeImage   DataType = "IMAGE"
	TypeVideo   DataType = "VIDEO"
	TypeAudio   DataType = "AUDIO"
	TypeContext DataType = "CONTEXT"
	TypeAny     DataType = "ANY"
)

// Status is the per-node execution state within a single run.
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusWorking            Status = "WORKING"
	StatusWaitingForApproval Status = "WAITING_FOR_APPROVAL"
	StatusDone               Status = "DONE"
	StatusError              Status = "ERROR"
	StatusSkipped            Status = "SKIPPED"
	StatusCancelled          Status = "CANCELLED"
)

// Node kinds. Task nodes call the generation service; logic nodes cover
// routing, approval gates and blackboard variables.
const (
	KindInput  = "input"
	KindOutput = "output"
	KindTask   = "task"
	KindLogic  = "logic"
)

// Artifact is the tagged payload produced by a node: text content, or a
// URI for binary media. Consumers check Type instead of shape-sniffing.
type Artifact struct {
	Type     DataType       `json:"type"`
	Payload  string         `json:"payload"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TextArtifact wraps a plain string as a TEXT artifact.
func TextArtifact(s string) Artifact {
	return Artifact{Type: TypeText, Payload: s}
}

// PortDefinition describes one named, typed input or output slot of a job.
type PortDefinition struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Type     DataType `json:"type"`
	Required bool     `json:"required,omitempty"`
}

// JobDefinition is an immutable catalog entry describing a concrete
// operation a node can perform, with its declared ports.
type JobDefinition struct {
	ID      string           `json:"id"`
	Label   string           `json:"label"`
	Inputs  []PortDefinition `json:"inputs"`
	Outputs []PortDefinition `json:"outputs"`
}

// Node represents a single unit of work in a workflow graph. Topology is
// read-only during a run; per-node status and results live in RunState.
type Node struct {
	ID       string         `json:"id"`
	Kind     string         `json:"type"`
	Category string         `json:"category,omitempty"`
	JobID    string         `json:"jobId,omitempty"`
	Label    string         `json:"label,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	Position Position       `json:"position"`
}

// Position holds x/y coordinates for rendering the node on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge represents a directed, typed connection between two node ports.
// Edges only enter a graph through validation (see ValidateGraph).
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
	Label        string `json:"label,omitempty"`
}

// Viewport is the editor camera state, persisted with the graph so the
// canvas reopens where the user left it.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Workflow represents a persisted workflow definition with its graph of
// nodes and edges.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	Viewport    Viewport  `json:"viewport"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// WorkflowSummary is the listing projection of a workflow.
type WorkflowSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SaveWorkflowRequest is the JSON body for saving a graph. Graphs may come
// from the editor or from the AI planner; both are validated identically.
type SaveWorkflowRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Nodes       []Node   `json:"nodes"`
	Edges       []Edge   `json:"edges"`
	Viewport    Viewport `json:"viewport"`
}

// ResolveGateRequest carries the human decision for a waiting gate node.
type ResolveGateRequest struct {
	Decision string `json:"decision"`
}

// NodeRunView is the per-node slice of a run snapshot returned to clients.
type NodeRunView struct {
	NodeID string    `json:"nodeId"`
	Status Status    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Result *Artifact `json:"result,omitempty"`
}

// GateView describes one gate currently waiting for approval.
type GateView struct {
	NodeID  string `json:"nodeId"`
	Message string `json:"message,omitempty"`
}

// RunView is the client-facing projection of a RunState.
type RunView struct {
	RunID      string        `json:"runId"`
	WorkflowID string        `json:"workflowId"`
	Status     string        `json:"status"`
	Nodes      []NodeRunView `json:"nodes"`
	Gates      []GateView    `json:"gates,omitempty"`
}
