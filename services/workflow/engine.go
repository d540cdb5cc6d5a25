package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Run-level status values.
const (
	RunRunning   = "running"
	RunWaiting   = "waiting"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
)

// Gate decisions accepted by ResolveGate; they match the gatekeeper's
// output handle ids.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// defaultCallTimeout bounds a single external call made by an executor.
const defaultCallTimeout = 60 * time.Second

// Task is one unit of queued work: deliver value to a node's input port.
type Task struct {
	NodeID string   `json:"nodeId"`
	PortID string   `json:"portId"`
	Value  Artifact `json:"value"`
}

// RunState is the complete, serializable state of a single run. It is
// persisted whenever a gate suspends and when the queue drains, so a
// paused run can be inspected and resumed after a process restart. The
// graph is snapshotted into the state: editing the workflow later never
// changes what a suspended run resumes against.
type RunState struct {
	ID         string                         `json:"id"`
	WorkflowID string                         `json:"workflowId"`
	Status     string                         `json:"status"`
	Graph      *Workflow                      `json:"graph"`
	Statuses   map[string]Status              `json:"statuses"`
	Results    map[string]*Artifact           `json:"results"`
	Pending    map[string]map[string]Artifact `json:"pending"`
	Blackboard map[string]Artifact            `json:"blackboard"`
	Queue      []Task                         `json:"queue"`
	Dispatches map[string]int                 `json:"dispatches"`
	Errors     map[string]string              `json:"errors"`
	Gates      map[string]string              `json:"gates"`
	DeadEdges  map[string]bool                `json:"deadEdges"`
}

// View projects the run state into the client-facing snapshot.
func (st *RunState) View() RunView {
	view := RunView{RunID: st.ID, WorkflowID: st.WorkflowID, Status: st.Status}
	for _, node := range st.Graph.Nodes {
		view.Nodes = append(view.Nodes, NodeRunView{
			NodeID: node.ID,
			Status: st.Statuses[node.ID],
			Error:  st.Errors[node.ID],
			Result: st.Results[node.ID],
		})
		if msg, ok := st.Gates[node.ID]; ok {
			view.Gates = append(view.Gates, GateView{NodeID: node.ID, Message: msg})
		}
	}
	return view
}

// RunStore abstracts durable run-state persistence. GetRun returns
// nil, nil when the run does not exist.
type RunStore interface {
	SaveRun(ctx context.Context, st *RunState) error
	GetRun(ctx context.Context, id string) (*RunState, error)
}

// Engine executes workflow graphs. It is single-threaded and
// cooperative per run: one task at a time, the next not dispatched until
// the current executor returns. Independent branches interleave
// breadth-first through the queue with no ordering guarantee between
// them, but a node never runs before its required inputs are committed.
type Engine struct {
	registry Registry
	runs     RunStore
	timeout  time.Duration

	mu        sync.Mutex
	cancelled map[string]bool
}

// NewEngine creates an Engine with the given executor registry and run
// store. timeout bounds each external call; zero means the default.
func NewEngine(registry Registry, runs RunStore, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Engine{
		registry:  registry,
		runs:      runs,
		timeout:   timeout,
		cancelled: make(map[string]bool),
	}
}

// Execute runs a workflow graph to quiescence: until the queue is empty
// and every reachable branch has either finished or suspended on a gate.
// The returned state is already persisted. A graph with no input node is
// a run-level error reported before any dispatch.
func (e *Engine) Execute(ctx context.Context, wf *Workflow) (*RunState, error) {
	var seeds []Node
	for _, node := range wf.Nodes {
		if node.Kind == KindInput {
			seeds = append(seeds, node)
		}
	}
	if len(seeds) == 0 {
		return nil, &RunError{Reason: "workflow has no input node"}
	}

	st := &RunState{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		Status:     RunRunning,
		Graph:      wf,
		Statuses:   make(map[string]Status, len(wf.Nodes)),
		Results:    make(map[string]*Artifact),
		Pending:    make(map[string]map[string]Artifact),
		Blackboard: make(map[string]Artifact),
		Dispatches: make(map[string]int),
		Errors:     make(map[string]string),
		Gates:      make(map[string]string),
		DeadEdges:  make(map[string]bool),
	}
	for _, node := range wf.Nodes {
		st.Statuses[node.ID] = StatusPending
	}

	// The graph may come from an untrusted planner: re-validate every
	// edge and quarantine cycles before seeding the queue.
	e.quarantineInvalidEdges(st)
	e.quarantineCycles(st)

	for _, node := range seeds {
		if st.Statuses[node.ID] != StatusPending {
			continue
		}
		st.Queue = append(st.Queue, Task{
			NodeID: node.ID,
			PortID: "prompt",
			Value:  TextArtifact(configString(node, "prompt")),
		})
	}

	if err := e.loop(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// ResolveGate applies a human decision to a suspended gate node and
// resumes the run from its persisted state, exactly as if the gate had
// completed synchronously on the chosen handle. Returns nil, nil when
// the run is unknown.
func (e *Engine) ResolveGate(ctx context.Context, runID, nodeID, decision string) (*RunState, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, fmt.Errorf("invalid decision %q", decision)
	}

	st, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	if st == nil {
		return nil, nil
	}
	if st.Status == RunCancelled {
		return nil, fmt.Errorf("run %s is cancelled", runID)
	}
	if st.Statuses[nodeID] != StatusWaitingForApproval {
		return nil, &GateError{NodeID: nodeID, Status: st.Statuses[nodeID]}
	}

	node := findNode(st.Graph, nodeID)
	if node == nil {
		return nil, fmt.Errorf("gate node %q not in run graph", nodeID)
	}

	slog.Info("Resolving gate", "runId", runID, "nodeId", nodeID, "decision", decision)

	st.Statuses[nodeID] = StatusWorking
	art, ok := pickInput(st.Pending[nodeID], "data")
	if !ok {
		art = TextArtifact("")
	}
	delete(st.Gates, nodeID)
	st.Status = RunRunning

	res := &ExecResult{
		Result:  &art,
		Outputs: map[string]Artifact{decision: art},
	}
	e.completeNode(st, *node, res, buildEdgeMap(st.Graph.Edges)[nodeID])

	if err := e.loop(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Cancel stops further dispatch for a run. Cancellation is cooperative:
// an executor already awaiting an external call is abandoned best-effort,
// not interrupted. Returns nil, nil when the run is unknown and not
// currently active.
func (e *Engine) Cancel(ctx context.Context, runID string) (*RunState, error) {
	e.mu.Lock()
	e.cancelled[runID] = true
	e.mu.Unlock()

	st, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	if st == nil {
		return nil, nil
	}
	if st.Status == RunRunning || st.Status == RunWaiting {
		e.markCancelled(st)
		if err := e.runs.SaveRun(ctx, st); err != nil {
			return nil, fmt.Errorf("persist cancelled run: %w", err)
		}
	}
	return st, nil
}

// loop drains the work queue. Each dequeued task records its value into
// the target node's pending inputs; the node dispatches once every
// required port is satisfied, regardless of arrival order.
func (e *Engine) loop(ctx context.Context, st *RunState) error {
	nodeByID := make(map[string]*Node, len(st.Graph.Nodes))
	for i := range st.Graph.Nodes {
		nodeByID[st.Graph.Nodes[i].ID] = &st.Graph.Nodes[i]
	}
	edgeMap := buildEdgeMap(st.Graph.Edges)

	for len(st.Queue) > 0 {
		if e.takeCancelRequest(st.ID) {
			e.markCancelled(st)
			break
		}

		task := st.Queue[0]
		st.Queue = st.Queue[1:]

		node, ok := nodeByID[task.NodeID]
		if !ok {
			continue
		}
		// Only PENDING nodes accept work; late deliveries to finished,
		// failed or suspended nodes are dropped.
		if st.Statuses[node.ID] != StatusPending {
			continue
		}

		if st.Pending[node.ID] == nil {
			st.Pending[node.ID] = make(map[string]Artifact)
		}
		st.Pending[node.ID][task.PortID] = task.Value

		if !joinReady(*node, st.Pending[node.ID]) {
			continue
		}

		st.Dispatches[node.ID]++
		if st.Dispatches[node.ID] > len(st.Graph.Nodes) {
			e.failNode(st, node.ID, reasonCycle)
			continue
		}

		exec, ok := e.registry[executorKey(*node)]
		if !ok {
			e.failNode(st, node.ID, fmt.Sprintf("no executor registered for node type %q", node.Kind))
			continue
		}

		st.Statuses[node.ID] = StatusWorking
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		res, err := exec.Execute(callCtx, *node, st.Pending[node.ID], &RunContext{
			Blackboard: st.Blackboard,
			Results:    st.Results,
		})
		cancel()

		if err != nil {
			reason := err.Error()
			if errors.Is(err, context.DeadlineExceeded) {
				reason = reasonTimeout
			}
			e.failNode(st, node.ID, reason)
			continue
		}

		if res.Waiting {
			st.Statuses[node.ID] = StatusWaitingForApproval
			st.Gates[node.ID] = res.Message
			// Persist immediately: the approval may arrive after a restart.
			if err := e.runs.SaveRun(ctx, st); err != nil {
				return fmt.Errorf("persist gate state: %w", err)
			}
			slog.Info("Gate suspended", "runId", st.ID, "nodeId", node.ID)
			continue
		}

		e.completeNode(st, *node, res, edgeMap[node.ID])
	}

	if st.Status != RunCancelled {
		if len(st.Gates) > 0 {
			st.Status = RunWaiting
		} else {
			st.Status = RunCompleted
		}
	}
	if err := e.runs.SaveRun(ctx, st); err != nil {
		return fmt.Errorf("persist run: %w", err)
	}
	return nil
}

// completeNode marks a node DONE, caches its artifact and enqueues a
// task for every outgoing edge on a produced handle. Edges on handles
// the node did not produce belong to a discarded branch: nodes reachable
// only through them are skipped.
func (e *Engine) completeNode(st *RunState, node Node, res *ExecResult, edges []Edge) {
	st.Statuses[node.ID] = StatusDone
	if res.Result != nil {
		st.Results[node.ID] = res.Result
	}

	discarded := false
	for _, edge := range edges {
		if st.DeadEdges[edge.ID] {
			continue
		}
		var value Artifact
		produced := false
		if res.Outputs != nil {
			value, produced = res.Outputs[edge.SourceHandle]
		} else if res.Result != nil {
			value, produced = *res.Result, true
		}
		if !produced {
			st.DeadEdges[edge.ID] = true
			discarded = true
			continue
		}
		st.Queue = append(st.Queue, Task{NodeID: edge.Target, PortID: edge.TargetHandle, Value: value})
	}
	if discarded {
		e.cascade(st, StatusSkipped, "")
	}
}

// failNode records a node-local failure. Failure never propagates
// forward: downstream joins simply never complete, and independent
// branches keep running.
func (e *Engine) failNode(st *RunState, nodeID, reason string) {
	st.Statuses[nodeID] = StatusError
	st.Errors[nodeID] = reason
	slog.Warn("Node failed", "runId", st.ID, "nodeId", nodeID, "reason", reason)
}

// quarantineInvalidEdges drops every type-incompatible edge from routing
// and fails the nodes reachable exclusively through them. Valid parts of
// the graph still run.
func (e *Engine) quarantineInvalidEdges(st *RunState) {
	for _, violation := range ValidateGraph(st.Graph) {
		st.DeadEdges[violation.EdgeID] = true
		slog.Warn("Dropping invalid edge", "runId", st.ID, "edgeId", violation.EdgeID,
			"source", violation.SourceType, "target", violation.TargetType)
	}
	e.cascade(st, StatusError, reasonInvalidEdge)
}

// quarantineCycles fails every node that sits on, or is fed only
// through, a cycle. Kahn's algorithm over the live edges: whatever never
// reaches indegree zero can never satisfy its join.
func (e *Engine) quarantineCycles(st *RunState) {
	indegree := make(map[string]int, len(st.Graph.Nodes))
	for _, node := range st.Graph.Nodes {
		indegree[node.ID] = 0
	}
	adjacency := make(map[string][]string)
	for _, edge := range st.Graph.Edges {
		if st.DeadEdges[edge.ID] {
			continue
		}
		if _, ok := indegree[edge.Target]; !ok {
			continue
		}
		indegree[edge.Target]++
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
	}

	var frontier []string
	for id, d := range indegree {
		if d == 0 {
			frontier = append(frontier, id)
		}
	}
	visited := 0
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		visited++
		for _, next := range adjacency[id] {
			indegree[next]--
			if indegree[next] == 0 {
				frontier = append(frontier, next)
			}
		}
	}
	if visited == len(st.Graph.Nodes) {
		return
	}
	for id, d := range indegree {
		if d > 0 && st.Statuses[id] == StatusPending {
			e.failNode(st, id, reasonCycle)
		}
	}
}

// cascade adopts the given status for every still-pending node whose
// inbound edges are all dead, then kills its outbound edges, repeating
// to a fixpoint. A node with at least one live inbound path is left
// alone: it waits normally on that path's contribution.
func (e *Engine) cascade(st *RunState, status Status, reason string) {
	inbound := make(map[string][]Edge)
	outbound := make(map[string][]Edge)
	for _, edge := range st.Graph.Edges {
		inbound[edge.Target] = append(inbound[edge.Target], edge)
		outbound[edge.Source] = append(outbound[edge.Source], edge)
	}

	for changed := true; changed; {
		changed = false
		for _, node := range st.Graph.Nodes {
			if st.Statuses[node.ID] != StatusPending {
				continue
			}
			edges := inbound[node.ID]
			if len(edges) == 0 {
				continue
			}
			live := false
			for _, edge := range edges {
				if !st.DeadEdges[edge.ID] {
					live = true
					break
				}
			}
			if live {
				continue
			}
			st.Statuses[node.ID] = status
			if reason != "" {
				st.Errors[node.ID] = reason
			}
			for _, edge := range outbound[node.ID] {
				st.DeadEdges[edge.ID] = true
			}
			changed = true
		}
	}
}

// markCancelled stops the run: pending and working nodes become
// CANCELLED and no further tasks dispatch. Gate nodes keep their
// waiting status for inspection, but a cancelled run refuses resolution.
func (e *Engine) markCancelled(st *RunState) {
	st.Status = RunCancelled
	st.Queue = nil
	for id, status := range st.Statuses {
		if status == StatusPending || status == StatusWorking {
			st.Statuses[id] = StatusCancelled
		}
	}
}

// takeCancelRequest consumes a pending cancel flag for the run.
func (e *Engine) takeCancelRequest(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled[runID] {
		delete(e.cancelled, runID)
		return true
	}
	return false
}

// joinReady reports whether every required input port of the node's
// resolved job has a delivered value. Arrival order is irrelevant; only
// completeness matters. Nodes without a job definition run on first
// delivery.
func joinReady(node Node, pending map[string]Artifact) bool {
	job := ResolveJob(node)
	if job == nil {
		return true
	}
	for _, port := range job.Inputs {
		if !port.Required {
			continue
		}
		if _, ok := pending[port.ID]; !ok {
			return false
		}
	}
	return true
}

func findNode(wf *Workflow, id string) *Node {
	for i := range wf.Nodes {
		if wf.Nodes[i].ID == id {
			return &wf.Nodes[i]
		}
	}
	return nil
}

// buildEdgeMap indexes edges by source node ID.
func buildEdgeMap(edges []Edge) map[string][]Edge {
	m := make(map[string][]Edge)
	for _, edge := range edges {
		m[edge.Source] = append(m[edge.Source], edge)
	}
	return m
}
