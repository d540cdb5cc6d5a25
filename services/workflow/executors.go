package workflow

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// InputExecutor handles input (trigger) nodes. The node's configured
// prompt becomes its artifact and flows to every downstream edge.
type InputExecutor struct{}

func (e *InputExecutor) Execute(_ context.Context, node Node, inputs map[string]Artifact, _ *RunContext) (*ExecResult, error) {
	art, ok := pickInput(inputs, "prompt")
	if !ok {
		art = TextArtifact(configString(node, "prompt"))
	}
	return &ExecResult{Result: &art}, nil
}

// OutputExecutor handles output (sink) nodes. It accepts anything and
// exposes it as the node's result for the canvas to display.
type OutputExecutor struct{}

func (e *OutputExecutor) Execute(_ context.Context, node Node, inputs map[string]Artifact, _ *RunContext) (*ExecResult, error) {
	art, ok := pickInput(inputs, "data")
	if !ok {
		return nil, fmt.Errorf("output node %s received no value", node.ID)
	}
	return &ExecResult{Result: &art}, nil
}

// TaskExecutor handles generative task nodes. It bundles the node's
// configured prompt with the joined inputs and calls the generation
// service. Retry/backoff is the service's own contract; transient and
// fatal failures both surface here as node errors.
type TaskExecutor struct {
	gen Generator
}

func (e *TaskExecutor) Execute(ctx context.Context, node Node, inputs map[string]Artifact, _ *RunContext) (*ExecResult, error) {
	job := ResolveJob(node)
	if job == nil {
		return nil, fmt.Errorf("unknown job category %q", node.Category)
	}

	bundle := make(map[string]Artifact, len(inputs)+1)
	for port, art := range inputs {
		bundle[port] = art
	}
	if prompt := configString(node, "prompt"); prompt != "" {
		bundle["prompt"] = TextArtifact(prompt)
	}

	art, err := e.gen.Generate(ctx, node.Category, job.ID, bundle)
	if err != nil {
		return nil, err
	}
	return &ExecResult{Result: &art}, nil
}

// RouterExecutor handles router (branch) nodes. It evaluates a
// deterministic predicate from the node config over the joined inputs
// and blackboard, and emits the data artifact on exactly one of the
// "true"/"false" handles. Same graph state always picks the same branch.
type RouterExecutor struct{}

func (e *RouterExecutor) Execute(_ context.Context, node Node, inputs map[string]Artifact, run *RunContext) (*ExecResult, error) {
	var operand Artifact
	if key := configString(node, "variable"); key != "" {
		operand = run.Blackboard[key]
	} else if art, ok := pickInput(inputs, "data"); ok {
		operand = art
	} else {
		return nil, fmt.Errorf("router node %s has no data to check", node.ID)
	}

	result, err := evaluatePredicate(operand.Payload, configString(node, "operator"), configString(node, "value"))
	if err != nil {
		return nil, err
	}

	handle := "false"
	if result {
		handle = "true"
	}
	return &ExecResult{
		Result:  &operand,
		Outputs: map[string]Artifact{handle: operand},
	}, nil
}

// GatekeeperExecutor handles approval gate nodes. It never completes
// synchronously: the node suspends as WAITING_FOR_APPROVAL and the run
// resumes only through ResolveGate, possibly after a process restart.
type GatekeeperExecutor struct{}

func (e *GatekeeperExecutor) Execute(_ context.Context, node Node, _ map[string]Artifact, _ *RunContext) (*ExecResult, error) {
	message := configString(node, "message")
	if message == "" {
		message = "Approve this step?"
	}
	return &ExecResult{Waiting: true, Message: message}, nil
}

// VariableExecutor handles blackboard variable nodes. Set writes its
// input under the configured key (last write wins) and passes the value
// through; Get reads the current value, returning an empty TEXT artifact
// when the key is absent; it never blocks waiting for a future write.
type VariableExecutor struct{}

func (e *VariableExecutor) Execute(_ context.Context, node Node, inputs map[string]Artifact, run *RunContext) (*ExecResult, error) {
	job := ResolveJob(node)
	if job == nil {
		return nil, fmt.Errorf("unknown variable job for node %s", node.ID)
	}
	key := configString(node, "variableKey")
	if key == "" {
		return nil, fmt.Errorf("variable node %s has no variableKey", node.ID)
	}

	switch job.ID {
	case JobSetVariable:
		art, ok := pickInput(inputs, "value")
		if !ok {
			return nil, fmt.Errorf("set-variable node %s received no value", node.ID)
		}
		run.Blackboard[key] = art
		return &ExecResult{Result: &art}, nil

	case JobGetVariable:
		art, ok := run.Blackboard[key]
		if !ok {
			art = TextArtifact("")
		}
		return &ExecResult{
			Result:  &art,
			Outputs: map[string]Artifact{"value": art, "trigger_out": art},
		}, nil
	}
	return nil, fmt.Errorf("unsupported variable job %q", job.ID)
}

// evaluatePredicate compares a payload against a configured value.
// Numeric operators parse both sides as floats; equality and containment
// compare strings.
func evaluatePredicate(payload, operator, value string) (bool, error) {
	switch operator {
	case "equals":
		return payload == value, nil
	case "not_equals":
		return payload != value, nil
	case "contains":
		return strings.Contains(payload, value), nil
	case "not_empty":
		return strings.TrimSpace(payload) != "", nil
	case "greater_than", "less_than":
		left, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
		if err != nil {
			return false, fmt.Errorf("operand %q is not a number", payload)
		}
		right, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return false, fmt.Errorf("threshold %q is not a number", value)
		}
		if operator == "greater_than" {
			return left > right, nil
		}
		return left < right, nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

// pickInput returns the artifact for the preferred port, or failing that
// the first non-trigger artifact in deterministic port order.
func pickInput(inputs map[string]Artifact, preferred string) (Artifact, bool) {
	if art, ok := inputs[preferred]; ok {
		return art, true
	}
	ports := make([]string, 0, len(inputs))
	for port := range inputs {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	for _, port := range ports {
		if inputs[port].Type != TypeTrigger {
			return inputs[port], true
		}
	}
	for _, port := range ports {
		return inputs[port], true
	}
	return Artifact{}, false
}

// configString reads a string value from the node config.
func configString(node Node, key string) string {
	if node.Config == nil {
		return ""
	}
	s, _ := node.Config[key].(string)
	return s
}
