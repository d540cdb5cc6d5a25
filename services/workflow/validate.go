package workflow

// Compatible reports whether a source port type may feed a target port
// type. The predicate is flat: ANY on either side matches, exact types
// match, and TEXT widens one-directionally into CONTEXT (plain text can
// always serve as contextual grounding; the reverse is not allowed).
func Compatible(source, target DataType) bool {
	if source == TypeAny || target == TypeAny {
		return true
	}
	if source == target {
		return true
	}
	return source == TypeText && target == TypeContext
}

// ResolvePortType determines the data type of a node handle. Unknown
// handles resolve to ANY: they never block wiring, they only skip type
// checking for that edge.
func ResolvePortType(node Node, handleID string, isSource bool) DataType {
	if handleID == "" {
		return TypeAny
	}
	switch node.Kind {
	case KindInput:
		if isSource {
			return TypeTrigger
		}
		return TypeAny
	case KindOutput:
		return TypeAny
	}

	job := ResolveJob(node)
	if job == nil {
		return TypeAny
	}
	ports := job.Inputs
	if isSource {
		ports = job.Outputs
	}
	if p := findPort(ports, handleID); p != nil {
		return p.Type
	}
	return TypeAny
}

// ValidateConnection reports whether an edge between the given ports is
// type-compatible. Called at authoring time to gate edge acceptance, and
// again defensively at run start because graphs may come from an
// untrusted planner.
func ValidateConnection(source, target Node, sourceHandle, targetHandle string) bool {
	return Compatible(
		ResolvePortType(source, sourceHandle, true),
		ResolvePortType(target, targetHandle, false),
	)
}

// ValidateGraph re-checks every edge of a graph. It returns a violation
// for each incompatible or dangling edge; a nil slice means the graph is
// wire-clean.
func ValidateGraph(wf *Workflow) []*ValidationError {
	nodeByID := make(map[string]*Node, len(wf.Nodes))
	for i := range wf.Nodes {
		nodeByID[wf.Nodes[i].ID] = &wf.Nodes[i]
	}

	var violations []*ValidationError
	for _, edge := range wf.Edges {
		source, okS := nodeByID[edge.Source]
		target, okT := nodeByID[edge.Target]
		if !okS || !okT {
			violations = append(violations, &ValidationError{EdgeID: edge.ID, SourceType: TypeAny, TargetType: TypeAny})
			continue
		}
		st := ResolvePortType(*source, edge.SourceHandle, true)
		tt := ResolvePortType(*target, edge.TargetHandle, false)
		if !Compatible(st, tt) {
			violations = append(violations, &ValidationError{EdgeID: edge.ID, SourceType: st, TargetType: tt})
		}
	}
	return violations
}
