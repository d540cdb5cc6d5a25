package workflow

// Job catalog: the static mapping from (category, jobId) to a
// JobDefinition with its declared ports. Definitions are never mutated
// at runtime.

// Logic and variable job ids double as executor keys for logic nodes.
const (
	JobRouter      = "router"
	JobGatekeeper  = "gatekeeper"
	JobSetVariable = "set-variable"
	JobGetVariable = "get-variable"
)

var triggerIn = PortDefinition{ID: "trigger", Label: "Start", Type: TypeTrigger}
var triggerOut = PortDefinition{ID: "trigger_out", Label: "Done", Type: TypeTrigger}

var catalog = map[string][]JobDefinition{
	"art": {
		{
			ID: "concept-art", Label: "Concept Art",
			Inputs: []PortDefinition{
				triggerIn,
				{ID: "context", Label: "Context", Type: TypeContext},
				{ID: "text_input", Label: "Instructions", Type: TypeText},
			},
			Outputs: []PortDefinition{
				triggerOut,
				{ID: "result", Label: "Image", Type: TypeImage},
			},
		},
		{
			ID: "art-upscale", Label: "Upscale/Refine Image",
			Inputs: []PortDefinition{
				triggerIn,
				{ID: "image_input", Label: "Source Image", Type: TypeImage, Required: true},
			},
			Outputs: []PortDefinition{
				triggerOut,
				{ID: "image_output", Label: "Refined Image", Type: TypeImage},
			},
		},
	},
	"video": {
		{
			ID: "video-img-to-video", Label: "Animate Image (Img2Vid)",
			Inputs: []PortDefinition{
				triggerIn,
				{ID: "image_input", Label: "Start Frame", Type: TypeImage, Required: true},
				{ID: "text_input", Label: "Prompt", Type: TypeText},
			},
			Outputs: []PortDefinition{
				triggerOut,
				{ID: "video_output", Label: "Video", Type: TypeVideo},
			},
		},
		{
			ID: "video-merge", Label: "Merge Clips",
			Inputs: []PortDefinition{
				triggerIn,
				{ID: "video_a", Label: "First Clip", Type: TypeVideo, Required: true},
				{ID: "video_b", Label: "Second Clip", Type: TypeVideo, Required: true},
			},
			Outputs: []PortDefinition{
				triggerOut,
				{ID: "video_output", Label: "Merged Video", Type: TypeVideo},
			},
		},
		{
			ID: "video-extend", Label: "Extend Video",
			Inputs: []PortDefinition{
				triggerIn,
				{ID: "video_input", Label: "Input Video", Type: TypeVideo, Required: true},
				{ID: "text_input", Label: "Prompt", Type: TypeText},
			},
			Outputs: []PortDefinition{
				triggerOut,
				{ID: "video_output", Label: "Extended Video", Type: TypeVideo},
			},
		},
	},
	"marketing": {
		{
			ID: "ad-copy", Label: "Ad Copy",
			Inputs: []PortDefinition{
				triggerIn,
				{ID: "context", Label: "Context", Type: TypeContext},
				{ID: "text_input", Label: "Instructions", Type: TypeText},
			},
			Outputs: []PortDefinition{
				triggerOut,
				{ID: "result", Label: "Copy", Type: TypeText},
			},
		},
	},
	"social": {
		{
			ID: "social-post", Label: "Social Post",
			Inputs: []PortDefinition{
				triggerIn,
				{ID: "context", Label: "Context", Type: TypeContext},
				{ID: "text_input", Label: "Instructions", Type: TypeText},
			},
			Outputs: []PortDefinition{
				triggerOut,
				{ID: "result", Label: "Post", Type: TypeText},
			},
		},
	},
	"knowledge": {
		{
			ID: "kb-query", Label: "Query Knowledge Base",
			Inputs: []PortDefinition{
				triggerIn,
				{ID: "query", Label: "Question", Type: TypeText, Required: true},
			},
			Outputs: []PortDefinition{
				triggerOut,
				{ID: "answer", Label: "Answer", Type: TypeText},
			},
		},
	},
	"logic": {
		{
			ID: JobRouter, Label: "Router (Switch)",
			Inputs: []PortDefinition{
				triggerIn,
				{ID: "data", Label: "Data to Check", Type: TypeAny, Required: true},
			},
			Outputs: []PortDefinition{
				{ID: "true", Label: "True Path", Type: TypeTrigger},
				{ID: "false", Label: "False Path", Type: TypeTrigger},
			},
		},
		{
			ID: JobGatekeeper, Label: "Gatekeeper (Approval)",
			Inputs: []PortDefinition{
				triggerIn,
				{ID: "data", Label: "Asset to Approve", Type: TypeAny, Required: true},
			},
			Outputs: []PortDefinition{
				{ID: "approve", Label: "Approved", Type: TypeTrigger},
				{ID: "reject", Label: "Rejected", Type: TypeTrigger},
			},
		},
	},
	"variables": {
		{
			ID: JobSetVariable, Label: "Set Variable",
			Inputs: []PortDefinition{
				triggerIn,
				{ID: "value", Label: "Value", Type: TypeAny, Required: true},
			},
			Outputs: []PortDefinition{triggerOut},
		},
		{
			ID: JobGetVariable, Label: "Get Variable",
			Inputs: []PortDefinition{triggerIn},
			Outputs: []PortDefinition{
				triggerOut,
				{ID: "value", Label: "Value", Type: TypeAny},
			},
		},
	},
}

// GetJob resolves (category, jobID) to a job definition. An unknown or
// empty jobID resolves to the category's first declared job; that default
// is deliberate, so that stale planner output never crashes the editor.
// The engine re-checks resolved ports against the graph at run start.
// Returns nil only for an unknown category.
func GetJob(category, jobID string) *JobDefinition {
	jobs, ok := catalog[category]
	if !ok || len(jobs) == 0 {
		return nil
	}
	for i := range jobs {
		if jobs[i].ID == jobID {
			return &jobs[i]
		}
	}
	return &jobs[0]
}

// ResolveJob resolves the job definition for a node, applying the
// default-first policy for task and logic nodes. Input and output nodes
// have no job definition.
func ResolveJob(node Node) *JobDefinition {
	if node.Kind != KindTask && node.Kind != KindLogic {
		return nil
	}
	return GetJob(node.Category, node.JobID)
}

// findPort returns the port with the given id, or nil.
func findPort(ports []PortDefinition, id string) *PortDefinition {
	for i := range ports {
		if ports[i].ID == id {
			return &ports[i]
		}
	}
	return nil
}
