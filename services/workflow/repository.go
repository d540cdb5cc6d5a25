package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles workflow and run-state persistence in PostgreSQL.
// workflow_runs is the durable pause store: a run suspended on a gate
// survives process restarts there.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// InitSchema creates the workflows and workflow_runs tables if they do
// not exist.
func (r *Repository) InitSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflows (
			id          UUID PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			nodes       JSONB NOT NULL DEFAULT '[]',
			edges       JSONB NOT NULL DEFAULT '[]',
			viewport    JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("init workflows schema: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			id          UUID PRIMARY KEY,
			workflow_id UUID NOT NULL,
			status      TEXT NOT NULL,
			state       JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("init workflow_runs schema: %w", err)
	}
	return nil
}

// Seed inserts the sample release-launch workflow if it does not already
// exist.
func (r *Repository) Seed(ctx context.Context) error {
	nodesJSON, err := json.Marshal(sampleNodes)
	if err != nil {
		return fmt.Errorf("marshal seed nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(sampleEdges)
	if err != nil {
		return fmt.Errorf("marshal seed edges: %w", err)
	}
	viewportJSON, err := json.Marshal(Viewport{Zoom: 1})
	if err != nil {
		return fmt.Errorf("marshal seed viewport: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO workflows (id, name, description, nodes, edges, viewport)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, sampleWorkflowID, "Single Release Launch", "Draft copy, render cover art, approve, post.", nodesJSON, edgesJSON, viewportJSON)
	if err != nil {
		return fmt.Errorf("seed workflow: %w", err)
	}
	return nil
}

// Get retrieves a workflow by ID. Returns nil, nil if not found.
func (r *Repository) Get(ctx context.Context, id string) (*Workflow, error) {
	var wf Workflow
	var nodesJSON, edgesJSON, viewportJSON []byte

	err := r.db.QueryRow(ctx, `
		SELECT id, name, description, nodes, edges, viewport, created_at, updated_at
		FROM workflows WHERE id = $1
	`, id).Scan(&wf.ID, &wf.Name, &wf.Description, &nodesJSON, &edgesJSON, &viewportJSON, &wf.CreatedAt, &wf.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	if err := json.Unmarshal(nodesJSON, &wf.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(edgesJSON, &wf.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	if err := json.Unmarshal(viewportJSON, &wf.Viewport); err != nil {
		return nil, fmt.Errorf("unmarshal viewport: %w", err)
	}
	return &wf, nil
}

// List returns workflow summaries, most recently updated first.
func (r *Repository) List(ctx context.Context) ([]WorkflowSummary, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, updated_at
		FROM workflows ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var summaries []WorkflowSummary
	for rows.Next() {
		var s WorkflowSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Save upserts a workflow definition.
func (r *Repository) Save(ctx context.Context, wf *Workflow) error {
	nodesJSON, err := json.Marshal(wf.Nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(wf.Edges)
	if err != nil {
		return fmt.Errorf("marshal edges: %w", err)
	}
	viewportJSON, err := json.Marshal(wf.Viewport)
	if err != nil {
		return fmt.Errorf("marshal viewport: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO workflows (id, name, description, nodes, edges, viewport)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			viewport = EXCLUDED.viewport,
			updated_at = NOW()
	`, wf.ID, wf.Name, wf.Description, nodesJSON, edgesJSON, viewportJSON)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// SaveRun upserts the serialized state of a run.
func (r *Repository) SaveRun(ctx context.Context, st *RunState) error {
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, status, state)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			updated_at = NOW()
	`, st.ID, st.WorkflowID, st.Status, stateJSON)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run state by ID. Returns nil, nil if not found.
func (r *Repository) GetRun(ctx context.Context, id string) (*RunState, error) {
	var stateJSON []byte
	err := r.db.QueryRow(ctx, `
		SELECT state FROM workflow_runs WHERE id = $1
	`, id).Scan(&stateJSON)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	var st RunState
	if err := json.Unmarshal(stateJSON, &st); err != nil {
		return nil, fmt.Errorf("unmarshal run state: %w", err)
	}
	return &st, nil
}

// InitDB creates the schema and seeds initial data. Called from main on startup.
func InitDB(ctx context.Context, pool *pgxpool.Pool) error {
	repo := NewRepository(pool)
	if err := repo.InitSchema(ctx); err != nil {
		return err
	}
	return repo.Seed(ctx)
}

const sampleWorkflowID = "7f8c6f02-4a3d-4e59-9f2a-1d2b9c0de111"

var sampleNodes = []Node{
	{
		ID: "start", Kind: KindInput, Label: "Start",
		Config:   map[string]any{"prompt": "Announce the new single 'Neon Skyline'"},
		Position: Position{X: -160, Y: 300},
	},
	{
		ID: "copy", Kind: KindTask, Category: "marketing", JobID: "ad-copy", Label: "Draft Copy",
		Config:   map[string]any{"prompt": "Write a short, punchy announcement for the release."},
		Position: Position{X: 152, Y: 300},
	},
	{
		ID: "remember", Kind: KindLogic, Category: "variables", JobID: JobSetVariable, Label: "Remember Copy",
		Config:   map[string]any{"variableKey": "adCopy"},
		Position: Position{X: 152, Y: 520},
	},
	{
		ID: "check", Kind: KindLogic, Category: "logic", JobID: JobRouter, Label: "Copy Written?",
		Config:   map[string]any{"operator": "not_empty"},
		Position: Position{X: 460, Y: 300},
	},
	{
		ID: "artwork", Kind: KindTask, Category: "art", JobID: "concept-art", Label: "Cover Art",
		Config:   map[string]any{"prompt": "Neon-lit city skyline at dusk, album cover, no text."},
		Position: Position{X: 794, Y: 180},
	},
	{
		ID: "gate", Kind: KindLogic, Category: "logic", JobID: JobGatekeeper, Label: "Approve Art",
		Config:   map[string]any{"message": "Approve the cover art before posting?"},
		Position: Position{X: 1096, Y: 180},
	},
	{
		ID: "post", Kind: KindTask, Category: "social", JobID: "social-post", Label: "Social Post",
		Config:   map[string]any{"prompt": "Write the launch post referencing the approved artwork."},
		Position: Position{X: 1360, Y: 180},
	},
	{
		ID: "end", Kind: KindOutput, Label: "Done",
		Position: Position{X: 1640, Y: 300},
	},
}

var sampleEdges = []Edge{
	{ID: "e1", Source: "start", Target: "copy", TargetHandle: "text_input", Label: "Brief"},
	{ID: "e2", Source: "copy", SourceHandle: "result", Target: "check", TargetHandle: "data", Label: "Copy"},
	{ID: "e3", Source: "copy", SourceHandle: "result", Target: "remember", TargetHandle: "value"},
	{ID: "e4", Source: "check", SourceHandle: "true", Target: "artwork", TargetHandle: "trigger", Label: "Has Copy"},
	{ID: "e5", Source: "check", SourceHandle: "false", Target: "end", TargetHandle: "data", Label: "Nothing To Post"},
	{ID: "e6", Source: "artwork", SourceHandle: "result", Target: "gate", TargetHandle: "data", Label: "Art"},
	{ID: "e7", Source: "gate", SourceHandle: "approve", Target: "post", TargetHandle: "trigger", Label: "Approved"},
	{ID: "e8", Source: "gate", SourceHandle: "reject", Target: "end", TargetHandle: "data", Label: "Rejected"},
	{ID: "e9", Source: "post", SourceHandle: "result", Target: "end", TargetHandle: "data", Label: "Posted"},
}
