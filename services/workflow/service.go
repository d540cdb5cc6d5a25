package workflow

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
)

// saveWindow bounds write amplification from continuous editing: at most
// one database write per workflow per window.
const saveWindow = 3 * time.Second

// WorkflowRepo abstracts workflow persistence for testability.
type WorkflowRepo interface {
	Get(ctx context.Context, id string) (*Workflow, error)
	List(ctx context.Context) ([]WorkflowSummary, error)
	Save(ctx context.Context, wf *Workflow) error
}

// Service wires together the repository, execution engine and generation
// client for the workflow domain.
type Service struct {
	repo   WorkflowRepo
	runs   RunStore
	engine *Engine
	saver  *saveDebouncer
}

// NewService creates a Service with a real PostgreSQL repository and
// OpenAI-backed generation client.
func NewService(pool *pgxpool.Pool, openAIKey string) (*Service, error) {
	repo := NewRepository(pool)
	registry := NewRegistry(NewOpenAIGenerator(openAIKey))
	engine := NewEngine(registry, repo, 0)
	return &Service{
		repo:   repo,
		runs:   repo,
		engine: engine,
		saver:  newSaveDebouncer(saveWindow),
	}, nil
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers workflow HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/workflows").Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware)

	router.HandleFunc("", s.HandleListWorkflows).Methods("GET")
	router.HandleFunc("/{id}", s.HandleGetWorkflow).Methods("GET")
	router.HandleFunc("/{id}", s.HandleSaveWorkflow).Methods("PUT")
	router.HandleFunc("/{id}/execute", s.HandleExecuteWorkflow).Methods("POST")

	runRouter := parentRouter.PathPrefix("/runs").Subrouter()
	runRouter.StrictSlash(false)
	runRouter.Use(jsonMiddleware)

	runRouter.HandleFunc("/{id}", s.HandleGetRun).Methods("GET")
	runRouter.HandleFunc("/{id}/gates/{nodeId}", s.HandleResolveGate).Methods("POST")
	runRouter.HandleFunc("/{id}/cancel", s.HandleCancelRun).Methods("POST")
}

// saveDebouncer coalesces workflow saves per workflow id: the latest
// graph wins, and one flush fires per window of continuous editing.
type saveDebouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]*pendingSave
}

type pendingSave struct {
	wf    *Workflow
	flush func(*Workflow)
}

func newSaveDebouncer(window time.Duration) *saveDebouncer {
	return &saveDebouncer{window: window, pending: make(map[string]*pendingSave)}
}

// Schedule records wf as the pending save for its id. The first call in
// a window arms the flush timer; later calls only replace the payload.
func (d *saveDebouncer) Schedule(wf *Workflow, flush func(*Workflow)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pending[wf.ID]; ok {
		p.wf = wf
		p.flush = flush
		return
	}
	p := &pendingSave{wf: wf, flush: flush}
	d.pending[wf.ID] = p
	id := wf.ID
	time.AfterFunc(d.window, func() { d.fire(id) })
}

func (d *saveDebouncer) fire(id string) {
	d.mu.Lock()
	p, ok := d.pending[id]
	delete(d.pending, id)
	d.mu.Unlock()
	if ok {
		p.flush(p.wf)
	}
}
