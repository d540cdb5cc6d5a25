package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWorkflowID = "7d444840-9dc0-11d1-b245-5ffdce74fad2"
	missingID      = "11111111-2222-3333-4444-555555555555"
)

// stubWorkflowRepo implements WorkflowRepo in memory.
type stubWorkflowRepo struct {
	mu        sync.Mutex
	workflows map[string]*Workflow
	saved     []*Workflow
	listErr   error
}

func newStubRepo(wfs ...*Workflow) *stubWorkflowRepo {
	repo := &stubWorkflowRepo{workflows: make(map[string]*Workflow)}
	for _, wf := range wfs {
		repo.workflows[wf.ID] = wf
	}
	return repo
}

func (r *stubWorkflowRepo) Get(_ context.Context, id string) (*Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workflows[id], nil
}

func (r *stubWorkflowRepo) List(_ context.Context) ([]WorkflowSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var summaries []WorkflowSummary
	for _, wf := range r.workflows {
		summaries = append(summaries, WorkflowSummary{ID: wf.ID, Name: wf.Name})
	}
	return summaries, nil
}

func (r *stubWorkflowRepo) Save(_ context.Context, wf *Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[wf.ID] = wf
	r.saved = append(r.saved, wf)
	return nil
}

func (r *stubWorkflowRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func (r *stubWorkflowRepo) lastSaved() *Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) == 0 {
		return nil
	}
	return r.saved[len(r.saved)-1]
}

func newTestService(repo *stubWorkflowRepo, gen Generator) (*Service, *memoryRunStore) {
	store := newMemoryRunStore()
	return &Service{
		repo:   repo,
		runs:   store,
		engine: NewEngine(NewRegistry(gen), store, time.Second),
		saver:  newSaveDebouncer(10 * time.Millisecond),
	}, store
}

func newTestRouter(s *Service) *mux.Router {
	router := mux.NewRouter()
	s.LoadRoutes(router.PathPrefix("/api/v1").Subrouter())
	return router
}

func storedWorkflow() *Workflow {
	return &Workflow{
		ID:   testWorkflowID,
		Name: "Launch",
		Nodes: []Node{
			{ID: "start", Kind: KindInput, Config: map[string]any{"prompt": "go"}},
			{ID: "end", Kind: KindOutput},
		},
		Edges: []Edge{
			{ID: "e1", Source: "start", Target: "end", TargetHandle: "data"},
		},
	}
}

func TestHandleListWorkflows(t *testing.T) {
	svc, _ := newTestService(newStubRepo(storedWorkflow()), &mockGenerator{})
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []WorkflowSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "Launch", summaries[0].Name)
}

func TestHandleListWorkflows_Empty(t *testing.T) {
	svc, _ := newTestService(newStubRepo(), &mockGenerator{})
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandleGetWorkflow(t *testing.T) {
	svc, _ := newTestService(newStubRepo(storedWorkflow()), &mockGenerator{})
	router := newTestRouter(svc)

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/"+testWorkflowID, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var wf Workflow
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&wf))
		assert.Equal(t, "Launch", wf.Name)
		assert.Len(t, wf.Nodes, 2)
	})

	t.Run("invalid id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/not-a-uuid", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/"+missingID, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleSaveWorkflow(t *testing.T) {
	t.Run("accepted and flushed", func(t *testing.T) {
		repo := newStubRepo()
		svc, _ := newTestService(repo, &mockGenerator{})
		router := newTestRouter(svc)

		body, err := json.Marshal(SaveWorkflowRequest{
			Name:  "Edited",
			Nodes: storedWorkflow().Nodes,
			Edges: storedWorkflow().Edges,
		})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPut, "/api/v1/workflows/"+testWorkflowID, bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)
		require.Eventually(t, func() bool { return repo.saveCount() == 1 },
			time.Second, 5*time.Millisecond)
		assert.Equal(t, "Edited", repo.lastSaved().Name)
	})

	t.Run("incompatible edge rejected", func(t *testing.T) {
		repo := newStubRepo()
		svc, _ := newTestService(repo, &mockGenerator{})
		router := newTestRouter(svc)

		body, err := json.Marshal(SaveWorkflowRequest{
			Name: "Broken",
			Nodes: []Node{
				{ID: "copy", Kind: KindTask, Category: "marketing", JobID: "ad-copy"},
				{ID: "vid", Kind: KindTask, Category: "video", JobID: "video-extend"},
			},
			Edges: []Edge{
				{ID: "bad", Source: "copy", SourceHandle: "result", Target: "vid", TargetHandle: "video_input"},
			},
		})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPut, "/api/v1/workflows/"+testWorkflowID, bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, 0, repo.saveCount())
	})

	t.Run("invalid body", func(t *testing.T) {
		svc, _ := newTestService(newStubRepo(), &mockGenerator{})
		router := newTestRouter(svc)

		req := httptest.NewRequest(http.MethodPut, "/api/v1/workflows/"+testWorkflowID,
			bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleExecuteWorkflow(t *testing.T) {
	t.Run("runs to completion", func(t *testing.T) {
		svc, _ := newTestService(newStubRepo(storedWorkflow()), &mockGenerator{})
		router := newTestRouter(svc)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/"+testWorkflowID+"/execute", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var view RunView
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
		assert.Equal(t, RunCompleted, view.Status)
		assert.NotEmpty(t, view.RunID)
		require.Len(t, view.Nodes, 2)
		assert.Equal(t, StatusDone, view.Nodes[0].Status)
	})

	t.Run("workflow not found", func(t *testing.T) {
		svc, _ := newTestService(newStubRepo(), &mockGenerator{})
		router := newTestRouter(svc)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/"+missingID+"/execute", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("no input node", func(t *testing.T) {
		wf := &Workflow{ID: testWorkflowID, Name: "Headless",
			Nodes: []Node{{ID: "end", Kind: KindOutput}}}
		svc, _ := newTestService(newStubRepo(wf), &mockGenerator{})
		router := newTestRouter(svc)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/"+testWorkflowID+"/execute", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func gateWorkflow() *Workflow {
	wf := gateGraph()
	wf.ID = testWorkflowID
	return wf
}

func executeGateRun(t *testing.T, router *mux.Router) RunView {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/"+testWorkflowID+"/execute", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var view RunView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	require.Equal(t, RunWaiting, view.Status)
	return view
}

func TestHandleGetRun(t *testing.T) {
	svc, _ := newTestService(newStubRepo(gateWorkflow()), &mockGenerator{})
	router := newTestRouter(svc)
	view := executeGateRun(t, router)

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+view.RunID, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var got RunView
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, RunWaiting, got.Status)
		require.Len(t, got.Gates, 1)
		assert.Equal(t, "gate", got.Gates[0].NodeID)
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+missingID, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleResolveGate(t *testing.T) {
	decision := func(d string) *bytes.Reader {
		body, _ := json.Marshal(ResolveGateRequest{Decision: d})
		return bytes.NewReader(body)
	}

	t.Run("approve resumes the run", func(t *testing.T) {
		svc, _ := newTestService(newStubRepo(gateWorkflow()), &mockGenerator{})
		router := newTestRouter(svc)
		view := executeGateRun(t, router)

		req := httptest.NewRequest(http.MethodPost,
			"/api/v1/runs/"+view.RunID+"/gates/gate", decision(DecisionApprove))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var got RunView
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, RunCompleted, got.Status)
		assert.Empty(t, got.Gates)
	})

	t.Run("invalid decision", func(t *testing.T) {
		svc, _ := newTestService(newStubRepo(gateWorkflow()), &mockGenerator{})
		router := newTestRouter(svc)
		view := executeGateRun(t, router)

		req := httptest.NewRequest(http.MethodPost,
			"/api/v1/runs/"+view.RunID+"/gates/gate", decision("maybe"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("node not waiting", func(t *testing.T) {
		svc, _ := newTestService(newStubRepo(gateWorkflow()), &mockGenerator{})
		router := newTestRouter(svc)
		view := executeGateRun(t, router)

		req := httptest.NewRequest(http.MethodPost,
			"/api/v1/runs/"+view.RunID+"/gates/post", decision(DecisionApprove))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("run not found", func(t *testing.T) {
		svc, _ := newTestService(newStubRepo(gateWorkflow()), &mockGenerator{})
		router := newTestRouter(svc)

		req := httptest.NewRequest(http.MethodPost,
			"/api/v1/runs/"+missingID+"/gates/gate", decision(DecisionApprove))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleCancelRun(t *testing.T) {
	t.Run("cancels a waiting run", func(t *testing.T) {
		svc, _ := newTestService(newStubRepo(gateWorkflow()), &mockGenerator{})
		router := newTestRouter(svc)
		view := executeGateRun(t, router)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/"+view.RunID+"/cancel", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var got RunView
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, RunCancelled, got.Status)
	})

	t.Run("run not found", func(t *testing.T) {
		svc, _ := newTestService(newStubRepo(), &mockGenerator{})
		router := newTestRouter(svc)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/"+missingID+"/cancel", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSaveDebouncer_CoalescesWrites(t *testing.T) {
	d := newSaveDebouncer(20 * time.Millisecond)

	var mu sync.Mutex
	var flushed []*Workflow
	flush := func(wf *Workflow) {
		mu.Lock()
		flushed = append(flushed, wf)
		mu.Unlock()
	}

	for _, name := range []string{"v1", "v2", "v3"} {
		d.Schedule(&Workflow{ID: testWorkflowID, Name: name}, flush)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushed) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "v3", flushed[0].Name)
}

func TestSaveDebouncer_IndependentWorkflows(t *testing.T) {
	d := newSaveDebouncer(10 * time.Millisecond)

	var mu sync.Mutex
	flushed := make(map[string]int)
	flush := func(wf *Workflow) {
		mu.Lock()
		flushed[wf.ID]++
		mu.Unlock()
	}

	d.Schedule(&Workflow{ID: testWorkflowID, Name: "a"}, flush)
	d.Schedule(&Workflow{ID: missingID, Name: "b"}, flush)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return flushed[testWorkflowID] == 1 && flushed[missingID] == 1
	}, time.Second, 5*time.Millisecond)
}
