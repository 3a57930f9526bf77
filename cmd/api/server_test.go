package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WessleyAI/safety-workbench/engine/events"
	"github.com/WessleyAI/safety-workbench/engine/graph"
	"github.com/WessleyAI/safety-workbench/engine/graphcode"
	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/engine/semantic"
	"github.com/WessleyAI/safety-workbench/pkg/metrics"
	"github.com/WessleyAI/safety-workbench/pkg/mid"
	"github.com/WessleyAI/safety-workbench/pkg/repo"
	"github.com/WessleyAI/safety-workbench/pkg/resilience"
)

// --- Fakes ---

// fakeStore implements the methods the tests touch; the embedded interface
// panics on anything else.
type fakeStore struct {
	Store

	elements map[string]safety.Element
	failures map[string]safety.Failure
	err      error
	lastOpts repo.ListOpts
	linked   [2]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{elements: map[string]safety.Element{}, failures: map[string]safety.Failure{}}
}

func notFoundErr(label, id string) error {
	return fmt.Errorf("%s %s: %w", label, id, repo.ErrNotFound)
}

func (f *fakeStore) CreateElement(_ context.Context, e safety.Element) (safety.Element, error) {
	if f.err != nil {
		return safety.Element{}, f.err
	}
	if e.Name == "" {
		return safety.Element{}, safety.NewValidationError("name", "", safety.ErrInvalid)
	}
	if e.ID == "" {
		e.ID = fmt.Sprintf("el-%d", len(f.elements)+1)
	}
	f.elements[e.ID] = e
	return e, nil
}

func (f *fakeStore) GetElement(_ context.Context, id string) (safety.Element, error) {
	if f.err != nil {
		return safety.Element{}, f.err
	}
	e, ok := f.elements[id]
	if !ok {
		return safety.Element{}, notFoundErr(safety.LabelElement, id)
	}
	return e, nil
}

func (f *fakeStore) ListElements(_ context.Context, opts repo.ListOpts) ([]safety.Element, error) {
	f.lastOpts = opts
	return nil, f.err
}

func (f *fakeStore) DeleteElement(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.elements[id]; !ok {
		return notFoundErr(safety.LabelElement, id)
	}
	delete(f.elements, id)
	for fid, fl := range f.failures {
		if fl.ElementID == id {
			delete(f.failures, fid)
		}
	}
	return nil
}

func (f *fakeStore) CreateFailure(_ context.Context, elementID string, fl safety.Failure) (safety.Failure, error) {
	if _, ok := f.elements[elementID]; !ok {
		return safety.Failure{}, notFoundErr(safety.LabelElement, elementID)
	}
	if fl.ID == "" {
		fl.ID = fmt.Sprintf("fm-%d", len(f.failures)+1)
	}
	fl.ElementID = elementID
	f.failures[fl.ID] = fl
	return fl, nil
}

func (f *fakeStore) UpdateFailure(_ context.Context, fl safety.Failure) (safety.Failure, error) {
	old, ok := f.failures[fl.ID]
	if !ok {
		return safety.Failure{}, notFoundErr(safety.LabelFailure, fl.ID)
	}
	fl.ElementID = old.ElementID
	f.failures[fl.ID] = fl
	return fl, nil
}

func (f *fakeStore) DeleteFailure(_ context.Context, id string) error {
	if _, ok := f.failures[id]; !ok {
		return notFoundErr(safety.LabelFailure, id)
	}
	delete(f.failures, id)
	return nil
}

func (f *fakeStore) ListFailures(_ context.Context, elementID string) ([]safety.Failure, error) {
	if _, ok := f.elements[elementID]; !ok {
		return nil, notFoundErr(safety.LabelElement, elementID)
	}
	var out []safety.Failure
	for _, fl := range f.failures {
		if fl.ElementID == elementID {
			out = append(out, fl)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateCausation(_ context.Context, c safety.Causation) (safety.Causation, error) {
	if c.CauseID == c.EffectID {
		return safety.Causation{}, safety.NewValidationError("effect_id", c.EffectID, safety.ErrSelfCausation)
	}
	return safety.Causation{}, fmt.Errorf("create causation: %w", safety.ErrDuplicateCause)
}

func (f *fakeStore) ListRequirements(_ context.Context, _ string, opts repo.ListOpts) ([]safety.Requirement, error) {
	f.lastOpts = opts
	return []safety.Requirement{{ID: "sr-1", Name: "Detect overheating"}}, nil
}

func (f *fakeStore) LinkRequirement(_ context.Context, requirementID, failureID string) error {
	f.linked = [2]string{requirementID, failureID}
	return nil
}

func (f *fakeStore) Stats(context.Context) (graph.Stats, error) {
	return graph.Stats{Nodes: map[string]int64{safety.LabelElement: 2}}, f.err
}

type fakeCode struct {
	snap   graphcode.Snapshot
	body   string
	strict bool
	err    error
}

func (c *fakeCode) Snapshot(context.Context) (graphcode.Snapshot, error) { return c.snap, c.err }

func (c *fakeCode) ImportJSON(_ context.Context, r io.Reader, strict bool) (graphcode.Report, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return graphcode.Report{}, err
	}
	c.body, c.strict = string(b), strict
	if c.err != nil {
		return graphcode.Report{}, c.err
	}
	return graphcode.Report{Nodes: 2, Relationships: 1, Digest: "blake3:abc", DigestOK: true, Attempts: 1, Loaded: true}, nil
}

type fakeIndex struct {
	indexed []string
	removed []string
	hits    []semantic.Hit
	err     error
	k       int
}

func (x *fakeIndex) Index(_ context.Context, f safety.Failure) error {
	x.indexed = append(x.indexed, f.ID)
	return x.err
}

func (x *fakeIndex) Remove(_ context.Context, ids ...string) error {
	x.removed = append(x.removed, ids...)
	return x.err
}

func (x *fakeIndex) Similar(_ context.Context, _ string, k int) ([]semantic.Hit, error) {
	x.k = k
	return x.hits, x.err
}

type recorder struct {
	mu      sync.Mutex
	changes []events.Change
}

func (r *recorder) Publish(_ context.Context, c events.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

type harness struct {
	store *fakeStore
	code  *fakeCode
	index *fakeIndex
	pub   *recorder
	h     http.Handler
}

func newHarness() *harness {
	hs := &harness{store: newFakeStore(), code: &fakeCode{}, index: &fakeIndex{}, pub: &recorder{}}
	srv := newServer(hs.store, hs.code, hs.index, hs.pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	hs.h = srv.routes(metrics.New())
	return hs
}

func (hs *harness) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	hs.h.ServeHTTP(w, req)
	return w
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

// --- Tests ---

func TestHealth(t *testing.T) {
	w := newHarness().do(http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestCreateAndGetElement(t *testing.T) {
	hs := newHarness()
	w := hs.do(http.MethodPost, "/api/elements", `{"name":"Brake ECU","type":"component"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
	}
	var e safety.Element
	json.NewDecoder(w.Body).Decode(&e)
	if e.ID == "" || e.Name != "Brake ECU" {
		t.Fatalf("unexpected element %+v", e)
	}

	w = hs.do(http.MethodGet, "/api/elements/"+e.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(hs.pub.changes) != 1 || hs.pub.changes[0].Kind != kindElement || hs.pub.changes[0].Action != events.Created {
		t.Errorf("changes = %+v", hs.pub.changes)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
		setup  func(*harness)
		want   int
	}{
		{name: "not found", method: http.MethodGet, target: "/api/elements/missing", want: http.StatusNotFound},
		{name: "validation", method: http.MethodPost, target: "/api/elements", body: `{"type":"system"}`, want: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, target: "/api/elements", body: `{"name":`, want: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, target: "/api/elements", body: `{"name":"x","colour":"red"}`, want: http.StatusBadRequest},
		{name: "self causation", method: http.MethodPost, target: "/api/causations", body: `{"cause_id":"a","effect_id":"a"}`, want: http.StatusBadRequest},
		{name: "duplicate causation", method: http.MethodPost, target: "/api/causations", body: `{"cause_id":"a","effect_id":"b"}`, want: http.StatusConflict},
		{name: "bad limit", method: http.MethodGet, target: "/api/elements?limit=abc", want: http.StatusBadRequest},
		{name: "negative offset", method: http.MethodGet, target: "/api/requirements?offset=-1", want: http.StatusBadRequest},
		{
			name: "has children", method: http.MethodDelete, target: "/api/elements/e1",
			setup: func(hs *harness) {
				hs.store.elements["e1"] = safety.Element{ID: "e1"}
				hs.store.err = fmt.Errorf("delete element e1: %w", safety.ErrHasChildren)
			},
			want: http.StatusConflict,
		},
		{
			name: "circuit open", method: http.MethodGet, target: "/api/failures/similar?q=overheat",
			setup: func(hs *harness) { hs.index.err = resilience.ErrCircuitOpen },
			want:  http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := newHarness()
			if tt.setup != nil {
				tt.setup(hs)
			}
			w := hs.do(tt.method, tt.target, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body)
			}
			if msg := errorOf(t, w); msg == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestInternalErrorHidesDetails(t *testing.T) {
	hs := newHarness()
	hs.store.err = errors.New("neo4j: connection refused to 10.0.0.7")
	w := hs.do(http.MethodGet, "/api/stats", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if msg := errorOf(t, w); msg != "internal server error" {
		t.Errorf("leaked error message %q", msg)
	}
}

func TestListElementsPagination(t *testing.T) {
	hs := newHarness()
	w := hs.do(http.MethodGet, "/api/elements?offset=20&limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if hs.store.lastOpts != (repo.ListOpts{Offset: 20, Limit: 10}) {
		t.Errorf("opts = %+v", hs.store.lastOpts)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("empty list encoded as %s", got)
	}
}

func TestFailureLifecycleMaintainsIndex(t *testing.T) {
	hs := newHarness()
	hs.store.elements["e1"] = safety.Element{ID: "e1", Name: "Pump"}

	w := hs.do(http.MethodPost, "/api/elements/e1/failures", `{"name":"Seal leaks"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
	}
	var f safety.Failure
	json.NewDecoder(w.Body).Decode(&f)
	if f.ElementID != "e1" {
		t.Fatalf("element id = %q", f.ElementID)
	}

	w = hs.do(http.MethodPut, "/api/failures/"+f.ID, `{"name":"Seal leaks under pressure"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	w = hs.do(http.MethodDelete, "/api/failures/"+f.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	if want := []string{f.ID, f.ID}; !slices.Equal(hs.index.indexed, want) {
		t.Errorf("indexed = %v, want %v", hs.index.indexed, want)
	}
	if want := []string{f.ID}; !slices.Equal(hs.index.removed, want) {
		t.Errorf("removed = %v, want %v", hs.index.removed, want)
	}
	var actions []events.Action
	for _, c := range hs.pub.changes {
		actions = append(actions, c.Action)
	}
	if len(actions) != 3 || actions[0] != events.Created || actions[1] != events.Updated || actions[2] != events.Deleted {
		t.Errorf("actions = %v", actions)
	}
}

func TestIndexErrorsDoNotFailWrites(t *testing.T) {
	hs := newHarness()
	hs.store.elements["e1"] = safety.Element{ID: "e1"}
	hs.index.err = errors.New("qdrant down")

	w := hs.do(http.MethodPost, "/api/elements/e1/failures", `{"name":"Seal leaks"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
}

func TestDeleteElementUnindexesFailures(t *testing.T) {
	hs := newHarness()
	hs.store.elements["e1"] = safety.Element{ID: "e1"}
	hs.store.failures["f1"] = safety.Failure{ID: "f1", ElementID: "e1"}

	w := hs.do(http.MethodDelete, "/api/elements/e1", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body)
	}
	if !slices.Equal(hs.index.removed, []string{"f1"}) {
		t.Errorf("removed = %v", hs.index.removed)
	}
	if len(hs.store.failures) != 0 {
		t.Error("failures not cascaded")
	}
}

func TestSimilarFailures(t *testing.T) {
	hs := newHarness()
	hs.index.hits = []semantic.Hit{{FailureID: "f1", Name: "Pump overheats", Score: 0.91}}

	w := hs.do(http.MethodGet, "/api/failures/similar?q=overheating", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	if hs.index.k != defaultSimilar {
		t.Errorf("k = %d, want %d", hs.index.k, defaultSimilar)
	}
	var hits []semantic.Hit
	json.NewDecoder(w.Body).Decode(&hits)
	if len(hits) != 1 || hits[0].FailureID != "f1" {
		t.Errorf("hits = %+v", hits)
	}

	for _, target := range []string{"/api/failures/similar", "/api/failures/similar?q=x&k=0", "/api/failures/similar?q=x&k=51"} {
		if w := hs.do(http.MethodGet, target, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, w.Code)
		}
	}
}

func TestSimilarFailuresDisabled(t *testing.T) {
	srv := newServer(newFakeStore(), &fakeCode{}, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w := httptest.NewRecorder()
	srv.routes(nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/failures/similar?q=leak", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestLinkRequirement(t *testing.T) {
	hs := newHarness()
	w := hs.do(http.MethodPut, "/api/requirements/sr-1/failures/f-9", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if hs.store.linked != [2]string{"sr-1", "f-9"} {
		t.Errorf("linked = %v", hs.store.linked)
	}
	if c := hs.pub.changes[0]; c.Action != events.Linked || c.ID != "sr-1" || c.Parent != "f-9" {
		t.Errorf("change = %+v", c)
	}
}

func TestExportGraph(t *testing.T) {
	hs := newHarness()
	snap, err := graphcode.NewSnapshot(
		[]graphcode.Node{
			{ID: "e1", Labels: []string{safety.LabelElement}, Properties: map[string]any{"id": "e1", "name": "Pump"}},
			{ID: "f1", Labels: []string{safety.LabelFailure}, Properties: map[string]any{"id": "f1", "name": "Leak"}},
		},
		[]graphcode.Relationship{{ID: "r1", Type: safety.RelOccurrence, Start: "f1", End: "e1", Properties: map[string]any{}}},
		time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatal(err)
	}
	hs.code.snap = snap

	w := hs.do(http.MethodGet, "/api/graph/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="graph-20260301T093000Z.json"` {
		t.Errorf("content disposition = %q", cd)
	}
	got, err := graphcode.DecodeJSON(w.Body)
	if err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if got.Manifest.Digest != snap.Manifest.Digest || len(got.Nodes) != 2 {
		t.Errorf("export mismatch: %+v", got.Manifest)
	}
}

func TestImportGraph(t *testing.T) {
	hs := newHarness()
	w := hs.do(http.MethodPost, "/api/graph/import?strict=true", `{"manifest":{}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	if !hs.code.strict || hs.code.body != `{"manifest":{}}` {
		t.Errorf("import got strict=%v body=%q", hs.code.strict, hs.code.body)
	}
	var rep graphcode.Report
	json.NewDecoder(w.Body).Decode(&rep)
	if !rep.Loaded || rep.Nodes != 2 {
		t.Errorf("report = %+v", rep)
	}
	if c := hs.pub.changes[0]; c.Kind != kindGraph || c.Action != events.Imported || c.ID != "blake3:abc" {
		t.Errorf("change = %+v", c)
	}
}

func TestImportGraphRejections(t *testing.T) {
	hs := newHarness()
	if w := hs.do(http.MethodPost, "/api/graph/import?strict=maybe", "{}"); w.Code != http.StatusBadRequest {
		t.Errorf("bad strict: expected 400, got %d", w.Code)
	}

	hs.code.err = fmt.Errorf("%w: dangling relationship r1", graphcode.ErrInvalidSnapshot)
	if w := hs.do(http.MethodPost, "/api/graph/import", "{}"); w.Code != http.StatusBadRequest {
		t.Errorf("invalid snapshot: expected 400, got %d", w.Code)
	}

	hs.code.err = graphcode.ErrDigestMismatch
	if w := hs.do(http.MethodPost, "/api/graph/import?strict=1", "{}"); w.Code != http.StatusBadRequest {
		t.Errorf("digest mismatch: expected 400, got %d", w.Code)
	}
	if len(hs.pub.changes) != 0 {
		t.Errorf("failed imports published %+v", hs.pub.changes)
	}
}

func TestBodyTooLarge(t *testing.T) {
	hs := newHarness()
	big := `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	w := hs.do(http.MethodPost, "/api/elements", big)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	hs := newHarness()
	reg := metrics.New()
	srv := newServer(hs.store, hs.code, hs.index, hs.pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := mid.Chain(srv.routes(reg), mid.Metrics(reg))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`route="GET /api/health"`)) {
		t.Errorf("request metric missing from:\n%s", w.Body)
	}
}

func TestRateLimitedChain(t *testing.T) {
	hs := newHarness()
	h := mid.Chain(hs.h, mid.RateLimit(1, 1))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}
