package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/WessleyAI/safety-workbench/engine/events"
	"github.com/WessleyAI/safety-workbench/engine/graph"
	"github.com/WessleyAI/safety-workbench/engine/graphcode"
	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/engine/semantic"
	"github.com/WessleyAI/safety-workbench/pkg/metrics"
	"github.com/WessleyAI/safety-workbench/pkg/repo"
	"github.com/WessleyAI/safety-workbench/pkg/resilience"
)

// Store is the part of *graph.Store the API serves.
type Store interface {
	CreateElement(ctx context.Context, e safety.Element) (safety.Element, error)
	GetElement(ctx context.Context, id string) (safety.Element, error)
	ListElements(ctx context.Context, opts repo.ListOpts) ([]safety.Element, error)
	UpdateElement(ctx context.Context, e safety.Element) (safety.Element, error)
	DeleteElement(ctx context.Context, id string) error
	ElementTree(ctx context.Context) ([]*safety.ElementNode, error)

	CreateFailure(ctx context.Context, elementID string, f safety.Failure) (safety.Failure, error)
	GetFailure(ctx context.Context, id string) (safety.Failure, error)
	ListFailures(ctx context.Context, elementID string) ([]safety.Failure, error)
	UpdateFailure(ctx context.Context, f safety.Failure) (safety.Failure, error)
	DeleteFailure(ctx context.Context, id string) error
	FMEATable(ctx context.Context, elementID string) ([]safety.FMEARow, error)

	CreateCausation(ctx context.Context, c safety.Causation) (safety.Causation, error)
	GetCausation(ctx context.Context, id string) (safety.Causation, error)
	ListCausations(ctx context.Context, failureID string) ([]safety.CausationView, error)
	DeleteCausation(ctx context.Context, id string) error

	CreateRiskRating(ctx context.Context, causationID string, r safety.RiskRating) (safety.RiskRating, error)
	GetRiskRating(ctx context.Context, id string) (safety.RiskRating, error)
	ListRiskRatings(ctx context.Context, causationID string) ([]safety.RiskRating, error)
	UpdateRiskRating(ctx context.Context, r safety.RiskRating) (safety.RiskRating, error)
	DeleteRiskRating(ctx context.Context, id string) error

	CreateTask(ctx context.Context, ratingID string, t safety.Task) (safety.Task, error)
	GetTask(ctx context.Context, id string) (safety.Task, error)
	ListTasks(ctx context.Context, ratingID string) ([]safety.Task, error)
	UpdateTask(ctx context.Context, t safety.Task) (safety.Task, error)
	DeleteTask(ctx context.Context, id string) error

	CreateRequirement(ctx context.Context, r safety.Requirement) (safety.Requirement, error)
	GetRequirement(ctx context.Context, id string) (safety.Requirement, error)
	ListRequirements(ctx context.Context, failureID string, opts repo.ListOpts) ([]safety.Requirement, error)
	UpdateRequirement(ctx context.Context, r safety.Requirement) (safety.Requirement, error)
	DeleteRequirement(ctx context.Context, id string) error
	LinkRequirement(ctx context.Context, requirementID, failureID string) error
	UnlinkRequirement(ctx context.Context, requirementID, failureID string) error

	Stats(ctx context.Context) (graph.Stats, error)
}

// GraphCode is the part of *graphcode.Service the API serves.
type GraphCode interface {
	Snapshot(ctx context.Context) (graphcode.Snapshot, error)
	ImportJSON(ctx context.Context, r io.Reader, strict bool) (graphcode.Report, error)
}

// maxImportBytes caps the body of a graph import.
const maxImportBytes = 256 << 20

// maxBodyBytes caps every other JSON body.
const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

type server struct {
	store  Store
	code   GraphCode
	index  semantic.Index
	events events.Publisher
	log    *slog.Logger
}

func newServer(store Store, code GraphCode, index semantic.Index, pub events.Publisher, log *slog.Logger) *server {
	if index == nil {
		index = semantic.Disabled{}
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &server{store: store, code: code, index: index, events: pub, log: log}
}

func (s *server) routes(reg *metrics.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("GET /api/elements", s.listElements)
	mux.HandleFunc("POST /api/elements", s.createElement)
	mux.HandleFunc("GET /api/elements/tree", s.elementTree)
	mux.HandleFunc("GET /api/elements/{id}", s.getElement)
	mux.HandleFunc("PUT /api/elements/{id}", s.updateElement)
	mux.HandleFunc("DELETE /api/elements/{id}", s.deleteElement)
	mux.HandleFunc("GET /api/elements/{id}/failures", s.listFailures)
	mux.HandleFunc("POST /api/elements/{id}/failures", s.createFailure)
	mux.HandleFunc("GET /api/elements/{id}/fmea", s.fmeaTable)

	mux.HandleFunc("GET /api/failures/similar", s.similarFailures)
	mux.HandleFunc("GET /api/failures/{id}", s.getFailure)
	mux.HandleFunc("PUT /api/failures/{id}", s.updateFailure)
	mux.HandleFunc("DELETE /api/failures/{id}", s.deleteFailure)
	mux.HandleFunc("GET /api/failures/{id}/causations", s.listCausations)

	mux.HandleFunc("POST /api/causations", s.createCausation)
	mux.HandleFunc("GET /api/causations/{id}", s.getCausation)
	mux.HandleFunc("DELETE /api/causations/{id}", s.deleteCausation)
	mux.HandleFunc("GET /api/causations/{id}/ratings", s.listRatings)
	mux.HandleFunc("POST /api/causations/{id}/ratings", s.createRating)

	mux.HandleFunc("GET /api/ratings/{id}", s.getRating)
	mux.HandleFunc("PUT /api/ratings/{id}", s.updateRating)
	mux.HandleFunc("DELETE /api/ratings/{id}", s.deleteRating)
	mux.HandleFunc("GET /api/ratings/{id}/tasks", s.listTasks)
	mux.HandleFunc("POST /api/ratings/{id}/tasks", s.createTask)

	mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	mux.HandleFunc("PUT /api/tasks/{id}", s.updateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteTask)

	mux.HandleFunc("GET /api/requirements", s.listRequirements)
	mux.HandleFunc("POST /api/requirements", s.createRequirement)
	mux.HandleFunc("GET /api/requirements/{id}", s.getRequirement)
	mux.HandleFunc("PUT /api/requirements/{id}", s.updateRequirement)
	mux.HandleFunc("DELETE /api/requirements/{id}", s.deleteRequirement)
	mux.HandleFunc("PUT /api/requirements/{id}/failures/{failureID}", s.linkRequirement)
	mux.HandleFunc("DELETE /api/requirements/{id}/failures/{failureID}", s.unlinkRequirement)

	mux.HandleFunc("GET /api/graph/export", s.exportGraph)
	mux.HandleFunc("POST /api/graph/import", s.importGraph)

	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	s.reply(w, r, http.StatusOK, st, err)
}

// --- Plumbing ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest), safety.IsValidation(err), graphcode.IsInvalid(err):
		return http.StatusBadRequest
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, safety.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, semantic.ErrDisabled), errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func (s *server) reply(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

func (s *server) done(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return v, err
		}
		return v, fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return v, nil
}

func listOpts(r *http.Request) (repo.ListOpts, error) {
	var opts repo.ListOpts
	var err error
	if opts.Offset, err = intParam(r, "offset", 0); err != nil {
		return opts, err
	}
	opts.Limit, err = intParam(r, "limit", 0)
	return opts, err
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, safety.NewValidationError(name, raw, safety.ErrInvalid)
	}
	return n, nil
}

func (s *server) publish(ctx context.Context, kind string, action events.Action, id, parent string) {
	s.events.Publish(ctx, events.Change{Kind: kind, Action: action, ID: id, Parent: parent})
}

// reindex keeps the similar-failure index in step with the store. The store
// stays authoritative, so index errors are only logged.
func (s *server) reindex(ctx context.Context, f safety.Failure) {
	if err := s.index.Index(ctx, f); err != nil && !errors.Is(err, semantic.ErrDisabled) {
		s.log.Warn("index failure", "id", f.ID, "err", err)
	}
}

func (s *server) unindex(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	if err := s.index.Remove(ctx, ids...); err != nil && !errors.Is(err, semantic.ErrDisabled) {
		s.log.Warn("unindex failures", "ids", ids, "err", err)
	}
}
