package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/WessleyAI/safety-workbench/engine/events"
	"github.com/WessleyAI/safety-workbench/engine/graphcode"
	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/pkg/fn"
)

// Event kinds.
const (
	kindElement     = "element"
	kindFailure     = "failure"
	kindCausation   = "causation"
	kindRating      = "rating"
	kindTask        = "task"
	kindRequirement = "requirement"
	kindGraph       = "graph"
)

const (
	defaultSimilar = 5
	maxSimilar     = 50
)

// --- Elements ---

func (s *server) listElements(w http.ResponseWriter, r *http.Request) {
	opts, err := listOpts(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	elems, err := s.store.ListElements(r.Context(), opts)
	s.reply(w, r, http.StatusOK, nonNil(elems), err)
}

func (s *server) createElement(w http.ResponseWriter, r *http.Request) {
	in, err := decode[safety.Element](w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	e, err := s.store.CreateElement(r.Context(), in)
	if err == nil {
		s.publish(r.Context(), kindElement, events.Created, e.ID, e.ParentID)
	}
	s.reply(w, r, http.StatusCreated, e, err)
}

func (s *server) elementTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.store.ElementTree(r.Context())
	s.reply(w, r, http.StatusOK, nonNil(tree), err)
}

func (s *server) getElement(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.GetElement(r.Context(), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, e, err)
}

func (s *server) updateElement(w http.ResponseWriter, r *http.Request) {
	in, err := decode[safety.Element](w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	in.ID = r.PathValue("id")
	e, err := s.store.UpdateElement(r.Context(), in)
	if err == nil {
		s.publish(r.Context(), kindElement, events.Updated, e.ID, e.ParentID)
	}
	s.reply(w, r, http.StatusOK, e, err)
}

// deleteElement removes the element's failures from the similar-failure
// index after the store cascade succeeds.
func (s *server) deleteElement(w http.ResponseWriter, r *http.Request) {
	ctx, id := r.Context(), r.PathValue("id")
	failures, err := s.store.ListFailures(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.DeleteElement(ctx, id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.unindex(ctx, fn.Map(failures, func(f safety.Failure) string { return f.ID })...)
	s.publish(ctx, kindElement, events.Deleted, id, "")
	w.WriteHeader(http.StatusNoContent)
}

// --- Failures ---

func (s *server) listFailures(w http.ResponseWriter, r *http.Request) {
	fs, err := s.store.ListFailures(r.Context(), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, nonNil(fs), err)
}

func (s *server) createFailure(w http.ResponseWriter, r *http.Request) {
	in, err := decode[safety.Failure](w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := s.store.CreateFailure(r.Context(), r.PathValue("id"), in)
	if err == nil {
		s.reindex(r.Context(), f)
		s.publish(r.Context(), kindFailure, events.Created, f.ID, f.ElementID)
	}
	s.reply(w, r, http.StatusCreated, f, err)
}

func (s *server) fmeaTable(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.FMEATable(r.Context(), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, nonNil(rows), err)
}

func (s *server) getFailure(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFailure(r.Context(), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, f, err)
}

func (s *server) updateFailure(w http.ResponseWriter, r *http.Request) {
	in, err := decode[safety.Failure](w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	in.ID = r.PathValue("id")
	f, err := s.store.UpdateFailure(r.Context(), in)
	if err == nil {
		s.reindex(r.Context(), f)
		s.publish(r.Context(), kindFailure, events.Updated, f.ID, f.ElementID)
	}
	s.reply(w, r, http.StatusOK, f, err)
}

func (s *server) deleteFailure(w http.ResponseWriter, r *http.Request) {
	ctx, id := r.Context(), r.PathValue("id")
	err := s.store.DeleteFailure(ctx, id)
	if err == nil {
		s.unindex(ctx, id)
		s.publish(ctx, kindFailure, events.Deleted, id, "")
	}
	s.done(w, r, err)
}

func (s *server) listCausations(w http.ResponseWriter, r *http.Request) {
	cs, err := s.store.ListCausations(r.Context(), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, nonNil(cs), err)
}

func (s *server) similarFailures(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.fail(w, r, safety.NewValidationError("q", q, safety.ErrInvalid))
		return
	}
	k, err := intParam(r, "k", defaultSimilar)
	if err == nil && (k < 1 || k > maxSimilar) {
		err = safety.NewValidationError("k", strconv.Itoa(k), safety.ErrInvalid)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	hits, err := s.index.Similar(r.Context(), q, k)
	s.reply(w, r, http.StatusOK, nonNil(hits), err)
}

// --- Causations ---

func (s *server) createCausation(w http.ResponseWriter, r *http.Request) {
	in, err := decode[safety.Causation](w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.store.CreateCausation(r.Context(), in)
	if err == nil {
		s.publish(r.Context(), kindCausation, events.Created, c.ID, c.EffectID)
	}
	s.reply(w, r, http.StatusCreated, c, err)
}

func (s *server) getCausation(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCausation(r.Context(), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, c, err)
}

func (s *server) deleteCausation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.DeleteCausation(r.Context(), id)
	if err == nil {
		s.publish(r.Context(), kindCausation, events.Deleted, id, "")
	}
	s.done(w, r, err)
}

// --- Risk ratings ---

func (s *server) listRatings(w http.ResponseWriter, r *http.Request) {
	rs, err := s.store.ListRiskRatings(r.Context(), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, nonNil(rs), err)
}

func (s *server) createRating(w http.ResponseWriter, r *http.Request) {
	in, err := decode[safety.RiskRating](w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rr, err := s.store.CreateRiskRating(r.Context(), r.PathValue("id"), in)
	if err == nil {
		s.publish(r.Context(), kindRating, events.Created, rr.ID, rr.CausationID)
	}
	s.reply(w, r, http.StatusCreated, rr, err)
}

func (s *server) getRating(w http.ResponseWriter, r *http.Request) {
	rr, err := s.store.GetRiskRating(r.Context(), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, rr, err)
}

func (s *server) updateRating(w http.ResponseWriter, r *http.Request) {
	in, err := decode[safety.RiskRating](w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	in.ID = r.PathValue("id")
	rr, err := s.store.UpdateRiskRating(r.Context(), in)
	if err == nil {
		s.publish(r.Context(), kindRating, events.Updated, rr.ID, rr.CausationID)
	}
	s.reply(w, r, http.StatusOK, rr, err)
}

func (s *server) deleteRating(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.DeleteRiskRating(r.Context(), id)
	if err == nil {
		s.publish(r.Context(), kindRating, events.Deleted, id, "")
	}
	s.done(w, r, err)
}

// --- Tasks ---

func (s *server) listTasks(w http.ResponseWriter, r *http.Request) {
	ts, err := s.store.ListTasks(r.Context(), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, nonNil(ts), err)
}

func (s *server) createTask(w http.ResponseWriter, r *http.Request) {
	in, err := decode[safety.Task](w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.store.CreateTask(r.Context(), r.PathValue("id"), in)
	if err == nil {
		s.publish(r.Context(), kindTask, events.Created, t.ID, t.RiskRatingID)
	}
	s.reply(w, r, http.StatusCreated, t, err)
}

func (s *server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, t, err)
}

func (s *server) updateTask(w http.ResponseWriter, r *http.Request) {
	in, err := decode[safety.Task](w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	in.ID = r.PathValue("id")
	t, err := s.store.UpdateTask(r.Context(), in)
	if err == nil {
		s.publish(r.Context(), kindTask, events.Updated, t.ID, t.RiskRatingID)
	}
	s.reply(w, r, http.StatusOK, t, err)
}

func (s *server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.DeleteTask(r.Context(), id)
	if err == nil {
		s.publish(r.Context(), kindTask, events.Deleted, id, "")
	}
	s.done(w, r, err)
}

// --- Requirements ---

func (s *server) listRequirements(w http.ResponseWriter, r *http.Request) {
	opts, err := listOpts(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reqs, err := s.store.ListRequirements(r.Context(), r.URL.Query().Get("failure"), opts)
	s.reply(w, r, http.StatusOK, nonNil(reqs), err)
}

func (s *server) createRequirement(w http.ResponseWriter, r *http.Request) {
	in, err := decode[safety.Requirement](w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := s.store.CreateRequirement(r.Context(), in)
	if err == nil {
		s.publish(r.Context(), kindRequirement, events.Created, req.ID, "")
	}
	s.reply(w, r, http.StatusCreated, req, err)
}

func (s *server) getRequirement(w http.ResponseWriter, r *http.Request) {
	req, err := s.store.GetRequirement(r.Context(), r.PathValue("id"))
	s.reply(w, r, http.StatusOK, req, err)
}

func (s *server) updateRequirement(w http.ResponseWriter, r *http.Request) {
	in, err := decode[safety.Requirement](w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	in.ID = r.PathValue("id")
	req, err := s.store.UpdateRequirement(r.Context(), in)
	if err == nil {
		s.publish(r.Context(), kindRequirement, events.Updated, req.ID, "")
	}
	s.reply(w, r, http.StatusOK, req, err)
}

func (s *server) deleteRequirement(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.DeleteRequirement(r.Context(), id)
	if err == nil {
		s.publish(r.Context(), kindRequirement, events.Deleted, id, "")
	}
	s.done(w, r, err)
}

func (s *server) linkRequirement(w http.ResponseWriter, r *http.Request) {
	id, failureID := r.PathValue("id"), r.PathValue("failureID")
	err := s.store.LinkRequirement(r.Context(), id, failureID)
	if err == nil {
		s.publish(r.Context(), kindRequirement, events.Linked, id, failureID)
	}
	s.done(w, r, err)
}

func (s *server) unlinkRequirement(w http.ResponseWriter, r *http.Request) {
	id, failureID := r.PathValue("id"), r.PathValue("failureID")
	err := s.store.UnlinkRequirement(r.Context(), id, failureID)
	if err == nil {
		s.publish(r.Context(), kindRequirement, events.Unlinked, id, failureID)
	}
	s.done(w, r, err)
}

// --- Graph as code ---

func (s *server) exportGraph(w http.ResponseWriter, r *http.Request) {
	snap, err := s.code.Snapshot(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	name := "graph-" + snap.Manifest.ExportedAt.UTC().Format("20060102T150405Z") + ".json"
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := graphcode.EncodeJSON(w, snap); err != nil {
		s.log.Warn("write export", "err", err)
	}
}

// importGraph replaces the whole database with the posted snapshot.
func (s *server) importGraph(w http.ResponseWriter, r *http.Request) {
	strict, err := boolParam(r, "strict")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	rep, err := s.code.ImportJSON(r.Context(), body, strict)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.publish(r.Context(), kindGraph, events.Imported, rep.Digest, "")
	writeJSON(w, http.StatusOK, rep)
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, safety.NewValidationError(name, raw, safety.ErrInvalid)
	}
	return b, nil
}

// nonNil makes empty lists encode as [] instead of null.
func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
