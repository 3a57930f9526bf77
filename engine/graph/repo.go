package graph

import (
	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/pkg/repo"
)

// Return clauses resolving the relationship-backed fields of each entity.
const (
	elementReturn     = `WITH n OPTIONAL MATCH (n)-[:PART_OF]->(p:ELEMENT) RETURN n, p.id AS parent_id`
	failureReturn     = `WITH n OPTIONAL MATCH (n)-[:OCCURRENCE]->(e:ELEMENT) RETURN n, e.id AS element_id`
	causationReturn   = `WITH n OPTIONAL MATCH (n)-[:FIRST]->(c:FAILURE) OPTIONAL MATCH (n)-[:THEN]->(e:FAILURE) RETURN n, c.id AS cause_id, e.id AS effect_id`
	ratingReturn      = `WITH n OPTIONAL MATCH (c:CAUSATION)-[:RISK]->(n) RETURN n, c.id AS causation_id`
	taskReturn        = `WITH n OPTIONAL MATCH (n)-[:MITIGATES]->(r:RISK_RATING) RETURN n, r.id AS risk_rating_id`
	requirementReturn = `WITH n OPTIONAL MATCH (n)-[:ADDRESSES]->(f:FAILURE) WITH n, f ORDER BY f.id RETURN n, collect(f.id) AS failure_ids ORDER BY n.name, n.id`
)

func newElementRepo(o repo.SessionOpener) *repo.Neo4jRepo[safety.Element, string] {
	return repo.NewNeo4jRepo[safety.Element, string](o, safety.LabelElement, elementToMap, elementFromProps,
		repo.WithReturn[safety.Element, string](elementReturn))
}

func newFailureRepo(o repo.SessionOpener) *repo.Neo4jRepo[safety.Failure, string] {
	return repo.NewNeo4jRepo[safety.Failure, string](o, safety.LabelFailure, failureToMap, failureFromProps,
		repo.WithReturn[safety.Failure, string](failureReturn))
}

func newCausationRepo(o repo.SessionOpener) *repo.Neo4jRepo[safety.Causation, string] {
	return repo.NewNeo4jRepo[safety.Causation, string](o, safety.LabelCausation, causationToMap, causationFromProps,
		repo.WithReturn[safety.Causation, string](causationReturn))
}

func newRatingRepo(o repo.SessionOpener) *repo.Neo4jRepo[safety.RiskRating, string] {
	return repo.NewNeo4jRepo[safety.RiskRating, string](o, safety.LabelRiskRating, ratingToMap, ratingFromProps,
		repo.WithReturn[safety.RiskRating, string](ratingReturn))
}

func newTaskRepo(o repo.SessionOpener) *repo.Neo4jRepo[safety.Task, string] {
	return repo.NewNeo4jRepo[safety.Task, string](o, safety.LabelTask, taskToMap, taskFromProps,
		repo.WithReturn[safety.Task, string](taskReturn))
}

func newRequirementRepo(o repo.SessionOpener) *repo.Neo4jRepo[safety.Requirement, string] {
	return repo.NewNeo4jRepo[safety.Requirement, string](o, safety.LabelRequirement, requirementToMap, requirementFromProps,
		repo.WithReturn[safety.Requirement, string](requirementReturn))
}

func elementToMap(e safety.Element) map[string]any {
	m := map[string]any{
		"id":          e.ID,
		"name":        e.Name,
		"type":        string(e.Type),
		"description": e.Description,
	}
	repo.PutTime(m, "created_at", e.CreatedAt)
	repo.PutTime(m, "updated_at", e.UpdatedAt)
	return m
}

func elementFromProps(p map[string]any) safety.Element {
	return safety.Element{
		ID:          repo.Str(p, "id"),
		Name:        repo.Str(p, "name"),
		Type:        safety.ElementType(repo.Str(p, "type")),
		Description: repo.Str(p, "description"),
		ParentID:    repo.Str(p, "parent_id"),
		CreatedAt:   repo.Time(p, "created_at"),
		UpdatedAt:   repo.Time(p, "updated_at"),
	}
}

func failureToMap(f safety.Failure) map[string]any {
	m := map[string]any{
		"id":          f.ID,
		"name":        f.Name,
		"description": f.Description,
	}
	repo.PutTime(m, "created_at", f.CreatedAt)
	repo.PutTime(m, "updated_at", f.UpdatedAt)
	return m
}

func failureFromProps(p map[string]any) safety.Failure {
	return safety.Failure{
		ID:          repo.Str(p, "id"),
		ElementID:   repo.Str(p, "element_id"),
		Name:        repo.Str(p, "name"),
		Description: repo.Str(p, "description"),
		CreatedAt:   repo.Time(p, "created_at"),
		UpdatedAt:   repo.Time(p, "updated_at"),
	}
}

func causationToMap(c safety.Causation) map[string]any {
	m := map[string]any{"id": c.ID}
	repo.PutTime(m, "created_at", c.CreatedAt)
	return m
}

func causationFromProps(p map[string]any) safety.Causation {
	return safety.Causation{
		ID:        repo.Str(p, "id"),
		CauseID:   repo.Str(p, "cause_id"),
		EffectID:  repo.Str(p, "effect_id"),
		CreatedAt: repo.Time(p, "created_at"),
	}
}

func ratingToMap(r safety.RiskRating) map[string]any {
	m := map[string]any{
		"id":         r.ID,
		"severity":   int64(r.Severity),
		"occurrence": int64(r.Occurrence),
		"detection":  int64(r.Detection),
		"rpn":        int64(r.RPN),
		"asil":       string(r.ASIL),
		"comment":    r.Comment,
	}
	repo.PutTime(m, "created_at", r.CreatedAt)
	return m
}

func ratingFromProps(p map[string]any) safety.RiskRating {
	return safety.RiskRating{
		ID:          repo.Str(p, "id"),
		CausationID: repo.Str(p, "causation_id"),
		Severity:    int(repo.Int(p["severity"])),
		Occurrence:  int(repo.Int(p["occurrence"])),
		Detection:   int(repo.Int(p["detection"])),
		RPN:         int(repo.Int(p["rpn"])),
		ASIL:        safety.ASIL(repo.Str(p, "asil")),
		Comment:     repo.Str(p, "comment"),
		CreatedAt:   repo.Time(p, "created_at"),
	}
}

func taskToMap(t safety.Task) map[string]any {
	m := map[string]any{
		"id":          t.ID,
		"name":        t.Name,
		"description": t.Description,
		"responsible": t.Responsible,
		"status":      string(t.Status),
		"due":         t.Due,
	}
	repo.PutTime(m, "created_at", t.CreatedAt)
	repo.PutTime(m, "updated_at", t.UpdatedAt)
	return m
}

func taskFromProps(p map[string]any) safety.Task {
	return safety.Task{
		ID:           repo.Str(p, "id"),
		RiskRatingID: repo.Str(p, "risk_rating_id"),
		Name:         repo.Str(p, "name"),
		Description:  repo.Str(p, "description"),
		Responsible:  repo.Str(p, "responsible"),
		Status:       safety.TaskStatus(repo.Str(p, "status")),
		Due:          repo.Str(p, "due"),
		CreatedAt:    repo.Time(p, "created_at"),
		UpdatedAt:    repo.Time(p, "updated_at"),
	}
}

func requirementToMap(r safety.Requirement) map[string]any {
	m := map[string]any{
		"id":   r.ID,
		"name": r.Name,
		"text": r.Text,
		"asil": string(r.ASIL),
		"kind": string(r.Kind),
	}
	repo.PutTime(m, "created_at", r.CreatedAt)
	repo.PutTime(m, "updated_at", r.UpdatedAt)
	return m
}

func requirementFromProps(p map[string]any) safety.Requirement {
	return safety.Requirement{
		ID:         repo.Str(p, "id"),
		Name:       repo.Str(p, "name"),
		Text:       repo.Str(p, "text"),
		ASIL:       safety.ASIL(repo.Str(p, "asil")),
		Kind:       safety.RequirementKind(repo.Str(p, "kind")),
		FailureIDs: repo.Strings(p["failure_ids"]),
		CreatedAt:  repo.Time(p, "created_at"),
		UpdatedAt:  repo.Time(p, "updated_at"),
	}
}
