package graph

import (
	"context"
	"fmt"

	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// CreateCausation links a cause failure to an effect failure. Both must exist
// and at most one causation may join the same pair.
func (s *Store) CreateCausation(ctx context.Context, c safety.Causation) (safety.Causation, error) {
	c.ID = s.ensureID(c.ID)
	if err := safety.ValidateCausation(&c); err != nil {
		return safety.Causation{}, err
	}
	c.CreatedAt = s.stamp()
	params := map[string]any{
		"cause":  c.CauseID,
		"effect": c.EffectID,
		"props":  causationToMap(c),
	}

	var created safety.Causation
	err := s.write(ctx, func(tx repo.CypherRunner) error {
		if err := claimID(ctx, tx, safety.LabelCausation, c.ID); err != nil {
			return err
		}
		n, err := counts(ctx, tx,
			`OPTIONAL MATCH (a:FAILURE {id: $cause})
			 OPTIONAL MATCH (b:FAILURE {id: $effect})
			 OPTIONAL MATCH (a)<-[:FIRST]-(x:CAUSATION)-[:THEN]->(b)
			 RETURN count(DISTINCT a) AS causes, count(DISTINCT b) AS effects, count(x) AS existing`,
			params, "causes", "effects", "existing")
		if err != nil {
			return err
		}
		switch {
		case n[0] == 0:
			return notFound(safety.LabelFailure, c.CauseID)
		case n[1] == 0:
			return notFound(safety.LabelFailure, c.EffectID)
		case n[2] > 0:
			return fmt.Errorf("%s -> %s: %w", c.CauseID, c.EffectID, safety.ErrDuplicateCause)
		}
		result, err := tx.Run(ctx,
			`MATCH (a:FAILURE {id: $cause}), (b:FAILURE {id: $effect})
			 CREATE (a)<-[:FIRST]-(n:CAUSATION $props)-[:THEN]->(b)
			 RETURN n, a.id AS cause_id, b.id AS effect_id`, params)
		if err != nil {
			return err
		}
		items, err := repo.CollectNodes(ctx, result, "n", causationFromProps)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("create causation: no row returned")
		}
		created = items[0]
		return nil
	})
	return created, err
}

// GetCausation returns a causation by ID.
func (s *Store) GetCausation(ctx context.Context, id string) (safety.Causation, error) {
	return s.causations.Get(ctx, id)
}

// ListCausations returns the causations a failure takes part in, each with
// the failure on the other side.
func (s *Store) ListCausations(ctx context.Context, failureID string) ([]safety.CausationView, error) {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx,
		`MATCH (f:FAILURE {id: $id})<-[rel:FIRST|THEN]-(n:CAUSATION)
		 MATCH (n)-[:FIRST]->(cause:FAILURE), (n)-[:THEN]->(effect:FAILURE)
		 WITH n, type(rel) AS kind, cause, effect,
		      CASE type(rel) WHEN 'FIRST' THEN effect ELSE cause END AS other
		 OPTIONAL MATCH (other)-[:OCCURRENCE]->(oe:ELEMENT)
		 RETURN n, cause.id AS cause_id, effect.id AS effect_id, kind, other, oe.id AS other_element
		 ORDER BY kind, other.name, n.id`,
		map[string]any{"id": failureID})
	if err != nil {
		return nil, err
	}
	var views []safety.CausationView
	for result.Next(ctx) {
		v, err := causationView(result.Record())
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	if len(views) > 0 {
		return views, nil
	}
	return empty[safety.CausationView](ctx, s.failures, failureID)
}

func causationView(rec *neo4j.Record) (safety.CausationView, error) {
	props, ok := repo.RowProps(rec, "n")
	if !ok {
		return safety.CausationView{}, fmt.Errorf("causation row has no node")
	}
	other, ok := repo.NodeAt(rec, "other")
	if !ok {
		return safety.CausationView{}, fmt.Errorf("causation row has no counterpart")
	}
	v := safety.CausationView{Causation: causationFromProps(props), Role: safety.RoleEffect}
	if kind, _ := rec.Get("kind"); kind == safety.RelFirst {
		v.Role = safety.RoleCause
	}
	v.Other = failureFromProps(other.Props)
	if oe, _ := rec.Get("other_element"); oe != nil {
		v.Other.ElementID, _ = oe.(string)
	}
	return v, nil
}

// DeleteCausation removes a causation with its ratings and their tasks.
func (s *Store) DeleteCausation(ctx context.Context, id string) error {
	params := map[string]any{"id": id}
	return s.write(ctx, func(tx repo.CypherRunner) error {
		n, err := counts(ctx, tx, `MATCH (c:CAUSATION {id: $id}) RETURN count(c) AS found`, params, "found")
		if err != nil {
			return err
		}
		if n[0] == 0 {
			return notFound(safety.LabelCausation, id)
		}
		return exec(ctx, tx,
			`MATCH (c:CAUSATION {id: $id})
			 OPTIONAL MATCH (c)-[:RISK]->(r:RISK_RATING)
			 OPTIONAL MATCH (t:SAFETY_TASK)-[:MITIGATES]->(r)
			 DETACH DELETE t, r, c`, params)
	})
}
