package graph

import (
	"context"
	"time"

	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/pkg/repo"
)

// CreateRiskRating rates a causation. The RPN is computed here.
func (s *Store) CreateRiskRating(ctx context.Context, causationID string, r safety.RiskRating) (safety.RiskRating, error) {
	r.ID = s.ensureID(r.ID)
	if err := safety.ValidateRiskRating(&r); err != nil {
		return safety.RiskRating{}, err
	}
	r.CausationID = causationID
	r.CreatedAt = s.stamp()
	return create(ctx, s, safety.LabelRiskRating, r.ID,
		`MATCH (c:CAUSATION {id: $causation})
		 CREATE (c)-[:RISK]->(n:RISK_RATING $props)
		 RETURN n, c.id AS causation_id`,
		map[string]any{"causation": causationID, "props": ratingToMap(r)},
		ratingFromProps, safety.LabelCausation, causationID)
}

// GetRiskRating returns a rating by ID.
func (s *Store) GetRiskRating(ctx context.Context, id string) (safety.RiskRating, error) {
	return s.ratings.Get(ctx, id)
}

// ListRiskRatings returns a causation's ratings, newest first.
func (s *Store) ListRiskRatings(ctx context.Context, causationID string) ([]safety.RiskRating, error) {
	items, err := query(ctx, s,
		`MATCH (c:CAUSATION {id: $causation})-[:RISK]->(n:RISK_RATING)
		 RETURN n, c.id AS causation_id
		 ORDER BY n.created_at DESC, n.id`,
		map[string]any{"causation": causationID}, ratingFromProps)
	if err != nil || len(items) > 0 {
		return items, err
	}
	return empty[safety.RiskRating](ctx, s.causations, causationID)
}

// UpdateRiskRating replaces the factors, ASIL and comment and recomputes the
// RPN.
func (s *Store) UpdateRiskRating(ctx context.Context, r safety.RiskRating) (safety.RiskRating, error) {
	if err := safety.ValidateRiskRating(&r); err != nil {
		return safety.RiskRating{}, err
	}
	r.CreatedAt = time.Time{}
	return s.ratings.Update(ctx, r)
}

// DeleteRiskRating removes a rating and its tasks.
func (s *Store) DeleteRiskRating(ctx context.Context, id string) error {
	params := map[string]any{"id": id}
	return s.write(ctx, func(tx repo.CypherRunner) error {
		n, err := counts(ctx, tx, `MATCH (r:RISK_RATING {id: $id}) RETURN count(r) AS found`, params, "found")
		if err != nil {
			return err
		}
		if n[0] == 0 {
			return notFound(safety.LabelRiskRating, id)
		}
		return exec(ctx, tx,
			`MATCH (r:RISK_RATING {id: $id})
			 OPTIONAL MATCH (t:SAFETY_TASK)-[:MITIGATES]->(r)
			 DETACH DELETE t, r`, params)
	})
}
