package graph

import (
	"context"
	"time"

	"github.com/WessleyAI/safety-workbench/engine/safety"
)

// CreateTask attaches a mitigation task to a risk rating.
func (s *Store) CreateTask(ctx context.Context, ratingID string, t safety.Task) (safety.Task, error) {
	t.ID = s.ensureID(t.ID)
	if err := safety.ValidateTask(&t); err != nil {
		return safety.Task{}, err
	}
	t.RiskRatingID = ratingID
	t.CreatedAt = s.stamp()
	t.UpdatedAt = t.CreatedAt
	return create(ctx, s, safety.LabelTask, t.ID,
		`MATCH (r:RISK_RATING {id: $rating})
		 CREATE (n:SAFETY_TASK $props)-[:MITIGATES]->(r)
		 RETURN n, r.id AS risk_rating_id`,
		map[string]any{"rating": ratingID, "props": taskToMap(t)},
		taskFromProps, safety.LabelRiskRating, ratingID)
}

// GetTask returns a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (safety.Task, error) {
	return s.tasks.Get(ctx, id)
}

// ListTasks returns the tasks mitigating a rating in creation order.
func (s *Store) ListTasks(ctx context.Context, ratingID string) ([]safety.Task, error) {
	items, err := query(ctx, s,
		`MATCH (n:SAFETY_TASK)-[:MITIGATES]->(r:RISK_RATING {id: $rating})
		 RETURN n, r.id AS risk_rating_id
		 ORDER BY n.created_at, n.id`,
		map[string]any{"rating": ratingID}, taskFromProps)
	if err != nil || len(items) > 0 {
		return items, err
	}
	return empty[safety.Task](ctx, s.ratings, ratingID)
}

// UpdateTask replaces the task's attributes.
func (s *Store) UpdateTask(ctx context.Context, t safety.Task) (safety.Task, error) {
	if err := safety.ValidateTask(&t); err != nil {
		return safety.Task{}, err
	}
	t.CreatedAt = time.Time{}
	t.UpdatedAt = s.stamp()
	return s.tasks.Update(ctx, t)
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.tasks.Delete(ctx, id)
}
