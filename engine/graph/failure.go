package graph

import (
	"context"
	"time"

	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/pkg/repo"
)

// CreateFailure stores a failure mode occurring at elementID.
func (s *Store) CreateFailure(ctx context.Context, elementID string, f safety.Failure) (safety.Failure, error) {
	f.ID = s.ensureID(f.ID)
	if err := safety.ValidateFailure(&f); err != nil {
		return safety.Failure{}, err
	}
	f.ElementID = elementID
	f.CreatedAt = s.stamp()
	f.UpdatedAt = f.CreatedAt
	return create(ctx, s, safety.LabelFailure, f.ID,
		`MATCH (e:ELEMENT {id: $element})
		 CREATE (n:FAILURE $props)-[:OCCURRENCE]->(e)
		 RETURN n, e.id AS element_id`,
		map[string]any{"element": elementID, "props": failureToMap(f)},
		failureFromProps, safety.LabelElement, elementID)
}

// GetFailure returns a failure by ID.
func (s *Store) GetFailure(ctx context.Context, id string) (safety.Failure, error) {
	return s.failures.Get(ctx, id)
}

// ListFailures returns the failure modes of an element.
func (s *Store) ListFailures(ctx context.Context, elementID string) ([]safety.Failure, error) {
	items, err := query(ctx, s,
		`MATCH (n:FAILURE)-[:OCCURRENCE]->(e:ELEMENT {id: $element})
		 RETURN n, e.id AS element_id
		 ORDER BY n.name, n.id`,
		map[string]any{"element": elementID}, failureFromProps)
	if err != nil || len(items) > 0 {
		return items, err
	}
	return empty[safety.Failure](ctx, s.elements, elementID)
}

// FailuresAfter returns up to limit failure modes whose ID sorts after the
// given one, in ID order. Pass the last ID of one page to get the next.
func (s *Store) FailuresAfter(ctx context.Context, after string, limit int) ([]safety.Failure, error) {
	if limit <= 0 {
		limit = repo.DefaultLimit
	}
	return query(ctx, s,
		`MATCH (n:FAILURE) WHERE n.id > $after
		 OPTIONAL MATCH (n)-[:OCCURRENCE]->(e:ELEMENT)
		 RETURN n, e.id AS element_id
		 ORDER BY n.id
		 LIMIT $limit`,
		map[string]any{"after": after, "limit": int64(limit)}, failureFromProps)
}

// UpdateFailure replaces the failure's attributes.
func (s *Store) UpdateFailure(ctx context.Context, f safety.Failure) (safety.Failure, error) {
	if err := safety.ValidateFailure(&f); err != nil {
		return safety.Failure{}, err
	}
	f.CreatedAt = time.Time{}
	f.UpdatedAt = s.stamp()
	return s.failures.Update(ctx, f)
}

// DeleteFailure removes a failure together with the causations touching it,
// their ratings and those ratings' tasks.
func (s *Store) DeleteFailure(ctx context.Context, id string) error {
	params := map[string]any{"id": id}
	return s.write(ctx, func(tx repo.CypherRunner) error {
		n, err := counts(ctx, tx, `MATCH (f:FAILURE {id: $id}) RETURN count(f) AS found`, params, "found")
		if err != nil {
			return err
		}
		if n[0] == 0 {
			return notFound(safety.LabelFailure, id)
		}
		return exec(ctx, tx, `MATCH (f:FAILURE {id: $id})`+cascadeFrom+`
			 DETACH DELETE t, r, c, f`, params)
	})
}

type existsChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
	Label() string
}

// empty distinguishes "owner has no children" from "owner does not exist"
// after a listing came back empty.
func empty[T any](ctx context.Context, owner existsChecker, id string) ([]T, error) {
	ok, err := owner.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(owner.Label(), id)
	}
	return []T{}, nil
}
