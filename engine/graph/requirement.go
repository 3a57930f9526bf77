package graph

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/pkg/repo"
)

// CreateRequirement stores a safety requirement and links it to the given
// failures. Unknown failure IDs abort the whole creation.
func (s *Store) CreateRequirement(ctx context.Context, r safety.Requirement) (safety.Requirement, error) {
	r.ID = s.ensureID(r.ID)
	if err := safety.ValidateRequirement(&r); err != nil {
		return safety.Requirement{}, err
	}
	r.CreatedAt = s.stamp()
	r.UpdatedAt = r.CreatedAt
	r.FailureIDs = uniqueSorted(r.FailureIDs)

	err := s.write(ctx, func(tx repo.CypherRunner) error {
		if err := claimID(ctx, tx, safety.LabelRequirement, r.ID); err != nil {
			return err
		}
		if err := exec(ctx, tx, `CREATE (n:SAFETY_REQUIREMENT $props)`,
			map[string]any{"props": requirementToMap(r)}); err != nil {
			return err
		}
		if len(r.FailureIDs) == 0 {
			return nil
		}
		n, err := counts(ctx, tx,
			`MATCH (n:SAFETY_REQUIREMENT {id: $id})
			 UNWIND $failures AS fid
			 MATCH (f:FAILURE {id: fid})
			 MERGE (n)-[:ADDRESSES]->(f)
			 RETURN count(f) AS linked`,
			map[string]any{"id": r.ID, "failures": r.FailureIDs}, "linked")
		if err != nil {
			return err
		}
		if int(n[0]) != len(r.FailureIDs) {
			return fmt.Errorf("link requirement %s: %d of %d failures: %w",
				r.ID, n[0], len(r.FailureIDs), repo.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return safety.Requirement{}, err
	}
	return r, nil
}

// GetRequirement returns a requirement with its linked failure IDs.
func (s *Store) GetRequirement(ctx context.Context, id string) (safety.Requirement, error) {
	return s.requirements.Get(ctx, id)
}

// ListRequirements lists a page of requirements, optionally only those
// addressing failureID.
func (s *Store) ListRequirements(ctx context.Context, failureID string, opts repo.ListOpts) ([]safety.Requirement, error) {
	if failureID == "" {
		return s.requirements.List(ctx, opts)
	}
	opts = opts.Normalize()
	items, err := query(ctx, s,
		`MATCH (n:SAFETY_REQUIREMENT)-[:ADDRESSES]->(:FAILURE {id: $failure})
		 WITH n ORDER BY n.name, n.id SKIP $offset LIMIT $limit
		 `+requirementReturn,
		map[string]any{"failure": failureID, "offset": int64(opts.Offset), "limit": int64(opts.Limit)},
		requirementFromProps)
	if err != nil || len(items) > 0 {
		return items, err
	}
	return empty[safety.Requirement](ctx, s.failures, failureID)
}

// UpdateRequirement replaces the requirement's attributes. Links are managed
// with LinkRequirement and UnlinkRequirement.
func (s *Store) UpdateRequirement(ctx context.Context, r safety.Requirement) (safety.Requirement, error) {
	if err := safety.ValidateRequirement(&r); err != nil {
		return safety.Requirement{}, err
	}
	r.CreatedAt = time.Time{}
	r.UpdatedAt = s.stamp()
	return s.requirements.Update(ctx, r)
}

// DeleteRequirement removes a requirement. The failures it addressed stay.
func (s *Store) DeleteRequirement(ctx context.Context, id string) error {
	return s.requirements.Delete(ctx, id)
}

// LinkRequirement records that a requirement addresses a failure. Linking
// twice is a no-op.
func (s *Store) LinkRequirement(ctx context.Context, requirementID, failureID string) error {
	var n []int64
	err := s.write(ctx, func(tx repo.CypherRunner) error {
		var err error
		n, err = counts(ctx, tx,
			`MATCH (n:SAFETY_REQUIREMENT {id: $id}), (f:FAILURE {id: $failure})
			 MERGE (n)-[:ADDRESSES]->(f)
			 RETURN count(*) AS linked`,
			map[string]any{"id": requirementID, "failure": failureID}, "linked")
		return err
	})
	if err != nil {
		return err
	}
	if n[0] == 0 {
		return fmt.Errorf("link %s -> %s: %w", requirementID, failureID, repo.ErrNotFound)
	}
	return nil
}

// UnlinkRequirement removes the ADDRESSES relationship.
func (s *Store) UnlinkRequirement(ctx context.Context, requirementID, failureID string) error {
	var n []int64
	err := s.write(ctx, func(tx repo.CypherRunner) error {
		var err error
		n, err = counts(ctx, tx,
			`MATCH (:SAFETY_REQUIREMENT {id: $id})-[a:ADDRESSES]->(:FAILURE {id: $failure})
			 DELETE a
			 RETURN count(*) AS unlinked`,
			map[string]any{"id": requirementID, "failure": failureID}, "unlinked")
		return err
	})
	if err != nil {
		return err
	}
	if n[0] == 0 {
		return fmt.Errorf("unlink %s -> %s: %w", requirementID, failureID, repo.ErrNotFound)
	}
	return nil
}

func uniqueSorted(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
