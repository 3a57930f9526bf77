// Package graph stores the FMEA model (elements, failures, causations, risk
// ratings, safety tasks and safety requirements) in Neo4j.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/WessleyAI/safety-workbench/engine/safety"
	"github.com/WessleyAI/safety-workbench/pkg/repo"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Store provides FMEA operations on top of the generic Neo4j repository.
type Store struct {
	opener repo.SessionOpener
	now    func() time.Time
	newID  func() string

	elements     *repo.Neo4jRepo[safety.Element, string]
	failures     *repo.Neo4jRepo[safety.Failure, string]
	causations   *repo.Neo4jRepo[safety.Causation, string]
	ratings      *repo.Neo4jRepo[safety.RiskRating, string]
	tasks        *repo.Neo4jRepo[safety.Task, string]
	requirements *repo.Neo4jRepo[safety.Requirement, string]
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides the ID generator (UUIDv4 by default).
func WithIDs(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// New creates a Store on a Neo4j driver. An empty database selects the server
// default.
func New(driver neo4j.DriverWithContext, database string, opts ...Option) *Store {
	return NewWithOpener(repo.NewDriverOpener(driver, database), opts...)
}

// NewWithOpener creates a Store on any session opener.
func NewWithOpener(opener repo.SessionOpener, opts ...Option) *Store {
	s := &Store{
		opener:       opener,
		now:          time.Now,
		newID:        uuid.NewString,
		elements:     newElementRepo(opener),
		failures:     newFailureRepo(opener),
		causations:   newCausationRepo(opener),
		ratings:      newRatingRepo(opener),
		tasks:        newTaskRepo(opener),
		requirements: newRequirementRepo(opener),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Opener exposes the session opener for callers that need raw access, such
// as whole-graph export.
func (s *Store) Opener() repo.SessionOpener { return s.opener }

func (s *Store) stamp() time.Time { return s.now().UTC() }

func (s *Store) ensureID(id string) string {
	if id != "" {
		return id
	}
	return s.newID()
}

// idLabels are the labels whose id property must be unique.
var idLabels = []string{
	safety.LabelElement,
	safety.LabelFailure,
	safety.LabelCausation,
	safety.LabelRiskRating,
	safety.LabelTask,
	safety.LabelRequirement,
}

// EnsureSchema creates a uniqueness constraint on id for every FMEA label.
// Existing constraints are left alone.
func (s *Store) EnsureSchema(ctx context.Context) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	for _, label := range idLabels {
		cypher := fmt.Sprintf("CREATE CONSTRAINT %s_id IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE",
			strings.ToLower(label), label)
		if err := exec(ctx, sess, cypher, nil); err != nil {
			return fmt.Errorf("constraint %s: %w", label, err)
		}
	}
	return nil
}

// claimID fails with ErrConflict when a node of label already has id. It runs
// inside the creating transaction.
func claimID(ctx context.Context, tx repo.CypherRunner, label, id string) error {
	n, err := counts(ctx, tx,
		fmt.Sprintf("MATCH (n:%s {id: $id}) RETURN count(n) AS taken", label),
		map[string]any{"id": id}, "taken")
	if err != nil {
		return err
	}
	if n[0] > 0 {
		return fmt.Errorf("%s %s: id already in use: %w", label, id, safety.ErrConflict)
	}
	return nil
}

// create claims id for label and runs cypher, which must return the new node
// as n, in one write transaction. No row means the owner ownerLabel/ownerID
// does not exist.
func create[T any](ctx context.Context, s *Store, label, id, cypher string, params map[string]any,
	from func(map[string]any) T, ownerLabel, ownerID string) (T, error) {
	var created T
	err := s.write(ctx, func(tx repo.CypherRunner) error {
		if err := claimID(ctx, tx, label, id); err != nil {
			return err
		}
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return err
		}
		items, err := repo.CollectNodes(ctx, result, "n", from)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			if ownerLabel == "" {
				return fmt.Errorf("create %s: no row returned", label)
			}
			return notFound(ownerLabel, ownerID)
		}
		created = items[0]
		return nil
	})
	return created, err
}

// constraintCode is reported when a write breaks a uniqueness constraint.
const constraintCode = "Neo.ClientError.Schema.ConstraintValidationFailed"

// conflictOf maps a uniqueness violation to ErrConflict.
func conflictOf(err error) error {
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) && nerr.Code == constraintCode {
		return fmt.Errorf("%w: %s", safety.ErrConflict, nerr.Msg)
	}
	return err
}

// query runs a single statement outside a transaction and decodes column n.
func query[T any](ctx context.Context, s *Store, cypher string, params map[string]any, from func(map[string]any) T) ([]T, error) {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return repo.CollectNodes(ctx, result, "n", from)
}

// write runs work in a single managed write transaction.
func (s *Store) write(ctx context.Context, work func(tx repo.CypherRunner) error) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx repo.CypherRunner) (any, error) {
		return nil, work(tx)
	})
	return conflictOf(err)
}

// counts runs cypher and returns the integer columns of its first row.
func counts(ctx context.Context, tx repo.CypherRunner, cypher string, params map[string]any, keys ...string) ([]int64, error) {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(keys))
	if !result.Next(ctx) {
		return out, result.Err()
	}
	rec := result.Record()
	for i, k := range keys {
		v, _ := rec.Get(k)
		out[i] = repo.Int(v)
	}
	return out, nil
}

// exec runs a statement and discards the result.
func exec(ctx context.Context, tx repo.CypherRunner, cypher string, params map[string]any) error {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	for result.Next(ctx) {
	}
	return result.Err()
}

func notFound(label, id string) error {
	return fmt.Errorf("%s %s: %w", label, id, repo.ErrNotFound)
}
