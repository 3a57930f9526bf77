package repo

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jRepo is a generic Neo4j-backed repository for nodes of a single label.
type Neo4jRepo[T any, ID comparable] struct {
	opener    SessionOpener
	label     string
	idKey     string
	ret       string
	toMap     func(T) map[string]any
	fromProps func(map[string]any) T
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithIDKey sets the property name used as the ID (default "id").
func WithIDKey[T any, ID comparable](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = key }
}

// WithReturn replaces the default "RETURN n" tail of Get, List and Update.
// The clause must return the node as n; any other columns are merged into
// the properties handed to fromProps. Clauses that read further must start
// with "WITH n".
func WithReturn[T any, ID comparable](clause string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.ret = clause }
}

// NewNeo4jRepo creates a new Neo4j-backed repository. label must be a trusted
// identifier; it is interpolated into Cypher.
func NewNeo4jRepo[T any, ID comparable](
	opener SessionOpener,
	label string,
	toMap func(T) map[string]any,
	fromProps func(map[string]any) T,
	opts ...Neo4jOption[T, ID],
) *Neo4jRepo[T, ID] {
	r := &Neo4jRepo[T, ID]{
		opener:    opener,
		label:     label,
		idKey:     "id",
		ret:       "RETURN n",
		toMap:     toMap,
		fromProps: fromProps,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Compile-time interface check.
var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

// Label returns the node label managed by the repository.
func (r *Neo4jRepo[T, ID]) Label() string { return r.label }

func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) %s", r.label, r.idKey, r.ret)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return zero, err
	}
	return r.single(ctx, result, id)
}

func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	opts = opts.Normalize()
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s) WITH n ORDER BY n.name, n.%s SKIP $offset LIMIT $limit %s", r.label, r.idKey, r.ret)
	result, err := sess.Run(ctx, cypher, map[string]any{
		"offset": int64(opts.Offset),
		"limit":  int64(opts.Limit),
	})
	if err != nil {
		return nil, err
	}
	return CollectNodes(ctx, result, "n", r.fromProps)
}

func (r *Neo4jRepo[T, ID]) Create(ctx context.Context, entity T) (T, error) {
	var zero T
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("CREATE (n:%s $props) RETURN n", r.label)
	result, err := sess.Run(ctx, cypher, map[string]any{"props": r.toMap(entity)})
	if err != nil {
		return zero, err
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("create %s: no row returned", r.label)
	}
	return r.decode(result.Record())
}

// Update merges the entity's properties into the existing node. Properties
// absent from toMap's output are left untouched.
func (r *Neo4jRepo[T, ID]) Update(ctx context.Context, entity T) (T, error) {
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	props := r.toMap(entity)
	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) SET n += $props %s", r.label, r.idKey, r.ret)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": props[r.idKey], "props": props})
	if err != nil {
		var zero T
		return zero, err
	}
	return r.single(ctx, result, props[r.idKey])
}

// Delete detaches and removes the node. Missing nodes yield ErrNotFound.
func (r *Neo4jRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) DETACH DELETE n RETURN count(*) AS deleted", r.label, r.idKey)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return err
	}
	n, err := SingleCount(ctx, result, "deleted")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	return nil
}

// Exists reports whether a node with the given ID exists.
func (r *Neo4jRepo[T, ID]) Exists(ctx context.Context, id ID) (bool, error) {
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN count(n) AS total", r.label, r.idKey)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	n, err := SingleCount(ctx, result, "total")
	return n > 0, err
}

func (r *Neo4jRepo[T, ID]) single(ctx context.Context, result CypherResult, id any) (T, error) {
	var zero T
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	return r.decode(result.Record())
}

func (r *Neo4jRepo[T, ID]) decode(rec *neo4j.Record) (T, error) {
	var zero T
	props, ok := RowProps(rec, "n")
	if !ok {
		return zero, fmt.Errorf("%s: record has no node column", r.label)
	}
	return r.fromProps(props), nil
}
