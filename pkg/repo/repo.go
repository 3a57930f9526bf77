// Package repo defines the generic Repository interface, list options and the
// Neo4j session seam shared by the graph stores.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned (wrapped) when a node with the requested ID does not exist.
var ErrNotFound = errors.New("not found")

// Repository is a generic CRUD interface.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Create(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination for List operations.
type ListOpts struct {
	Offset int
	Limit  int
}

// DefaultLimit is used when ListOpts.Limit is not positive.
const DefaultLimit = 100

// Normalize clamps offset and limit into a usable range.
func (o ListOpts) Normalize() ListOpts {
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	return o
}
