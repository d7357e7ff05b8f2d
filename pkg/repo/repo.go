// Package repo defines a keyed repository interface and its Neo4j backing.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no entity has the requested key.
var ErrNotFound = errors.New("repo: not found")

// Repository stores entities addressed by a unique key. Put creates or
// replaces.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Put(ctx context.Context, entity T) error
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination for List.
type ListOpts struct {
	Offset int
	Limit  int
}
