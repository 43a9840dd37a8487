package domain

import "context"

// SetStore provides atomic operations on named sets of strings.
// A set with no members does not exist.
type SetStore interface {
	Add(ctx context.Context, key string, members ...string) error
	Remove(ctx context.Context, key string, members ...string) error
	Members(ctx context.Context, key string) ([]string, error)
	IsMember(ctx context.Context, key, member string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}
