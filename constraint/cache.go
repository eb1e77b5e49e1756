package constraint

import "context"

// CacheClient is the minimal key-value/pub-sub surface the engine needs
// from the hot-path cache. Any store offering these operations is
// substitutable; the engine never assumes anything beyond them.
//
// The cache holds a denormalized, eventually-consistent projection of the
// active constraint set; it is never the authoritative copy.
type CacheClient interface {
	// Set stores a string value under key.
	Set(ctx context.Context, key, value string) error

	// Get reads a key. The second return is false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Keys lists the keys under a prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// DeleteByPrefix removes every key (and set) under a namespace prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// AddToSet adds members to the set stored at key.
	AddToSet(ctx context.Context, key string, members ...string) error

	// SetMembers lists the members of the set stored at key. Absent sets
	// read as empty.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Publish sends a message on a channel. Delivery is fire-and-forget.
	Publish(ctx context.Context, channel, message string) error
}
