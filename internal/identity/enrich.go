// Package identity resolves an opaque user id to a best-effort display
// label, per spec.md §4.8.
package identity

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wscache/wscache/internal/cache"
)

const labelCacheSize = 2048

// userRepository is the subset of *cache.UserRepository Enricher needs,
// narrowed to keep this package independent of the rest of internal/cache.
type userRepository interface {
	Get(ctx context.Context, id string) (*cache.User, bool, error)
}

// Enricher resolves ids to labels, caching hits so repeated mentions of
// the same id in one render pass don't re-hit storage. A cache miss is
// never itself an error — it degrades to the id, per spec.md §4.8's
// "never fails".
type Enricher struct {
	users userRepository
	cache *lru.Cache[string, string]
}

// NewEnricher builds an Enricher backed by users.
func NewEnricher(users userRepository) *Enricher {
	c, _ := lru.New[string, string](labelCacheSize)
	return &Enricher{users: users, cache: c}
}

// Label resolves id to a display label: display_name if non-empty, else
// real_name, else name, else the id itself. Labels may be stale relative
// to the remote if the cache is between refreshes — acceptable by design
// per spec.md §5.
func (e *Enricher) Label(ctx context.Context, id string) string {
	if label, ok := e.cache.Get(id); ok {
		return label
	}

	label := id
	if u, found, err := e.users.Get(ctx, id); err == nil && found {
		switch {
		case u.DisplayName != "":
			label = u.DisplayName
		case u.RealName != "":
			label = u.RealName
		case u.Name != "":
			label = u.Name
		}
	}

	e.cache.Add(id, label)
	return label
}

// Invalidate drops a single id from the label cache, for callers that
// know a fresher record just landed (e.g. right after a refresh swap).
func (e *Enricher) Invalidate(id string) {
	e.cache.Remove(id)
}

// InvalidateAll clears the entire label cache, for callers that know a
// full refresh just replaced every row of the underlying snapshot.
func (e *Enricher) InvalidateAll() {
	e.cache.Purge()
}
