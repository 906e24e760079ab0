package matcher

import (
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultResolverCacheSize = 256

type resolution struct {
	schema string
	ok     bool
}

// Resolver memoizes MatchSchema over a fixed schema list. Binaries in one
// tree usually share a handful of extensions, so each extension scans the
// schema list once.
type Resolver struct {
	schemas []string
	cache   *lru.Cache[string, resolution]
}

func NewResolver(schemas []string, cacheSize int) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = defaultResolverCacheSize
	}
	cache, err := lru.New[string, resolution](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{schemas: slices.Clone(schemas), cache: cache}, nil
}

func (r *Resolver) Match(binaryPath string) (string, bool) {
	key := FoldName(BinaryExt(binaryPath))
	if cached, ok := r.cache.Get(key); ok {
		return cached.schema, cached.ok
	}
	schema, ok := MatchSchema(binaryPath, slices.Values(r.schemas))
	r.cache.Add(key, resolution{schema: schema, ok: ok})
	return schema, ok
}

func (r *Resolver) Len() int {
	return len(r.schemas)
}
