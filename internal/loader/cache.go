package loader

// idCache maps dimension natural keys to their internal ids for the lifetime
// of one Loader. Entries are only ever added, never invalidated; internal ids
// are stable once assigned.
type idCache struct {
	sources      map[string]int64
	affiliations map[string]int64
	authors      map[string]int64
	subjects     map[string]int64
	keywords     map[string]int64
}

func newIDCache() *idCache {
	return &idCache{
		sources:      make(map[string]int64),
		affiliations: make(map[string]int64),
		authors:      make(map[string]int64),
		subjects:     make(map[string]int64),
		keywords:     make(map[string]int64),
	}
}
