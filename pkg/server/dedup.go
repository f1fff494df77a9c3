package server

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pion/logging"
	"github.com/rs/xid"
)

// dedupCacheSize bounds how many distinct (kind, detail) diagnostic keys
// are tracked at once; older keys are evicted LRU-first.
const dedupCacheSize = 4096

// dedupEntry tags a suppressed run of repeated diagnostics with a
// correlation id so a single underlying condition (e.g. one misbehaving
// peer retrying a bad handshake) shows up as one logged event plus a
// running count, not a flood.
type dedupEntry struct {
	id    xid.ID
	count int
}

// diagnostics wraps the server's logger with duplicate suppression.
type diagnostics struct {
	log   logging.LeveledLogger
	cache *lru.Cache
}

func newDiagnostics(log logging.LeveledLogger) *diagnostics {
	cache, err := lru.New(dedupCacheSize)
	if err != nil {
		// lru.New only errors for a non-positive size.
		panic(err)
	}
	return &diagnostics{log: log, cache: cache}
}

// warn logs kind/detail once per distinct key while it stays in the LRU
// window; repeats only bump the suppressed entry's counter.
func (d *diagnostics) warn(kind, detail string) {
	key := kind + ":" + detail
	if v, ok := d.cache.Get(key); ok {
		v.(*dedupEntry).count++
		return
	}
	entry := &dedupEntry{id: xid.New(), count: 1}
	d.cache.Add(key, entry)
	d.log.Warnf("[%s] %s: %s", entry.id.String(), kind, detail)
}
