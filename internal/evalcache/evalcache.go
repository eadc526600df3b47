// Package evalcache persists engine evaluations in BadgerDB so re-analysis
// of positions already searched at the same limits skips the engine call.
// Chess positions repeat heavily across a user's games, especially in the
// opening, so the hit rate pays for the disk footprint quickly.
package evalcache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/blunderlab/blunderlab/internal/engine"
)

// Entries older than this are dropped on badger's own GC schedule.
// Evaluations never go stale logically, but newer engine builds search
// better and a bounded TTL keeps the store from growing forever.
const entryTTL = 90 * 24 * time.Hour

// Cache wraps a badger database keyed by position and search limits.
type Cache struct {
	db  *badger.DB
	log *logrus.Entry
}

// Open opens (or creates) the cache at dir.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open eval cache at %s: %w", dir, err)
	}

	return &Cache{db: db, log: logrus.WithField("component", "evalcache")}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// key derives the cache key. FEN already encodes side to move, castling
// rights and en passant, so the tuple is a complete search identity.
func key(fen string, limit engine.Limit, multiPV int) []byte {
	return []byte(fmt.Sprintf("eval|%s|d%d|t%d|k%d", fen, limit.Depth, limit.MoveTime.Milliseconds(), multiPV))
}

// Get returns the cached lines for the position, or ok=false on a miss.
// Corrupt entries count as misses; the caller re-analyses and overwrites.
func (c *Cache) Get(fen string, limit engine.Limit, multiPV int) ([]engine.Line, bool) {
	var lines []engine.Line
	hit := false

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(fen, limit, multiPV))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &lines); err != nil {
				return nil
			}
			hit = len(lines) > 0
			return nil
		})
	})
	if err != nil {
		c.log.WithError(err).Warn("eval cache read failed")
		return nil, false
	}
	return lines, hit
}

// Put stores the lines for the position. Errors are logged and swallowed;
// a cache write failure must never fail an analysis.
func (c *Cache) Put(fen string, limit engine.Limit, multiPV int, lines []engine.Line) {
	data, err := json.Marshal(lines)
	if err != nil {
		c.log.WithError(err).Warn("eval cache encode failed")
		return
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key(fen, limit, multiPV), data).WithTTL(entryTTL)
		return txn.SetEntry(e)
	})
	if err != nil {
		c.log.WithError(err).Warn("eval cache write failed")
	}
}

// RunGC reclaims value-log space. Meant to be called periodically by the
// worker process; badger returns ErrNoRewrite when there is nothing to do.
func (c *Cache) RunGC() {
	for {
		if err := c.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}
