package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"datashare/internal/server/database"
)

// RecordCache keeps recently resolved records by share token. Each server
// instance has its own cache, so a hit only saves loading the record and
// its tags: the engine still confirms the row exists before using it.
type RecordCache struct {
	lru *expirable.LRU[string, *database.FileRecord]
}

// NewRecordCache returns nil when size is not positive, which disables
// caching. A nil *RecordCache is safe to use.
func NewRecordCache(size int, ttl time.Duration) *RecordCache {
	if size <= 0 {
		return nil
	}
	return &RecordCache{lru: expirable.NewLRU[string, *database.FileRecord](size, nil, ttl)}
}

func (c *RecordCache) Get(token string) (*database.FileRecord, bool) {
	if c == nil {
		return nil, false
	}
	rec, ok := c.lru.Get(token)
	if ok {
		cacheHitsTotal.Inc()
		return rec, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

func (c *RecordCache) Add(rec *database.FileRecord) {
	if c == nil {
		return
	}
	c.lru.Add(rec.Token, rec)
}

func (c *RecordCache) Remove(token string) {
	if c == nil {
		return
	}
	c.lru.Remove(token)
}
