package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"datashare/internal/server/database"
)

func TestRecordCache(t *testing.T) {
	t.Run("disabled when size is zero", func(t *testing.T) {
		c := NewRecordCache(0, time.Minute)
		assert.Nil(t, c)

		c.Add(&database.FileRecord{Token: "abc"})
		_, ok := c.Get("abc")
		assert.False(t, ok)
		c.Remove("abc")
	})

	t.Run("add get remove", func(t *testing.T) {
		c := NewRecordCache(2, time.Minute)
		rec := &database.FileRecord{ID: 1, Token: "abc"}

		c.Add(rec)
		got, ok := c.Get("abc")
		assert.True(t, ok)
		assert.Same(t, rec, got)

		c.Remove("abc")
		_, ok = c.Get("abc")
		assert.False(t, ok)
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		c := NewRecordCache(2, time.Minute)
		c.Add(&database.FileRecord{Token: "a"})
		c.Add(&database.FileRecord{Token: "b"})
		c.Add(&database.FileRecord{Token: "c"})

		_, ok := c.Get("a")
		assert.False(t, ok)
		_, ok = c.Get("c")
		assert.True(t, ok)
	})
}
