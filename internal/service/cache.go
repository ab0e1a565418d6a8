// cache.go — LRU-кэш метаданных с TTL для ускорения повторных чтений.
// Кэшируются только ACTIVE записи; любая мутация инвалидирует ключ.
package service

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

// MetadataCache — кэш записей метаданных, ключ — externalID.
type MetadataCache struct {
	cache *lru.LRU[string, model.FileRecord]
}

// NewMetadataCache создаёт кэш указанного размера с TTL записей.
func NewMetadataCache(size int, ttl time.Duration) *MetadataCache {
	return &MetadataCache{
		cache: lru.NewLRU[string, model.FileRecord](size, nil, ttl),
	}
}

// Get возвращает запись по externalID. Обновляет метрики hit/miss.
func (c *MetadataCache) Get(externalID string) (model.FileRecord, bool) {
	rec, ok := c.cache.Get(externalID)
	if ok {
		middleware.CacheHits.Inc()
	} else {
		middleware.CacheMisses.Inc()
	}
	return rec, ok
}

// Put сохраняет запись в кэш. Кэшируются только ACTIVE записи.
func (c *MetadataCache) Put(rec model.FileRecord) {
	if !rec.IsActive() {
		return
	}
	c.cache.Add(rec.ExternalID, rec)
}

// Invalidate удаляет запись из кэша.
func (c *MetadataCache) Invalidate(externalID string) {
	c.cache.Remove(externalID)
}

// Len возвращает текущее количество записей в кэше.
func (c *MetadataCache) Len() int {
	return c.cache.Len()
}
