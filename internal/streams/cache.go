package streams

import (
	"container/list"
	"context"
	"sync"

	"github.com/couchcryptid/streams-data-service/internal/domain"
	"github.com/couchcryptid/streams-data-service/internal/observability"
)

// schemaCache remembers time column types across requests. Column types
// depend only on the stored files, not on who reads them.
type schemaCache struct {
	maxEntries int
	metrics    *observability.Metrics

	mu      sync.Mutex
	order   *list.List // front is most recently used
	entries map[string]*list.Element
}

type schemaEntry struct {
	key string
	typ domain.ColumnType
}

// newSchemaCache returns nil when maxEntries is not positive; a nil cache
// always inspects.
func newSchemaCache(maxEntries int, metrics *observability.Metrics) *schemaCache {
	if maxEntries <= 0 {
		return nil
	}
	return &schemaCache{
		maxEntries: maxEntries,
		metrics:    metrics,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

// columnType returns the cached type or inspects src. Only successful
// inspections are cached so a transient storage error is retried by the next
// request.
func (c *schemaCache) columnType(ctx context.Context, src DatasetSource, path, column string) (domain.ColumnType, error) {
	if c == nil {
		return src.ColumnType(ctx, path, column)
	}

	key := path + "|" + column
	if typ, ok := c.get(key); ok {
		c.metrics.SchemaCache.WithLabelValues("hit").Inc()
		return typ, nil
	}
	c.metrics.SchemaCache.WithLabelValues("miss").Inc()

	typ, err := src.ColumnType(ctx, path, column)
	if err != nil {
		return typ, err
	}
	c.put(key, typ)
	return typ, nil
}

func (c *schemaCache) get(key string) (domain.ColumnType, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return domain.ColumnOther, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*schemaEntry).typ, true
}

func (c *schemaCache) put(key string, typ domain.ColumnType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*schemaEntry).typ = typ
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&schemaEntry{key: key, typ: typ})
	if c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*schemaEntry).key)
	}
}

func (c *schemaCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
