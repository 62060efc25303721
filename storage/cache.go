package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"task-api/domain"
)

// generationTTL keeps generation counters alive well past any in-flight read.
const generationTTL = time.Hour

const listGenerationKey = "gen:tasks"

var errStaleRead = errors.New("cache: generation moved during read")

// Cache wraps a Backend with Redis-backed caching for read operations.
// Every write bumps the generation of the written task and of all listings
// and evicts them; a read only fills the cache when the generation it saw
// before reaching the backend is still current.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Backend wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	created, err := c.base.Create(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, "")
	return created, nil
}

func (c *Cache) Find(ctx context.Context, q domain.ListQuery) ([]domain.Task, error) {
	key := listCacheKey(q)
	var tasks []domain.Task
	if c.load(ctx, key, &tasks) {
		return tasks, nil
	}

	gen, ok := c.generation(ctx, listGenerationKey)
	tasks, err := c.base.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if ok {
		c.store(ctx, key, listGenerationKey, gen, tasks)
	}
	return tasks, nil
}

func (c *Cache) FindByID(ctx context.Context, id string) (*domain.Task, error) {
	key := taskCacheKey(id)
	var t domain.Task
	if c.load(ctx, key, &t) {
		return &t, nil
	}

	genKey := taskGenerationKey(id)
	gen, ok := c.generation(ctx, genKey)
	found, err := c.base.FindByID(ctx, id)
	if err != nil || found == nil {
		return found, err
	}
	if ok {
		c.store(ctx, key, genKey, gen, found)
	}
	return found, nil
}

func (c *Cache) FindByIDAndUpdate(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	updated, err := c.base.FindByIDAndUpdate(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		c.evict(ctx, id)
	}
	return updated, nil
}

func (c *Cache) FindByIDAndDelete(ctx context.Context, id string) (*domain.Task, error) {
	deleted, err := c.base.FindByIDAndDelete(ctx, id)
	if err != nil {
		return nil, err
	}
	if deleted != nil {
		c.evict(ctx, id)
	}
	return deleted, nil
}

// Ping checks both Redis and the wrapped backend.
func (c *Cache) Ping(ctx context.Context) error {
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return ping(ctx, c.base)
}

func (c *Cache) load(ctx context.Context, key string, out any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

// generation reads the write counter guarding a cached value. Unset counters
// read as zero; ok is false when Redis is unavailable.
func (c *Cache) generation(ctx context.Context, genKey string) (gen int64, ok bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, genKey).Int64()
	if err != nil && err != redis.Nil {
		return 0, false
	}
	return gen, true
}

// store caches v under key unless genKey moved past gen since the read began.
// The check and the SET run in one WATCH transaction.
func (c *Cache) store(ctx context.Context, key, genKey string, gen int64, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleRead
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

// evict bumps the listing generation and drops every cached listing. When id
// is set it does the same for that task.
func (c *Cache) evict(ctx context.Context, id string) {
	if c.redis == nil {
		return
	}
	gens := []string{listGenerationKey}
	keys := listCacheKeys()
	if id != "" {
		gens = append(gens, taskGenerationKey(id))
		keys = append(keys, taskCacheKey(id))
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, g := range gens {
			pipe.Incr(ctx, g)
			pipe.Expire(ctx, g, generationTTL)
		}
		pipe.Del(ctx, keys...)
		return nil
	})
}

func taskCacheKey(id string) string {
	return "task:" + id
}

func taskGenerationKey(id string) string {
	return "gen:task:" + id
}

func listCacheKey(q domain.ListQuery) string {
	return "tasks:" + string(q.Status) + ":" + q.Sort.String()
}

// listCacheKeys enumerates every key listCacheKey can produce.
func listCacheKeys() []string {
	statuses := append([]domain.Status{""}, domain.Statuses...)
	sorts := []domain.Sort{{}}
	for _, f := range []domain.SortField{domain.SortCreatedAt, domain.SortDueDate, domain.SortTitle} {
		sorts = append(sorts, domain.Sort{Field: f}, domain.Sort{Field: f, Desc: true})
	}
	keys := make([]string, 0, len(statuses)*len(sorts))
	for _, s := range statuses {
		for _, o := range sorts {
			keys = append(keys, listCacheKey(domain.ListQuery{Status: s, Sort: o}))
		}
	}
	return keys
}
