package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"task-api/domain"
)

type stubBackend struct {
	createFn func(ctx context.Context, t domain.Task) (domain.Task, error)
	findFn   func(ctx context.Context, q domain.ListQuery) ([]domain.Task, error)
	getFn    func(ctx context.Context, id string) (*domain.Task, error)
	updateFn func(ctx context.Context, id string, p domain.TaskPatch) (*domain.Task, error)
	deleteFn func(ctx context.Context, id string) (*domain.Task, error)
}

func (s *stubBackend) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	if s.createFn == nil {
		return domain.Task{}, errors.New("unexpected Create call")
	}
	return s.createFn(ctx, t)
}

func (s *stubBackend) Find(ctx context.Context, q domain.ListQuery) ([]domain.Task, error) {
	if s.findFn == nil {
		return nil, errors.New("unexpected Find call")
	}
	return s.findFn(ctx, q)
}

func (s *stubBackend) FindByID(ctx context.Context, id string) (*domain.Task, error) {
	if s.getFn == nil {
		return nil, errors.New("unexpected FindByID call")
	}
	return s.getFn(ctx, id)
}

func (s *stubBackend) FindByIDAndUpdate(ctx context.Context, id string, p domain.TaskPatch) (*domain.Task, error) {
	if s.updateFn == nil {
		return nil, errors.New("unexpected FindByIDAndUpdate call")
	}
	return s.updateFn(ctx, id, p)
}

func (s *stubBackend) FindByIDAndDelete(ctx context.Context, id string) (*domain.Task, error) {
	if s.deleteFn == nil {
		return nil, errors.New("unexpected FindByIDAndDelete call")
	}
	return s.deleteFn(ctx, id)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheFindMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	query := domain.ListQuery{Status: domain.StatusPending, Sort: domain.Sort{Field: domain.SortDueDate, Desc: true}}
	expected := []domain.Task{{ID: "t1", Title: "Write code", Status: domain.StatusPending}}

	var calls int
	cache := NewCache(&stubBackend{
		findFn: func(ctx context.Context, q domain.ListQuery) ([]domain.Task, error) {
			calls++
			if q != query {
				t.Fatalf("unexpected query: %+v", q)
			}
			return append([]domain.Task(nil), expected...), nil
		},
	}, client, time.Minute)

	tasks, err := cache.Find(ctx, query)
	if err != nil {
		t.Fatalf("find tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if ttl := mr.TTL(listCacheKey(query)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.Find(ctx, query)
	if err != nil {
		t.Fatalf("find cached tasks: %v", err)
	}
	if len(cached) != 1 || cached[0].Title != "Write code" {
		t.Fatalf("unexpected cached tasks: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheFindByIDDoesNotCacheMissing(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	var calls int
	cache := NewCache(&stubBackend{
		getFn: func(ctx context.Context, id string) (*domain.Task, error) {
			calls++
			return nil, nil
		},
	}, client, time.Minute)

	for i := 0; i < 2; i++ {
		got, err := cache.FindByID(ctx, "abc")
		if err != nil || got != nil {
			t.Fatalf("expected nil task, got %+v %v", got, err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected both lookups to reach the backend, calls=%d", calls)
	}
	if mr.Exists(taskCacheKey("abc")) {
		t.Fatal("missing task must not be cached")
	}
}

func TestCacheWritesEvict(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	task := domain.Task{ID: "t1", Title: "Write code", Status: domain.StatusPending}

	var gets int
	cache := NewCache(&stubBackend{
		getFn: func(ctx context.Context, id string) (*domain.Task, error) {
			gets++
			cp := task
			return &cp, nil
		},
		findFn: func(ctx context.Context, q domain.ListQuery) ([]domain.Task, error) {
			return []domain.Task{task}, nil
		},
		updateFn: func(ctx context.Context, id string, p domain.TaskPatch) (*domain.Task, error) {
			p.Apply(&task)
			cp := task
			return &cp, nil
		},
		createFn: func(ctx context.Context, t domain.Task) (domain.Task, error) {
			t.ID = "t2"
			return t, nil
		},
	}, client, time.Minute)

	if _, err := cache.FindByID(ctx, "t1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := cache.Find(ctx, domain.ListQuery{}); err != nil {
		t.Fatalf("find: %v", err)
	}
	if !mr.Exists(taskCacheKey("t1")) || !mr.Exists(listCacheKey(domain.ListQuery{})) {
		t.Fatal("expected task and listing to be cached")
	}

	title := "Renamed"
	if _, err := cache.FindByIDAndUpdate(ctx, "t1", domain.TaskPatch{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if mr.Exists(taskCacheKey("t1")) || mr.Exists(listCacheKey(domain.ListQuery{})) {
		t.Fatal("expected update to evict task and listing")
	}

	got, err := cache.FindByID(ctx, "t1")
	if err != nil || got.Title != "Renamed" {
		t.Fatalf("expected fresh task after eviction, got %+v %v", got, err)
	}
	if gets != 2 {
		t.Fatalf("expected second get to reach backend, gets=%d", gets)
	}

	if _, err := cache.Find(ctx, domain.ListQuery{}); err != nil {
		t.Fatalf("find: %v", err)
	}
	if _, err := cache.Create(ctx, domain.Task{Title: "another"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if mr.Exists(listCacheKey(domain.ListQuery{})) {
		t.Fatal("expected create to evict listings")
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	if err := mr.Set(taskCacheKey("t1"), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cache := NewCache(&stubBackend{
		getFn: func(ctx context.Context, id string) (*domain.Task, error) {
			return &domain.Task{ID: id, Title: "from backend"}, nil
		},
	}, client, time.Minute)

	got, err := cache.FindByID(ctx, "t1")
	if err != nil || got.Title != "from backend" {
		t.Fatalf("expected backend fallback, got %+v %v", got, err)
	}
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	var calls int
	cache := NewCache(&stubBackend{
		findFn: func(ctx context.Context, q domain.ListQuery) ([]domain.Task, error) {
			calls++
			return nil, nil
		},
	}, nil, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.Find(context.Background(), domain.ListQuery{}); err != nil {
			t.Fatalf("find: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected every call to reach backend, calls=%d", calls)
	}
}

func TestListCacheKeysCoverEveryQuery(t *testing.T) {
	keys := listCacheKeys()
	if len(keys) != 4*7 {
		t.Fatalf("expected 28 keys, got %d", len(keys))
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	q := domain.ListQuery{Status: domain.StatusCompleted, Sort: domain.Sort{Field: domain.SortTitle, Desc: true}}
	if !seen[listCacheKey(q)] {
		t.Fatalf("missing key %q", listCacheKey(q))
	}
}

// blockingRead parks the first backend read after it has taken its snapshot
// until release is closed.
type blockingRead struct {
	mu      sync.Mutex
	blocked bool
	read    chan struct{}
	release chan struct{}
}

func newBlockingRead() *blockingRead {
	return &blockingRead{read: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingRead) wait() {
	b.mu.Lock()
	first := !b.blocked
	b.blocked = true
	b.mu.Unlock()
	if first {
		close(b.read)
		<-b.release
	}
}

func TestCacheDropsReadThatRacedAnUpdate(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	var mu sync.Mutex
	stored := domain.Task{ID: "t1", Title: "old title", Status: domain.StatusPending}
	block := newBlockingRead()
	cache := NewCache(&stubBackend{
		getFn: func(ctx context.Context, id string) (*domain.Task, error) {
			mu.Lock()
			cp := stored
			mu.Unlock()
			block.wait()
			return &cp, nil
		},
		updateFn: func(ctx context.Context, id string, p domain.TaskPatch) (*domain.Task, error) {
			mu.Lock()
			defer mu.Unlock()
			p.Apply(&stored)
			cp := stored
			return &cp, nil
		},
	}, client, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := cache.FindByID(ctx, "t1")
		done <- err
	}()
	<-block.read

	title := "new title"
	if _, err := cache.FindByIDAndUpdate(ctx, "t1", domain.TaskPatch{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}
	close(block.release)
	if err := <-done; err != nil {
		t.Fatalf("racing get: %v", err)
	}

	if mr.Exists(taskCacheKey("t1")) {
		t.Fatal("read that started before the update must not be cached")
	}
	got, err := cache.FindByID(ctx, "t1")
	if err != nil || got.Title != "new title" {
		t.Fatalf("expected updated task, got %+v %v", got, err)
	}
	if !mr.Exists(taskCacheKey("t1")) {
		t.Fatal("expected fresh read to be cached")
	}
}

func TestCacheDropsReadThatRacedADelete(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		deleted bool
	)
	task := domain.Task{ID: "t1", Title: "Write code", Status: domain.StatusPending}
	block := newBlockingRead()
	cache := NewCache(&stubBackend{
		getFn: func(ctx context.Context, id string) (*domain.Task, error) {
			mu.Lock()
			gone := deleted
			mu.Unlock()
			block.wait()
			if gone {
				return nil, nil
			}
			cp := task
			return &cp, nil
		},
		deleteFn: func(ctx context.Context, id string) (*domain.Task, error) {
			mu.Lock()
			defer mu.Unlock()
			deleted = true
			cp := task
			return &cp, nil
		},
	}, client, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := cache.FindByID(ctx, "t1")
		done <- err
	}()
	<-block.read

	if _, err := cache.FindByIDAndDelete(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	close(block.release)
	if err := <-done; err != nil {
		t.Fatalf("racing get: %v", err)
	}

	if mr.Exists(taskCacheKey("t1")) {
		t.Fatal("deleted task must not be cached")
	}
	got, err := cache.FindByID(ctx, "t1")
	if err != nil || got != nil {
		t.Fatalf("expected deleted task to be absent, got %+v %v", got, err)
	}
}

func TestCacheDropsListingThatRacedACreate(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		tasks = []domain.Task{{ID: "t1", Title: "Write code"}}
	)
	block := newBlockingRead()
	cache := NewCache(&stubBackend{
		findFn: func(ctx context.Context, q domain.ListQuery) ([]domain.Task, error) {
			mu.Lock()
			out := append([]domain.Task(nil), tasks...)
			mu.Unlock()
			block.wait()
			return out, nil
		},
		createFn: func(ctx context.Context, t domain.Task) (domain.Task, error) {
			mu.Lock()
			defer mu.Unlock()
			t.ID = "t2"
			tasks = append(tasks, t)
			return t, nil
		},
	}, client, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := cache.Find(ctx, domain.ListQuery{})
		done <- err
	}()
	<-block.read

	if _, err := cache.Create(ctx, domain.Task{Title: "Review code"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	close(block.release)
	if err := <-done; err != nil {
		t.Fatalf("racing find: %v", err)
	}

	if mr.Exists(listCacheKey(domain.ListQuery{})) {
		t.Fatal("listing read before the create must not be cached")
	}
	got, err := cache.Find(ctx, domain.ListQuery{})
	if err != nil || len(got) != 2 {
		t.Fatalf("expected both tasks, got %+v %v", got, err)
	}
}

func TestCacheWritesBumpGenerations(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	cache := NewCache(&stubBackend{
		updateFn: func(ctx context.Context, id string, p domain.TaskPatch) (*domain.Task, error) {
			return &domain.Task{ID: id}, nil
		},
	}, client, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.FindByIDAndUpdate(ctx, "t1", domain.TaskPatch{}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	for _, key := range []string{listGenerationKey, taskGenerationKey("t1")} {
		v, err := mr.Get(key)
		if err != nil || v != "2" {
			t.Fatalf("expected %s=2, got %q %v", key, v, err)
		}
		if ttl := mr.TTL(key); ttl <= 0 || ttl > generationTTL {
			t.Fatalf("unexpected TTL on %s: %v", key, ttl)
		}
	}
}
