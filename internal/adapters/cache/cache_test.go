package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mikey/mail-classifier/internal/core"
)

type stoppable interface {
	core.CacheRepository
	Stop()
}

func repositories(t *testing.T) map[string]stoppable {
	t.Helper()
	sqlite, err := NewSQLiteCache(":memory:", 0, nil)
	if err != nil {
		t.Fatalf("failed to open sqlite cache: %v", err)
	}
	repos := map[string]stoppable{
		"memory": NewMemoryCache(100, 0, nil),
		"sqlite": sqlite,
	}
	for _, r := range repos {
		t.Cleanup(r.Stop)
	}
	return repos
}

func TestCacheContract(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
			}

			live := &core.CacheEntry{Key: "trust:chase.com", Value: []byte(`{"mx":true}`), ExpiresAt: time.Now().Add(time.Hour)}
			if err := repo.Set(ctx, live); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := repo.Get(ctx, live.Key)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got.Value) != `{"mx":true}` {
				t.Errorf("Value = %q", got.Value)
			}
			if got.ExpiresAt.Sub(live.ExpiresAt).Abs() > time.Second {
				t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, live.ExpiresAt)
			}

			live.Value = []byte(`{"mx":false}`)
			if err := repo.Set(ctx, live); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			got, _ = repo.Get(ctx, live.Key)
			if got == nil || string(got.Value) != `{"mx":false}` {
				t.Errorf("overwrite not visible: %+v", got)
			}

			stale := &core.CacheEntry{Key: "stale", Value: []byte("x"), ExpiresAt: time.Now().Add(-time.Minute)}
			if err := repo.Set(ctx, stale); err != nil {
				t.Fatalf("Set stale: %v", err)
			}
			if _, err := repo.Get(ctx, "stale"); !errors.Is(err, ErrExpired) {
				t.Errorf("Get(stale) error = %v, want ErrExpired", err)
			}
			if err := repo.Cleanup(ctx); err != nil {
				t.Fatalf("Cleanup: %v", err)
			}
			if _, err := repo.Get(ctx, "stale"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(stale) after cleanup error = %v, want ErrNotFound", err)
			}

			if err := repo.Delete(ctx, live.Key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := repo.Get(ctx, live.Key); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestMemoryCacheCapacity(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(3, 0, nil)
	defer c.Stop()

	base := time.Now().Add(time.Hour)
	for i := 0; i < 3; i++ {
		e := &core.CacheEntry{Key: fmt.Sprintf("k%d", i), Value: []byte("v"), ExpiresAt: base.Add(time.Duration(i) * time.Minute)}
		if err := c.Set(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Set(ctx, &core.CacheEntry{Key: "k3", Value: []byte("v"), ExpiresAt: base.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
	if _, err := c.Get(ctx, "k0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("soonest-to-expire entry was not evicted")
	}
	for _, k := range []string{"k1", "k2", "k3"} {
		if _, err := c.Get(ctx, k); err != nil {
			t.Errorf("Get(%s) = %v", k, err)
		}
	}
}

func TestMemoryCacheCopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0, 0, nil)
	defer c.Stop()

	value := []byte("abc")
	_ = c.Set(ctx, &core.CacheEntry{Key: "k", Value: value})
	value[0] = 'z'

	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Value) != "abc" {
		t.Errorf("stored value aliased the caller's slice: %q", got.Value)
	}
}
