package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves them.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	if err := c.Set(ctx, "location:93230-600", []byte(`{"location":"93230-600"}`), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "location:93230-600")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if string(got) != `{"location":"93230-600"}` {
		t.Errorf("Get() = %s", got)
	}
}

// TestInMemoryCache_Set_CopiesValue verifies later mutation of the caller's slice
// does not leak into the cache.
func TestInMemoryCache_Set_CopiesValue(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	buf := []byte("abc")
	_ = c.Set(ctx, "k", buf, time.Minute)
	buf[0] = 'x'

	got, _, _ := c.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("Get() = %s, want abc", got)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false for unknown keys.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	_, ok, err := NewInMemoryCache().Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies that expired entries read as absent and are evicted.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := NewInMemoryCache()
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "k", []byte("v"), time.Hour)
	now = now.Add(time.Hour + time.Second)

	_, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after lazy eviction", c.Len())
	}
}

// TestInMemoryCache_Delete verifies Delete removes an entry and tolerates unknown keys.
func TestInMemoryCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	_ = c.Set(ctx, "k", []byte("v"), time.Minute)

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get() after Delete ok = true")
	}
	if err := c.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete(missing) error = %v", err)
	}
}

// TestInMemoryCache_Sweep verifies Sweep removes only expired entries.
func TestInMemoryCache_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := NewInMemoryCache()
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "short", []byte("1"), time.Minute)
	_ = c.Set(ctx, "long", []byte("2"), time.Hour)
	now = now.Add(2 * time.Minute)

	if removed := c.Sweep(); removed != 1 {
		t.Errorf("Sweep() = %d, want 1", removed)
	}
	if _, ok, _ := c.Get(ctx, "long"); !ok {
		t.Error("unexpired entry should survive Sweep")
	}
}

// TestInMemoryCache_ConcurrentAccess exercises concurrent readers and writers; run with -race.
func TestInMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("location:%d", i%5)
			for j := 0; j < 100; j++ {
				_ = c.Set(ctx, key, []byte("v"), time.Minute)
				_, _, _ = c.Get(ctx, key)
				if j%10 == 0 {
					_ = c.Delete(ctx, key)
				}
			}
		}(i)
	}
	wg.Wait()
}

// TestExpirationSeconds verifies memcached expirations stay relative and positive.
func TestExpirationSeconds(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{time.Hour, 3600},
		{90 * time.Second, 90},
		{0, 3600},
		{-time.Second, 3600},
		{31 * 24 * time.Hour, 3600},
	}
	for _, tt := range tests {
		if got := expirationSeconds(tt.ttl); got != tt.want {
			t.Errorf("expirationSeconds(%v) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}

// TestMemcachedCache_Key verifies keys are prefixed and sanitized.
func TestMemcachedCache_Key(t *testing.T) {
	c := NewMemcachedCache("", 0, 0)
	if got := c.key("location:são paulo"); got != "locan:location:são_paulo" {
		t.Errorf("key() = %q", got)
	}
}

func TestMemcachedCache_KeyLongDistinct(t *testing.T) {
	c := NewMemcachedCache("", 0, 0)
	stem := "location:" + strings.Repeat("北京市朝阳区", 15)
	a, b := c.key(stem+"一号"), c.key(stem+"二号")

	if a == b {
		t.Fatalf("long keys differing only at the end map to the same key %q", a)
	}
	for _, k := range []string{a, b} {
		if len(k) > 250 {
			t.Errorf("key length = %d, want <= 250", len(k))
		}
		if !utf8.ValidString(k) {
			t.Errorf("key %q is not valid UTF-8", k)
		}
	}
	if c.key(stem+"一号") != a {
		t.Error("key() not deterministic for long input")
	}
}
