package lockmap_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentfs/broker/internal/lockmap"
)

func TestAcquireRelease_AllowsSubsequentAcquire(t *testing.T) {
	t.Parallel()

	m := lockmap.New()
	ctx := context.Background()

	h, err := m.Acquire(ctx, "a.txt", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	h.Release()

	h2, err := m.Acquire(ctx, "a.txt", time.Second)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}

	h2.Release()
}

func TestAcquire_DifferentKeysDoNotBlockEachOther(t *testing.T) {
	t.Parallel()

	m := lockmap.New()
	ctx := context.Background()

	h1, err := m.Acquire(ctx, "a.txt", time.Second)
	if err != nil {
		t.Fatalf("Acquire a.txt: %v", err)
	}
	defer h1.Release()

	h2, err := m.Acquire(ctx, "b.txt", time.Second)
	if err != nil {
		t.Fatalf("Acquire b.txt should not block on a.txt's lock: %v", err)
	}
	defer h2.Release()
}

func TestAcquire_SameKeyBlocksUntilRelease(t *testing.T) {
	t.Parallel()

	m := lockmap.New()
	ctx := context.Background()

	h1, err := m.Acquire(ctx, "a.txt", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)

	acquiredSecond := make(chan struct{})

	go func() {
		defer wg.Done()

		h2, err := m.Acquire(ctx, "a.txt", time.Second)
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			return
		}

		close(acquiredSecond)
		h2.Release()
	}()

	select {
	case <-acquiredSecond:
		t.Fatalf("second Acquire returned before first Release")
	case <-time.After(50 * time.Millisecond):
	}

	h1.Release()
	wg.Wait()
}

func TestAcquire_TimesOutWhenHeld(t *testing.T) {
	t.Parallel()

	m := lockmap.New()
	ctx := context.Background()

	h1, err := m.Acquire(ctx, "a.txt", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h1.Release()

	_, err = m.Acquire(ctx, "a.txt", 20*time.Millisecond)
	if !errors.Is(err, lockmap.ErrTimeout) {
		t.Fatalf("err=%v, want ErrTimeout", err)
	}
}

func TestWithLock_ReleasesAfterFnReturns(t *testing.T) {
	t.Parallel()

	m := lockmap.New()
	ctx := context.Background()

	ran := false

	err := m.WithLock(ctx, "a.txt", time.Second, func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}

	if !ran {
		t.Fatalf("fn was not called")
	}

	// Lock must be free again: a second WithLock should not time out.
	err = m.WithLock(ctx, "a.txt", 50*time.Millisecond, func() error { return nil })
	if err != nil {
		t.Fatalf("second WithLock: %v", err)
	}
}

func TestWithLock_ReleasesEvenOnError(t *testing.T) {
	t.Parallel()

	m := lockmap.New()
	ctx := context.Background()

	sentinel := errors.New("boom")

	err := m.WithLock(ctx, "a.txt", time.Second, func() error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("err=%v, want sentinel", err)
	}

	err = m.WithLock(ctx, "a.txt", 50*time.Millisecond, func() error { return nil })
	if err != nil {
		t.Fatalf("lock was not released after fn returned an error: %v", err)
	}
}
