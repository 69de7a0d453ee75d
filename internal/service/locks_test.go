package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLockArenaSerializes(t *testing.T) {
	arena := newLockArena()
	ctx := context.Background()

	var inCritical, maxInCritical int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := arena.Acquire(ctx, "archive-1")
			if err != nil {
				t.Errorf("захват блокировки завершился ошибкой: %v", err)
				return
			}
			defer release()

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxInCritical != 1 {
		t.Errorf("операции над одним архивом должны сериализоваться, одновременно: %d", maxInCritical)
	}
	if len(arena.locks) != 0 {
		t.Errorf("арена должна очищаться после освобождения, осталось записей: %d", len(arena.locks))
	}
}

func TestLockArenaIndependentArchives(t *testing.T) {
	arena := newLockArena()
	ctx := context.Background()

	release1, err := arena.Acquire(ctx, "archive-1")
	if err != nil {
		t.Fatal(err)
	}
	defer release1()

	// Блокировка другого архива не должна ждать.
	done := make(chan struct{})
	go func() {
		release2, err := arena.Acquire(ctx, "archive-2")
		if err == nil {
			release2()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("блокировки разных архивов не должны конфликтовать")
	}
}

func TestLockArenaContextCancel(t *testing.T) {
	arena := newLockArena()

	release, err := arena.Acquire(context.Background(), "archive-1")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = arena.Acquire(ctx, "archive-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ожидался DeadlineExceeded, получено: %v", err)
	}

	release()
	if len(arena.locks) != 0 {
		t.Errorf("после отказа и освобождения арена должна быть пустой: %d", len(arena.locks))
	}
}

func TestLockArenaTryAcquire(t *testing.T) {
	arena := newLockArena()

	release, ok := arena.TryAcquire("archive-1")
	if !ok {
		t.Fatal("первый TryAcquire должен захватить блокировку")
	}

	if _, ok := arena.TryAcquire("archive-1"); ok {
		t.Error("TryAcquire занятого архива должен вернуть false")
	}

	release()
	release() // повторное освобождение безопасно

	release2, ok := arena.TryAcquire("archive-1")
	if !ok {
		t.Fatal("после освобождения TryAcquire должен сработать")
	}
	release2()

	if len(arena.locks) != 0 {
		t.Errorf("арена должна очищаться: %d", len(arena.locks))
	}
}
