package service

import (
	"context"
	"sync"
)

// lockArena — арена блокировок по идентификатору архива.
// Все операции над одним архивом сериализуются; операции над разными
// архивами идут параллельно. Блокировка — канал ёмкости 1: захват
// через канал позволяет ждать с уважением отмены контекста.
// Записи арены подсчитывают ссылки и удаляются, когда ожидающих нет.
type lockArena struct {
	mu    sync.Mutex
	locks map[string]*archiveLock
}

type archiveLock struct {
	ch   chan struct{}
	refs int
}

func newLockArena() *lockArena {
	return &lockArena{locks: make(map[string]*archiveLock)}
}

// get возвращает блокировку архива, увеличивая счётчик ссылок.
func (a *lockArena) get(archiveID string) *archiveLock {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.locks[archiveID]
	if !ok {
		l = &archiveLock{ch: make(chan struct{}, 1)}
		a.locks[archiveID] = l
	}
	l.refs++
	return l
}

// put уменьшает счётчик ссылок и удаляет запись без ожидающих.
func (a *lockArena) put(archiveID string, l *archiveLock) {
	a.mu.Lock()
	defer a.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(a.locks, archiveID)
	}
}

// Acquire захватывает блокировку архива, ожидая освобождения.
// Возвращает функцию освобождения либо ошибку отменённого контекста.
func (a *lockArena) Acquire(ctx context.Context, archiveID string) (func(), error) {
	l := a.get(archiveID)
	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-l.ch
				a.put(archiveID, l)
			})
		}
		return release, nil
	case <-ctx.Done():
		a.put(archiveID, l)
		return nil, ctx.Err()
	}
}

// TryAcquire захватывает блокировку без ожидания.
// Используется фоновой очисткой: занятый архив пропускается,
// а не удаляется из-под выполняющейся операции.
func (a *lockArena) TryAcquire(archiveID string) (func(), bool) {
	l := a.get(archiveID)
	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-l.ch
				a.put(archiveID, l)
			})
		}
		return release, true
	default:
		a.put(archiveID, l)
		return nil, false
	}
}
