package command

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// LocalLocker is an in-process RoomLocker keyed by room name. Waiting for a
// lock honors ctx cancellation.
type LocalLocker struct {
	mu    sync.Mutex
	rooms map[string]*roomLock
}

type roomLock struct {
	sem  *semaphore.Weighted
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{rooms: map[string]*roomLock{}}
}

func (l *LocalLocker) LockRoom(ctx context.Context, room string, fn func(ctx context.Context) error) error {
	rl := l.acquireRef(room)
	defer l.releaseRef(room, rl)

	if err := rl.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer rl.sem.Release(1)

	return fn(ctx)
}

func (l *LocalLocker) acquireRef(room string) *roomLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl, ok := l.rooms[room]
	if !ok {
		rl = &roomLock{sem: semaphore.NewWeighted(1)}
		l.rooms[room] = rl
	}

	rl.refs++

	return rl
}

func (l *LocalLocker) releaseRef(room string, rl *roomLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl.refs--
	if rl.refs == 0 {
		delete(l.rooms, room)
	}
}
