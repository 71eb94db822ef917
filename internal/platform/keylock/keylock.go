package keylock

import (
	"context"
	"hash/fnv"
	"sync"
)

// numShards spreads the key table over independent mutexes so lock
// bookkeeping for unrelated keys does not contend. Holding a key never
// blocks a different key.
const numShards = 64

// Locker hands out one in-process lock per key. Waiters give up when their
// context ends, which bounds how long any operation can queue on a hot key.
type Locker struct {
	shards [numShards]shard
}

type shard struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

func New() *Locker {
	l := &Locker{}
	for i := range l.shards {
		l.shards[i].locks = make(map[string]*entry)
	}
	return l
}

// Lock blocks until key is free or ctx is done. The returned unlock func is
// idempotent.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &l.shards[hash(key)%numShards]

	s.mu.Lock()
	e, ok := s.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		s.locks[key] = e
	}
	e.refs++
	s.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		s.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			s.release(key, e)
		})
	}, nil
}

func (s *shard) release(key string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(s.locks, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (l *Locker) held() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}

func hash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
