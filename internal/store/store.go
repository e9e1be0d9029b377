package store

import (
	"errors"
	"log/slog"
	"sync"
)

var ErrClosed = errors.New("store closed")

// VersionObserver is told the version of every committed snapshot.
type VersionObserver interface {
	SetSnapshotVersion(version uint64)
}

// Store owns the current snapshot and is the only place new snapshots are
// produced. It performs no network access.
type Store struct {
	logger   *slog.Logger
	observer VersionObserver

	mu      sync.RWMutex
	current Snapshot
	subs    map[int]chan Snapshot
	nextSub int
	closed  bool
}

func New(logger *slog.Logger, observer VersionObserver) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:   logger,
		observer: observer,
		current:  Empty(),
		subs:     map[int]chan Snapshot{},
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Dispatch applies ts in order and commits them together. If any transition
// is rejected nothing is committed.
func (s *Store) Dispatch(ts ...Transition) (Snapshot, error) {
	return s.Update(func(Snapshot) ([]Transition, error) {
		return ts, nil
	})
}

// Update calls fn with the latest snapshot and commits the transitions it
// returns, all under the store lock, so no other write can land between the
// read and the write. fn must not block or call back into the store.
func (s *Store) Update(fn func(Snapshot) ([]Transition, error)) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.current, ErrClosed
	}

	ts, err := fn(s.current)
	if err != nil {
		return s.current, err
	}
	if len(ts) == 0 {
		return s.current, nil
	}

	next := s.current
	for _, t := range ts {
		next, err = Apply(next, t)
		if err != nil {
			s.logger.Error("transition rejected", "error", err)
			return s.current, err
		}
		next.Version++
	}
	s.current = next

	for _, t := range ts {
		s.logger.Debug("transition applied", "kind", t.Kind(), "version", next.Version)
	}
	if s.observer != nil {
		s.observer.SetSnapshotVersion(next.Version)
	}
	s.publish(next)
	return next, nil
}

// Subscribe returns a channel that receives the latest snapshot after each
// commit. Slow readers skip intermediate versions. The cancel func releases
// the subscription and closes the channel.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close rejects further writes and closes every subscription.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// publish must be called with s.mu held.
func (s *Store) publish(snap Snapshot) {
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
