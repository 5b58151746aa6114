// Package memstore is an in-memory document store with push subscriptions.
// It is the backend used in tests and for single-process demos.
package memstore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sealroom/sealroom/internal/docstore"
)

type Store struct {
	mu   sync.Mutex
	docs map[string]map[string]any
	subs map[string]map[int]*subscriber
	next int
}

type subscriber struct {
	onChange func(map[string]any)
	closed   atomic.Bool
}

func New() *Store {
	return &Store{
		docs: make(map[string]map[string]any),
		subs: make(map[string]map[int]*subscriber),
	}
}

func key(collection, id string) string { return collection + "/" + id }

func (s *Store) Set(ctx context.Context, collection, id string, doc map[string]any) error {
	k := key(collection, id)
	s.mu.Lock()
	s.docs[k] = deepCopy(doc).(map[string]any)
	subs, snapshot := s.snapshotLocked(k)
	s.mu.Unlock()
	notify(subs, snapshot)
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key(collection, id)]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return deepCopy(doc).(map[string]any), nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	k := key(collection, id)
	s.mu.Lock()
	doc, ok := s.docs[k]
	if !ok {
		s.mu.Unlock()
		return docstore.ErrNotFound
	}
	s.docs[k] = deepCopy(docstore.Apply(doc, fields)).(map[string]any)
	subs, snapshot := s.snapshotLocked(k)
	s.mu.Unlock()
	notify(subs, snapshot)
	return nil
}

// Subscribe delivers snapshots synchronously on the writer's goroutine.
// onError is part of the Store contract but an in-memory store has no
// failure mode to report through it.
func (s *Store) Subscribe(collection, id string, onChange func(map[string]any), onError func(error)) (func(), error) {
	k := key(collection, id)
	sub := &subscriber{onChange: onChange}

	s.mu.Lock()
	if s.subs[k] == nil {
		s.subs[k] = make(map[int]*subscriber)
	}
	n := s.next
	s.next++
	s.subs[k][n] = sub
	var initial map[string]any
	if doc, ok := s.docs[k]; ok {
		initial = deepCopy(doc).(map[string]any)
	}
	s.mu.Unlock()

	if initial != nil {
		onChange(initial)
	}

	cancel := func() {
		sub.closed.Store(true)
		s.mu.Lock()
		delete(s.subs[k], n)
		s.mu.Unlock()
	}
	return cancel, nil
}

func (s *Store) snapshotLocked(k string) ([]*subscriber, map[string]any) {
	var subs []*subscriber
	for _, sub := range s.subs[k] {
		subs = append(subs, sub)
	}
	return subs, s.docs[k]
}

func notify(subs []*subscriber, doc map[string]any) {
	for _, sub := range subs {
		if sub.closed.Load() {
			continue
		}
		sub.onChange(deepCopy(doc).(map[string]any))
	}
}

// deepCopy isolates stored documents from caller mutation. Documents are
// JSON-shaped, so maps, slices and scalars are the only cases.
func deepCopy(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
