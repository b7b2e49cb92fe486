package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Documents are kept per collection in
// maps guarded by a RWMutex; every write notifies that collection's feeds.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Fields
	feeds       map[string]map[*Feed]struct{}
	closed      bool
}

var _ Store = &MemoryStore{}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Fields),
		feeds:       make(map[string]map[*Feed]struct{}),
	}
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Document{}, ErrClosed
	}

	fields, ok := s.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Fields: fields.Clone()}, nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, filter *Filter) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	docs := make([]Document, 0, len(s.collections[collection]))
	for id, fields := range s.collections[collection] {
		if filter.Match(fields) {
			docs = append(docs, Document{ID: id, Fields: fields.Clone()})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, collection string, filter *Filter,
	onChange func([]Document), onError func(error)) (Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	feed := StartFeed(ctx, func(ctx context.Context) ([]Document, error) {
		return s.Query(ctx, collection, filter)
	}, onChange, onError)

	if s.feeds[collection] == nil {
		s.feeds[collection] = make(map[*Feed]struct{})
	}
	s.feeds[collection][feed] = struct{}{}

	stop := feed.Unsubscribe()
	return func() {
		stop()
		s.mu.Lock()
		delete(s.feeds[collection], feed)
		s.mu.Unlock()
	}, nil
}

func (s *MemoryStore) Create(_ context.Context, collection string, fields Fields, explicitID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	id := explicitID
	if id == "" {
		id = uuid.New().String()
	}
	s.put(collection, id, fields)
	return id, nil
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, collection, id string, fields Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.collections[collection][id]; ok {
		return ErrAlreadyExists
	}
	s.put(collection, id, fields)
	return nil
}

func (s *MemoryStore) DeleteByID(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.collections[collection][id]; !ok {
		return ErrNotFound
	}
	delete(s.collections[collection], id)
	s.notify(collection)
	return nil
}

func (s *MemoryStore) DeleteAll(_ context.Context, collection string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	n := len(s.collections[collection])
	delete(s.collections, collection)
	if n > 0 {
		s.notify(collection)
	}
	return n, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every live subscription.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	feeds := s.feeds
	s.feeds = make(map[string]map[*Feed]struct{})
	s.closed = true
	s.mu.Unlock()

	for _, set := range feeds {
		for f := range set {
			f.Stop()
		}
	}
	return nil
}

// put stores a copy of fields; callers hold s.mu.
func (s *MemoryStore) put(collection, id string, fields Fields) {
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]Fields)
	}
	s.collections[collection][id] = fields.Clone()
	s.notify(collection)
}

// notify wakes the collection's feeds; callers hold s.mu.
func (s *MemoryStore) notify(collection string) {
	for f := range s.feeds[collection] {
		f.Notify()
	}
}
