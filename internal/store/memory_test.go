package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.Create(ctx, "cars", Fields{"driver_name": "Ana"}, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = s.Create(ctx, "cars", Fields{"driver_name": "Ben"}, "c2")
	require.NoError(t, err)

	doc, err := s.Get(ctx, "cars", "c2")
	require.NoError(t, err)
	assert.Equal(t, "Ben", doc.Fields["driver_name"])

	// Create with an explicit id overwrites.
	_, err = s.Create(ctx, "cars", Fields{"driver_name": "Bea"}, "c2")
	require.NoError(t, err)
	doc, err = s.Get(ctx, "cars", "c2")
	require.NoError(t, err)
	assert.Equal(t, "Bea", doc.Fields["driver_name"])

	require.NoError(t, s.DeleteByID(ctx, "cars", "c2"))
	_, err = s.Get(ctx, "cars", "c2")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.DeleteByID(ctx, "cars", "c2"), ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	fields := Fields{"name": "Trip"}
	_, err := s.Create(ctx, "events", fields, "e1")
	require.NoError(t, err)
	fields["name"] = "changed"

	doc, err := s.Get(ctx, "events", "e1")
	require.NoError(t, err)
	doc.Fields["name"] = "changed again"

	doc, err = s.Get(ctx, "events", "e1")
	require.NoError(t, err)
	assert.Equal(t, "Trip", doc.Fields["name"])
}

func TestMemoryStore_CreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateIfAbsent(ctx, "participants", "c1:1", Fields{"passenger_name": "Dee"}))
	require.ErrorIs(t, s.CreateIfAbsent(ctx, "participants", "c1:1", Fields{"passenger_name": "Eli"}), ErrAlreadyExists)

	doc, err := s.Get(ctx, "participants", "c1:1")
	require.NoError(t, err)
	assert.Equal(t, "Dee", doc.Fields["passenger_name"])
}

func TestMemoryStore_CreateIfAbsentSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.CreateIfAbsent(ctx, "participants", "c1:1", Fields{}) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryStore_QueryFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for id, event := range map[string]any{"c1": "e1", "c2": "e2", "c3": "e1", "c4": nil} {
		fields := Fields{}
		if event != nil {
			fields["event_id"] = event
		}
		_, err := s.Create(ctx, "cars", fields, id)
		require.NoError(t, err)
	}

	docs, err := s.Query(ctx, "cars", Where("event_id", "e1"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "c1", docs[0].ID)
	assert.Equal(t, "c3", docs[1].ID)

	all, err := s.Query(ctx, "cars", nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := s.Query(ctx, "missing", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_DeleteAll(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Create(ctx, "events", Fields{}, id)
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, "cars", Fields{}, "keep")
	require.NoError(t, err)

	n, err := s.DeleteAll(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.DeleteAll(ctx, "events")
	require.NoError(t, err)
	assert.Zero(t, n)

	cars, err := s.Query(ctx, "cars", nil)
	require.NoError(t, err)
	assert.Len(t, cars, 1)
}

func TestMemoryStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Ping(ctx), ErrClosed)
	_, err := s.Query(ctx, "events", nil)
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.Create(ctx, "events", Fields{}, "")
	require.ErrorIs(t, err, ErrClosed)
}

// snapshots collects subscription deliveries.
type snapshots struct {
	mu   sync.Mutex
	seen [][]Document
}

func (s *snapshots) add(docs []Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, docs)
}

func (s *snapshots) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *snapshots) last() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) == 0 {
		return nil
	}
	return s.seen[len(s.seen)-1]
}

func TestMemoryStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Create(ctx, "participants", Fields{"car_id": "c1"}, "p1")
	require.NoError(t, err)

	var got snapshots
	unsubscribe, err := s.Subscribe(ctx, "participants", Where("car_id", "c1"), got.add, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(got.last()) == 1 }, time.Second, 5*time.Millisecond)

	_, err = s.Create(ctx, "participants", Fields{"car_id": "c1"}, "p2")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(got.last()) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.DeleteByID(ctx, "participants", "p1"))
	require.Eventually(t, func() bool {
		docs := got.last()
		return len(docs) == 1 && docs[0].ID == "p2"
	}, time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
	n := got.count()

	_, err = s.Create(ctx, "participants", Fields{"car_id": "c1"}, "p3")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, got.count())
}

func TestMemoryStore_SubscribeEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore()

	var got snapshots
	_, err := s.Subscribe(ctx, "events", nil, got.add, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	_, err = s.Create(context.Background(), "events", Fields{}, "e1")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, got.count())
}

func TestFeed_QueryErrorGoesToOnError(t *testing.T) {
	errs := make(chan error, 1)
	boom := assert.AnError

	f := StartFeed(context.Background(),
		func(context.Context) ([]Document, error) { return nil, boom },
		func([]Document) { t.Error("unexpected change") },
		func(err error) { errs <- err },
	)
	defer f.Stop()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("no error delivered")
	}
}

func TestFilterMatch(t *testing.T) {
	for _, tt := range []struct {
		name   string
		filter *Filter
		fields Fields
		want   bool
	}{
		{name: "nil matches all", filter: nil, fields: Fields{}, want: true},
		{name: "string", filter: Where("event_id", "e1"), fields: Fields{"event_id": "e1"}, want: true},
		{name: "other value", filter: Where("event_id", "e1"), fields: Fields{"event_id": "e2"}, want: false},
		{name: "missing field", filter: Where("event_id", "e1"), fields: Fields{}, want: false},
		{name: "json number", filter: Where("seat_number", "2"), fields: Fields{"seat_number": json.Number("2")}, want: true},
		{name: "float", filter: Where("seat_number", "2"), fields: Fields{"seat_number": 2.0}, want: true},
		{name: "int", filter: Where("seat_number", "2"), fields: Fields{"seat_number": 2}, want: true},
		{name: "object", filter: Where("car", "x"), fields: Fields{"car": map[string]any{}}, want: false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.filter.Match(tt.fields))
		})
	}
}

func TestDecodeEncode(t *testing.T) {
	type car struct {
		ID         string `json:"id"`
		SeatsCount int    `json:"seats_count"`
	}

	var c car
	require.NoError(t, Decode(Document{ID: "c1", Fields: Fields{"seats_count": json.Number("4"), "id": "ignored"}}, &c))
	assert.Equal(t, car{ID: "c1", SeatsCount: 4}, c)

	fields, err := Encode(c)
	require.NoError(t, err)
	assert.NotContains(t, fields, "id")
	assert.EqualValues(t, 4, fields["seats_count"])
}
