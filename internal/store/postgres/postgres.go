// Package postgres implements store.Store on a single PostgreSQL jsonb
// table, with change subscriptions driven by LISTEN/NOTIFY.
package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/store"
)

const (
	notifyChannel     = "document_changes"
	uniqueViolation   = "23505"
	listenRetryPeriod = 2 * time.Second
)

// Store is a store.Store backed by the documents table.
type Store struct {
	db  *pgxpool.Pool
	log *zap.Logger

	mu    sync.Mutex
	feeds map[string]map[*store.Feed]struct{}

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ store.Store = &Store{}

// New wraps a pool whose schema has been applied with database.EnsureSchema.
func New(db *pgxpool.Pool, log *zap.Logger) *Store {
	return &Store{
		db:    db,
		log:   log,
		feeds: make(map[string]map[*store.Feed]struct{}),
	}
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Document{}, store.ErrNotFound
		}
		return store.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return store.Document{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return store.Document{ID: id, Fields: fields}, nil
}

func (s *Store) Query(ctx context.Context, collection string, filter *store.Filter) ([]store.Document, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if filter == nil {
		rows, err = s.db.Query(ctx,
			`SELECT id, fields FROM documents WHERE collection = $1 ORDER BY id`,
			collection,
		)
	} else {
		rows, err = s.db.Query(ctx,
			`SELECT id, fields FROM documents
			 WHERE collection = $1 AND fields->>$2 = $3
			 ORDER BY id`,
			collection, filter.Field, filter.Value,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []store.Document{}
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
		docs = append(docs, store.Document{ID: id, Fields: fields})
	}
	return docs, rows.Err()
}

func (s *Store) Create(ctx context.Context, collection string, fields store.Fields, explicitID string) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}

	id := explicitID
	if id == "" {
		id = uuid.New().String()
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, fields)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id)
		 DO UPDATE SET fields = EXCLUDED.fields, updated_at = now()`,
		collection, id, string(raw),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", store.ErrAlreadyExists
		}
		return "", fmt.Errorf("upsert %s/%s: %w", collection, id, err)
	}
	return id, nil
}

// CreateIfAbsent inserts at id unless the row exists. For participants the
// seat index also rejects a second document on an occupied coordinate.
func (s *Store) CreateIfAbsent(ctx context.Context, collection, id string, fields store.Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, fields)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, string(raw),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("insert %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (s *Store) DeleteByID(ctx context.Context, collection, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAll(ctx context.Context, collection string) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE collection = $1`, collection)
	if err != nil {
		return 0, fmt.Errorf("delete all %s: %w", collection, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Subscribe registers a feed for collection and lazily starts the shared
// LISTEN connection.
func (s *Store) Subscribe(ctx context.Context, collection string, filter *store.Filter,
	onChange func([]store.Document), onError func(error)) (store.Unsubscribe, error) {
	s.startOnce.Do(s.startListener)

	feed := store.StartFeed(ctx, func(ctx context.Context) ([]store.Document, error) {
		return s.Query(ctx, collection, filter)
	}, onChange, onError)

	s.mu.Lock()
	if s.feeds[collection] == nil {
		s.feeds[collection] = make(map[*store.Feed]struct{})
	}
	s.feeds[collection][feed] = struct{}{}
	s.mu.Unlock()

	stop := feed.Unsubscribe()
	return func() {
		stop()
		s.mu.Lock()
		delete(s.feeds[collection], feed)
		s.mu.Unlock()
	}, nil
}

// Close stops the listener and every feed. The pool is owned by the caller.
func (s *Store) Close() error {
	s.startOnce.Do(func() {})
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	s.mu.Lock()
	feeds := s.feeds
	s.feeds = make(map[string]map[*store.Feed]struct{})
	s.mu.Unlock()

	for _, set := range feeds {
		for f := range set {
			f.Stop()
		}
	}
	return nil
}

func (s *Store) startListener() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.listen(ctx)
}

// listen holds one connection in LISTEN mode and fans notifications out to
// the feeds of the named collection. On connection loss every feed is told
// and then re-queried once the listener is back, so no change is missed.
func (s *Store) listen(ctx context.Context) {
	defer close(s.done)

	for ctx.Err() == nil {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("document change listener lost", zap.Error(err))
		s.broadcast(func(f *store.Feed) { f.Fail(fmt.Errorf("change stream: %w", err)) })

		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetryPeriod):
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	// Changes may have happened while we were not listening.
	s.broadcast((*store.Feed).Notify)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		for f := range s.feeds[n.Payload] {
			f.Notify()
		}
		s.mu.Unlock()
	}
}

func (s *Store) broadcast(fn func(*store.Feed)) {
	s.mu.Lock()
	var all []*store.Feed
	for _, set := range s.feeds {
		for f := range set {
			all = append(all, f)
		}
	}
	s.mu.Unlock()

	for _, f := range all {
		fn(f)
	}
}

func decodeFields(raw []byte) (store.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields store.Fields
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = store.Fields{}
	}
	return fields, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
