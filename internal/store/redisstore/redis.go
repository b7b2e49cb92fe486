// Package redisstore implements store.Store on Redis. Each document is a
// JSON string, each collection keeps a set of its ids, and every write
// publishes on the collection's change channel.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/config"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/store"
)

const mgetBatch = 500

// KEYS[1] document key, KEYS[2] id set; ARGV[1] JSON, ARGV[2] id, ARGV[3] channel.
var createIfAbsentScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 1 then
	redis.call('SADD', KEYS[2], ARGV[2])
	redis.call('PUBLISH', ARGV[3], ARGV[2])
	return 1
end
return 0
`)

// KEYS[1] document key, KEYS[2] id set; ARGV[1] id, ARGV[2] channel.
var deleteScript = redis.NewScript(`
if redis.call('DEL', KEYS[1]) == 1 then
	redis.call('SREM', KEYS[2], ARGV[1])
	redis.call('PUBLISH', ARGV[2], ARGV[1])
	return 1
end
return 0
`)

func docKey(collection, id string) string { return "doc:" + collection + ":" + id }
func idsKey(collection string) string     { return "ids:" + collection }
func channel(collection string) string    { return "changes:" + collection }

// Store is a store.Store backed by a Redis client.
type Store struct {
	db  *redis.Client
	log *zap.Logger
}

var _ store.Store = &Store{}

// Connect dials Redis and pings it, retrying per cfg.
func Connect(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn("redis connect attempt failed", zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				client.Close()
				return nil, ctx.Err()
			case <-time.After(cfg.RetryInterval):
			}
		}
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return New(client, log), nil
		}
	}

	client.Close()
	return nil, fmt.Errorf("connect to redis after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// New wraps an existing client.
func New(client *redis.Client, log *zap.Logger) *Store {
	return &Store{db: client, log: log}
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	raw, err := s.db.Get(ctx, docKey(collection, id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
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
	ids, err := s.db.SMembers(ctx, idsKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", collection, err)
	}
	sort.Strings(ids)

	docs := []store.Document{}
	for start := 0; start < len(ids); start += mgetBatch {
		batch := ids[start:min(start+mgetBatch, len(ids))]
		keys := make([]string, len(batch))
		for i, id := range batch {
			keys[i] = docKey(collection, id)
		}

		vals, err := s.db.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", collection, err)
		}
		for i, v := range vals {
			raw, ok := v.(string)
			if !ok {
				// id left in the set by a concurrent delete
				continue
			}
			fields, err := decodeFields(raw)
			if err != nil {
				return nil, fmt.Errorf("decode %s/%s: %w", collection, batch[i], err)
			}
			if filter.Match(fields) {
				docs = append(docs, store.Document{ID: batch[i], Fields: fields})
			}
		}
	}
	return docs, nil
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

	pipe := s.db.TxPipeline()
	pipe.Set(ctx, docKey(collection, id), raw, 0)
	pipe.SAdd(ctx, idsKey(collection), id)
	pipe.Publish(ctx, channel(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("write %s/%s: %w", collection, id, err)
	}
	return id, nil
}

func (s *Store) CreateIfAbsent(ctx context.Context, collection, id string, fields store.Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	created, err := createIfAbsentScript.Run(ctx, s.db,
		[]string{docKey(collection, id), idsKey(collection)},
		string(raw), id, channel(collection),
	).Int()
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", collection, id, err)
	}
	if created == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (s *Store) DeleteByID(ctx context.Context, collection, id string) error {
	deleted, err := deleteScript.Run(ctx, s.db,
		[]string{docKey(collection, id), idsKey(collection)},
		id, channel(collection),
	).Int()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if deleted == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteAll removes the collection's documents in batches.
func (s *Store) DeleteAll(ctx context.Context, collection string) (int, error) {
	ids, err := s.db.SMembers(ctx, idsKey(collection)).Result()
	if err != nil {
		return 0, fmt.Errorf("list %s ids: %w", collection, err)
	}

	total := 0
	for start := 0; start < len(ids); start += mgetBatch {
		batch := ids[start:min(start+mgetBatch, len(ids))]
		keys := make([]string, len(batch))
		members := make([]any, len(batch))
		for i, id := range batch {
			keys[i] = docKey(collection, id)
			members[i] = id
		}

		pipe := s.db.TxPipeline()
		del := pipe.Del(ctx, keys...)
		pipe.SRem(ctx, idsKey(collection), members...)
		if _, err := pipe.Exec(ctx); err != nil {
			return total, fmt.Errorf("delete %s batch: %w", collection, err)
		}
		total += int(del.Val())
	}

	if total > 0 {
		if err := s.db.Publish(ctx, channel(collection), "*").Err(); err != nil {
			s.log.Warn("publish change failed", zap.String("collection", collection), zap.Error(err))
		}
	}
	return total, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx).Err()
}

// Subscribe opens a pub/sub subscription on the collection's change channel
// and re-queries on every message.
func (s *Store) Subscribe(ctx context.Context, collection string, filter *store.Filter,
	onChange func([]store.Document), onError func(error)) (store.Unsubscribe, error) {
	pubsub := s.db.Subscribe(ctx, channel(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	feed := store.StartFeed(ctx, func(ctx context.Context) ([]store.Document, error) {
		return s.Query(ctx, collection, filter)
	}, onChange, onError)

	go func() {
		for range pubsub.Channel() {
			feed.Notify()
		}
	}()

	stop := feed.Unsubscribe()
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			stop()
			if err := pubsub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
				s.log.Debug("close pubsub", zap.String("collection", collection), zap.Error(err))
			}
		})
	}
	context.AfterFunc(ctx, unsubscribe)
	return unsubscribe, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func decodeFields(raw string) (store.Fields, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
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
