package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/store"
)

// FormatError reports a seed file whose payload is not a JSON array.
type FormatError struct {
	File string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("seed file %s: %v", e.File, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

var errNotArray = errors.New("payload must be a JSON array of records")

// FileResult is the outcome of loading one file.
type FileResult struct {
	File       string `json:"file"`
	Order      string `json:"order"`
	Collection string `json:"collection"`
	Success    int    `json:"success"`
	Errors     int    `json:"errors"`
	// Skipped is set when the whole file was rejected.
	Skipped string `json:"skipped,omitempty"`
}

// ClearResult is the outcome of clearing one collection.
type ClearResult struct {
	Collection string `json:"collection"`
	Deleted    int    `json:"deleted"`
	Error      string `json:"error,omitempty"`
}

// Summary aggregates a run. Collections counts loaded files, as one file
// seeds one collection.
type Summary struct {
	Cleared     []ClearResult `json:"cleared,omitempty"`
	Files       []FileResult  `json:"files"`
	Collections int           `json:"collections"`
	Documents   int           `json:"documents"`
	Errors      int           `json:"errors"`
}

// Loader replays seed files into a store.
type Loader struct {
	db    store.Store
	log   *zap.Logger
	clear bool
	now   func() time.Time
}

// Option configures a Loader.
type Option func(*Loader)

// WithClear empties every target collection before loading.
func WithClear(clear bool) Option {
	return func(l *Loader) { l.clear = clear }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// NewLoader constructs a Loader.
func NewLoader(db store.Store, log *zap.Logger, opts ...Option) *Loader {
	l := &Loader{db: db, log: log, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run clears (if enabled) then loads files in the given order. Failures are
// confined to the collection, file or record they happen in and are
// reported in the Summary; the only error returned is ctx's.
//
// Without clear, re-running overwrites records that carry an id and adds a
// fresh copy of every record that does not. A store that enforces unique
// seats (postgres) rejects the copy of an id-less participant instead, and
// it is counted as a record error.
func (l *Loader) Run(ctx context.Context, files []File) (Summary, error) {
	var sum Summary

	if l.clear {
		l.log.Info("clearing mode enabled")
		seen := make(map[string]bool)
		for _, f := range files {
			if seen[f.Collection] {
				continue
			}
			seen[f.Collection] = true
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			sum.Cleared = append(sum.Cleared, l.clearCollection(ctx, f.Collection))
		}
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res := l.loadFile(ctx, f)
		sum.Files = append(sum.Files, res)
		sum.Collections++
		sum.Documents += res.Success
		sum.Errors += res.Errors
	}
	return sum, nil
}

func (l *Loader) clearCollection(ctx context.Context, collection string) ClearResult {
	n, err := l.db.DeleteAll(ctx, collection)
	if err != nil {
		l.log.Error("clear collection failed", zap.String("collection", collection), zap.Error(err))
		return ClearResult{Collection: collection, Deleted: n, Error: err.Error()}
	}
	if n == 0 {
		l.log.Info("no documents to delete", zap.String("collection", collection))
	} else {
		l.log.Info("cleared collection", zap.String("collection", collection), zap.Int("deleted", n))
	}
	return ClearResult{Collection: collection, Deleted: n}
}

func (l *Loader) loadFile(ctx context.Context, f File) FileResult {
	res := FileResult{File: f.Name, Order: f.Order, Collection: f.Collection}
	log := l.log.With(zap.String("collection", f.Collection), zap.String("file", f.Name))

	records, err := readRecords(f.Path)
	if err != nil {
		log.Error("skipping seed file", zap.Error(err))
		res.Errors = 1
		res.Skipped = err.Error()
		return res
	}

	log.Info("seeding collection", zap.Int("records", len(records)))
	for i, rec := range records {
		id, err := l.loadRecord(ctx, f.Collection, rec)
		if err != nil {
			res.Errors++
			log.Error("record failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		res.Success++
		log.Debug("record added", zap.String("id", id))
	}
	log.Info("collection seeded", zap.Int("success", res.Success), zap.Int("errors", res.Errors))
	return res
}

// loadRecord writes one record. A usable id becomes the document key and
// is removed from the stored fields; otherwise the store assigns a key.
func (l *Loader) loadRecord(ctx context.Context, collection string, rec any) (string, error) {
	obj, ok := rec.(map[string]any)
	if !ok {
		return "", fmt.Errorf("record must be a JSON object, got %T", rec)
	}

	fields := make(store.Fields, len(obj)+1)
	for k, v := range obj {
		fields[k] = v
	}

	id, hasID := documentID(obj["id"])
	if hasID {
		delete(fields, "id")
	}
	fields["created_at"] = l.now().UTC()

	return l.db.Create(ctx, collection, fields, id)
}

// documentID accepts non-empty strings and non-zero numbers as keys.
func documentID(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		f, err := t.Float64()
		if err != nil || f == 0 {
			return "", false
		}
		return t.String(), true
	default:
		return "", false
	}
}

func readRecords(path string) ([]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &FormatError{File: path, Err: err}
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(raw)))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, &FormatError{File: path, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &FormatError{File: path, Err: errors.New("unexpected data after payload")}
	}

	records, ok := payload.([]any)
	if !ok {
		return nil, &FormatError{File: path, Err: errNotArray}
	}
	return records, nil
}
