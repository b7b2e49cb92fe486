// Package store defines the document store the resolver and the seeding
// loader are written against, plus an in-memory implementation.
//
// A store is organised into named collections of schemaless documents.
// Backends live in sub-packages (postgres, redisstore) and are injected
// through constructors; nothing in the application holds a global handle.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrNotFound is returned when no document exists at the given id.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by CreateIfAbsent when the id is taken.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// Fields is the stored field set of a document.
type Fields map[string]any

// Document is a single stored record with a unique key within its collection.
type Document struct {
	ID     string
	Fields Fields
}

// Filter is a single equality predicate on a top-level field.
type Filter struct {
	Field string
	Value string
}

// Where builds a Filter matching documents whose field equals value.
func Where(field, value string) *Filter {
	return &Filter{Field: field, Value: value}
}

// Match reports whether fields satisfy the filter. A nil filter matches all.
func (f *Filter) Match(fields Fields) bool {
	if f == nil {
		return true
	}
	v, ok := fields[f.Field]
	if !ok {
		return false
	}
	s, ok := FieldString(v)
	return ok && s == f.Value
}

// FieldString renders a scalar field value in the textual form used for
// filtering. Non-scalar values report false.
func FieldString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// Unsubscribe tears down a subscription. It is safe to call more than once;
// once it returns no further callback for that subscription runs.
type Unsubscribe func()

// Store is the narrow interface every backing database must satisfy.
type Store interface {
	// Get returns the document at id or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Query returns all documents in collection matching filter (nil = all).
	Query(ctx context.Context, collection string, filter *Filter) ([]Document, error)

	// Subscribe delivers the full matching set once immediately and again
	// after every change to the collection, until unsubscribed or ctx ends.
	// onError receives failures of the underlying change stream.
	Subscribe(ctx context.Context, collection string, filter *Filter,
		onChange func([]Document), onError func(error)) (Unsubscribe, error)

	// Create writes fields as a new document. With an explicit id the write
	// is an upsert at that id; otherwise the store generates one.
	Create(ctx context.Context, collection string, fields Fields, explicitID string) (string, error)

	// CreateIfAbsent writes fields at id only if no document exists there,
	// returning ErrAlreadyExists otherwise.
	CreateIfAbsent(ctx context.Context, collection, id string, fields Fields) error

	// DeleteByID removes a document, returning ErrNotFound if absent.
	DeleteByID(ctx context.Context, collection, id string) error

	// DeleteAll removes every document in collection and reports how many.
	DeleteAll(ctx context.Context, collection string) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// Decode converts a document into a typed value via its JSON form. The
// document id is exposed as the "id" field.
func Decode(doc Document, dst any) error {
	m := make(map[string]any, len(doc.Fields)+1)
	for k, v := range doc.Fields {
		m[k] = v
	}
	m["id"] = doc.ID
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode document %s: %w", doc.ID, err)
	}
	return nil
}

// Encode converts a typed value into a field set, dropping the "id" key.
func Encode(src any) (Fields, error) {
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	var f Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	delete(f, "id")
	return f, nil
}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
