package store

import (
	"context"
	"sync"
)

// Feed runs one subscription: every Notify schedules a re-query whose
// result is handed to onChange. Bursts of notifications coalesce into a
// single delivery of the latest state. Backends drive a Feed from whatever
// change signal they have (in-process writes, LISTEN/NOTIFY, pub/sub).
type Feed struct {
	query    func(context.Context) ([]Document, error)
	onChange func([]Document)
	onError  func(error)

	kick   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// StartFeed starts delivering query results and schedules the initial
// delivery. The feed stops when ctx ends or Stop is called.
func StartFeed(ctx context.Context, query func(context.Context) ([]Document, error),
	onChange func([]Document), onError func(error)) *Feed {
	ctx, cancel := context.WithCancel(ctx)
	f := &Feed{
		query:    query,
		onChange: onChange,
		onError:  onError,
		kick:     make(chan struct{}, 1),
		cancel:   cancel,
	}
	f.Notify()
	go f.run(ctx)
	return f
}

// Notify schedules a re-query. It never blocks.
func (f *Feed) Notify() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Fail reports a change-stream error to the subscriber.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed && f.onError != nil {
		f.onError(err)
	}
}

// Stop ends the feed. When it returns no callback is running or will run.
// It must not be called from inside onChange or onError.
func (f *Feed) Stop() {
	f.cancel()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Unsubscribe adapts Stop to the Unsubscribe signature.
func (f *Feed) Unsubscribe() Unsubscribe {
	var once sync.Once
	return func() { once.Do(f.Stop) }
}

func (f *Feed) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.kick:
		}

		docs, err := f.query(ctx)

		f.mu.Lock()
		switch {
		case f.closed || ctx.Err() != nil:
		case err != nil:
			if f.onError != nil {
				f.onError(err)
			}
		default:
			f.onChange(docs)
		}
		f.mu.Unlock()
	}
}
