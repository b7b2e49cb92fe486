// Package repository gives typed access to the events, cars and
// participants collections of a document store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/model"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/store"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrSeatTaken is returned when a participant already holds the seat.
var ErrSeatTaken = errors.New("seat already taken")

// EventRepository reads events.
type EventRepository struct {
	db store.Store
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db store.Store) *EventRepository {
	return &EventRepository{db: db}
}

// List returns all events ordered by date then name. Documents that do
// not decode are skipped and reported through skipped.
func (r *EventRepository) List(ctx context.Context) (events []model.Event, skipped []error, err error) {
	docs, err := r.db.Query(ctx, model.CollectionEvents, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("list events: %w", err)
	}

	events = make([]model.Event, 0, len(docs))
	for _, doc := range docs {
		var e model.Event
		if err := store.Decode(doc, &e); err != nil {
			skipped = append(skipped, err)
			continue
		}
		events = append(events, e)
	}
	sortEvents(events)
	return events, skipped, nil
}

// GetByID returns a single event or ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	doc, err := r.db.Get(ctx, model.CollectionEvents, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	var e model.Event
	if err := store.Decode(doc, &e); err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

// CarRepository reads cars.
type CarRepository struct {
	db store.Store
}

// NewCarRepository constructs a CarRepository.
func NewCarRepository(db store.Store) *CarRepository {
	return &CarRepository{db: db}
}

// ListByEvent is a snapshot read of the cars assigned to an event.
func (r *CarRepository) ListByEvent(ctx context.Context, eventID string) (cars []model.Car, skipped []error, err error) {
	docs, err := r.db.Query(ctx, model.CollectionCars, store.Where("event_id", eventID))
	if err != nil {
		return nil, nil, fmt.Errorf("list cars: %w", err)
	}

	cars = make([]model.Car, 0, len(docs))
	for _, doc := range docs {
		var c model.Car
		if err := store.Decode(doc, &c); err != nil {
			skipped = append(skipped, err)
			continue
		}
		cars = append(cars, c)
	}
	sortCars(cars)
	return cars, skipped, nil
}

// GetByID returns a single car or ErrNotFound.
func (r *CarRepository) GetByID(ctx context.Context, id string) (*model.Car, error) {
	doc, err := r.db.Get(ctx, model.CollectionCars, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get car: %w", err)
	}
	var c model.Car
	if err := store.Decode(doc, &c); err != nil {
		return nil, fmt.Errorf("get car: %w", err)
	}
	return &c, nil
}

// ParticipantRepository reads and writes bookings.
type ParticipantRepository struct {
	db  store.Store
	now func() time.Time
}

// NewParticipantRepository constructs a ParticipantRepository.
func NewParticipantRepository(db store.Store) *ParticipantRepository {
	return &ParticipantRepository{db: db, now: time.Now}
}

// SeatHeld reports whether any participant document of carID claims seat.
// The seat is matched on the raw field, so a document that no longer
// decodes still holds its seat; such documents come back in skipped.
func (r *ParticipantRepository) SeatHeld(ctx context.Context, carID string, seat int) (held bool, skipped []error, err error) {
	docs, err := r.db.Query(ctx, model.CollectionParticipants, store.Where("car_id", carID))
	if err != nil {
		return false, nil, fmt.Errorf("list participants: %w", err)
	}

	onSeat := store.Where("seat_number", strconv.Itoa(seat))
	for _, doc := range docs {
		if onSeat.Match(doc.Fields) {
			held = true
		}
	}
	_, skipped = DecodeParticipants(docs)
	return held, skipped, nil
}

// Watch subscribes to the whole participants collection. The store has no
// event_id on participants, so filtering happens in the caller.
func (r *ParticipantRepository) Watch(ctx context.Context,
	onChange func([]store.Document), onError func(error)) (store.Unsubscribe, error) {
	return r.db.Subscribe(ctx, model.CollectionParticipants, nil, onChange, onError)
}

// All returns every participant document.
func (r *ParticipantRepository) All(ctx context.Context) ([]store.Document, error) {
	docs, err := r.db.Query(ctx, model.CollectionParticipants, nil)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return docs, nil
}

// Book stores a participant keyed by its seat coordinate.
//
// A plain read-then-insert lets two bookers both see the seat free and both
// insert. Keying the document by the coordinate and inserting only if the
// key is absent turns the store's own uniqueness check into the lock: of
// any number of concurrent attempts on one seat exactly one insert lands,
// the rest get ErrSeatTaken.
func (r *ParticipantRepository) Book(ctx context.Context, p model.Participant) (*model.Participant, error) {
	p.ID = p.Seat().Key()
	p.CreatedAt = r.now().UTC()

	fields, err := store.Encode(p)
	if err != nil {
		return nil, err
	}

	if err := r.db.CreateIfAbsent(ctx, model.CollectionParticipants, p.ID, fields); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrSeatTaken
		}
		return nil, fmt.Errorf("insert participant: %w", err)
	}
	return &p, nil
}

// Delete removes a participant, returning ErrNotFound if it is already gone.
func (r *ParticipantRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.DeleteByID(ctx, model.CollectionParticipants, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete participant: %w", err)
	}
	return nil
}

// DecodeParticipants decodes documents, collecting the ones that fail.
func DecodeParticipants(docs []store.Document) ([]model.Participant, []error) {
	out := make([]model.Participant, 0, len(docs))
	var skipped []error
	for _, doc := range docs {
		var p model.Participant
		if err := store.Decode(doc, &p); err != nil {
			skipped = append(skipped, err)
			continue
		}
		out = append(out, p)
	}
	return out, skipped
}
