package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/model"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/repository"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/store"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/telemetry"
)

// DeriveOccupancy returns a one-shot snapshot of an event's seats. On a
// read failure it returns an empty view carrying the error, and the error.
func (s *SeatResolver) DeriveOccupancy(ctx context.Context, eventID string) (_ model.Occupancy, err error) {
	ctx, span := telemetry.StartSpan(ctx, "SeatResolver.DeriveOccupancy",
		attribute.String("event_id", eventID),
	)
	defer func() { telemetry.End(span, err) }()

	cars, err := s.carsForEvent(ctx, eventID)
	if err != nil {
		return model.EmptyOccupancy(eventID, err), err
	}
	if len(cars) == 0 {
		return model.EmptyOccupancy(eventID, nil), nil
	}

	docs, err := s.participants.All(ctx)
	if err != nil {
		err = fmt.Errorf("derive occupancy: %w", err)
		return model.EmptyOccupancy(eventID, err), err
	}
	return s.index(eventID, cars, docs), nil
}

// WatchOccupancy emits the event's occupancy now and after every change to
// the participants collection, until the returned func is called or ctx
// ends. Cars are read once; a changed car list needs a new watch.
//
// Stream failures are emitted as an empty view with Err set. Once the
// returned func has returned, emit is never called again, so a watch for a
// previously selected event cannot leak into the current one.
func (s *SeatResolver) WatchOccupancy(ctx context.Context, eventID string,
	emit func(model.Occupancy)) (store.Unsubscribe, error) {
	noop := func() {}

	cars, err := s.carsForEvent(ctx, eventID)
	if err != nil {
		emit(model.EmptyOccupancy(eventID, err))
		return noop, err
	}
	if len(cars) == 0 {
		emit(model.EmptyOccupancy(eventID, nil))
		return noop, nil
	}

	w := &watch{emit: emit}
	unsubscribe, err := s.participants.Watch(ctx,
		func(docs []store.Document) {
			w.deliver(s.index(eventID, cars, docs))
		},
		func(err error) {
			s.log.Warn("participant stream error", zap.String("event_id", eventID), zap.Error(err))
			w.deliver(model.EmptyOccupancy(eventID, fmt.Errorf("participant stream: %w", err)))
		},
	)
	if err != nil {
		err = fmt.Errorf("watch participants: %w", err)
		emit(model.EmptyOccupancy(eventID, err))
		return noop, err
	}

	s.log.Debug("occupancy watch started", zap.String("event_id", eventID), zap.Int("cars", len(cars)))
	var once sync.Once
	return func() {
		once.Do(func() {
			w.close()
			unsubscribe()
			s.log.Debug("occupancy watch stopped", zap.String("event_id", eventID))
		})
	}, nil
}

type watch struct {
	mu     sync.Mutex
	closed bool
	emit   func(model.Occupancy)
}

func (w *watch) deliver(o model.Occupancy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.emit(o)
	}
}

func (w *watch) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

func (s *SeatResolver) carsForEvent(ctx context.Context, eventID string) ([]model.Car, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrInvalidRequest)
	}
	cars, skipped, err := s.cars.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	for _, e := range skipped {
		s.log.Warn("skipping malformed car", zap.String("event_id", eventID), zap.Error(e))
	}
	return cars, nil
}

// index keeps participants whose car belongs to the event and maps them by
// seat. Participants of other events or of unknown cars are ignored; seats
// outside a car's range are dropped. If two documents claim one seat the
// earliest booking wins.
func (s *SeatResolver) index(eventID string, cars []model.Car, docs []store.Document) model.Occupancy {
	byID := make(map[string]*model.Car, len(cars))
	for i := range cars {
		byID[cars[i].ID] = &cars[i]
	}

	occ := model.Occupancy{
		EventID: eventID,
		Cars:    cars,
		Seats:   make(map[model.SeatCoordinate]*model.Participant),
	}

	participants, skipped := repository.DecodeParticipants(docs)
	for _, e := range skipped {
		s.log.Debug("skipping undecodable participant", zap.Error(e))
	}

	for i := range participants {
		p := &participants[i]
		car, ok := byID[p.CarID]
		if !ok {
			continue
		}
		if !car.HasSeat(p.SeatNumber) {
			s.log.Warn("participant seat out of range",
				zap.String("participant_id", p.ID),
				zap.String("car_id", p.CarID),
				zap.Int("seat_number", p.SeatNumber),
				zap.Int("seats_count", car.SeatsCount),
			)
			continue
		}

		seat := p.Seat()
		if held, ok := occ.Seats[seat]; ok {
			winner, loser := held, p
			if bookedBefore(p, held) {
				winner, loser = p, held
			}
			s.log.Warn("duplicate booking for seat",
				zap.String("seat", seat.Key()),
				zap.String("kept", winner.ID),
				zap.String("ignored", loser.ID),
			)
			occ.Seats[seat] = winner
			continue
		}
		occ.Seats[seat] = p
	}
	return occ
}

func bookedBefore(a, b *model.Participant) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
