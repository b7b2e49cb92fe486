// Package service implements the seat availability resolver: it derives the
// occupancy of every seat of an event and mediates booking and cancelling.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/model"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/notify"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/repository"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/telemetry"
)

var (
	// ErrInvalidRequest wraps every input validation failure.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrCarNotFound is returned when booking a car that does not exist.
	ErrCarNotFound = errors.New("car not found")
	// ErrSeatOutOfRange is returned for a seat number outside 1..seats_count.
	ErrSeatOutOfRange = errors.New("seat number out of range")
	// ErrSeatUnavailable is the retryable conflict reported when another
	// booking holds the seat.
	ErrSeatUnavailable = errors.New("seat no longer available, refresh and retry")
)

// SeatResolver orchestrates occupancy reads and seat writes.
type SeatResolver struct {
	events       *repository.EventRepository
	cars         *repository.CarRepository
	participants *repository.ParticipantRepository
	publisher    notify.Publisher
	log          *zap.Logger
}

// NewSeatResolver constructs a SeatResolver with its dependencies.
func NewSeatResolver(
	events *repository.EventRepository,
	cars *repository.CarRepository,
	participants *repository.ParticipantRepository,
	publisher notify.Publisher,
	log *zap.Logger,
) *SeatResolver {
	if publisher == nil {
		publisher = notify.NoOp{}
	}
	return &SeatResolver{
		events:       events,
		cars:         cars,
		participants: participants,
		publisher:    publisher,
		log:          log,
	}
}

// ListEvents returns all events.
func (s *SeatResolver) ListEvents(ctx context.Context) ([]model.Event, error) {
	events, skipped, err := s.events.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range skipped {
		s.log.Warn("skipping malformed event", zap.Error(e))
	}
	return events, nil
}

// GetEvent returns a single event by ID.
func (s *SeatResolver) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrInvalidRequest)
	}
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// Book claims a seat for a passenger.
//
// The range and occupancy checks reject the obvious failures early; the
// conditional insert in the repository is what actually guarantees a single
// winner when bookers race. Nothing local is updated on success: watchers
// see the booking when the store's change stream delivers it.
func (s *SeatResolver) Book(ctx context.Context, req model.BookRequest) (_ *model.Participant, err error) {
	ctx, span := telemetry.StartSpan(ctx, "SeatResolver.Book",
		attribute.String("car_id", req.CarID),
		attribute.Int("seat_number", req.SeatNumber),
	)
	defer func() { telemetry.End(span, err) }()

	if err := normalizeBookRequest(&req); err != nil {
		return nil, err
	}

	car, err := s.cars.GetByID(ctx, req.CarID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCarNotFound
		}
		return nil, fmt.Errorf("book seat: %w", err)
	}
	if !car.HasSeat(req.SeatNumber) {
		return nil, fmt.Errorf("%w: car %s has seats 1..%d, got %d",
			ErrSeatOutOfRange, car.ID, car.SeatsCount, req.SeatNumber)
	}

	// Bookings written by other tools may not be keyed by seat.
	held, skipped, err := s.participants.SeatHeld(ctx, car.ID, req.SeatNumber)
	if err != nil {
		return nil, fmt.Errorf("book seat: %w", err)
	}
	for _, e := range skipped {
		s.log.Warn("skipping malformed participant", zap.String("car_id", car.ID), zap.Error(e))
	}
	if held {
		return nil, ErrSeatUnavailable
	}

	participant, err := s.participants.Book(ctx, model.Participant{
		CarID:          car.ID,
		SeatNumber:     req.SeatNumber,
		PassengerName:  req.PassengerName,
		PassengerEmail: req.PassengerEmail,
		PickupPoint:    req.PickupPoint,
	})
	if err != nil {
		if errors.Is(err, repository.ErrSeatTaken) {
			s.log.Info("booking lost seat race",
				zap.String("car_id", car.ID),
				zap.Int("seat_number", req.SeatNumber),
			)
			return nil, ErrSeatUnavailable
		}
		return nil, fmt.Errorf("book seat: %w", err)
	}

	s.log.Info("seat booked",
		zap.String("participant_id", participant.ID),
		zap.String("car_id", car.ID),
		zap.Int("seat_number", participant.SeatNumber),
	)
	if err := s.publisher.SeatBooked(ctx, participant); err != nil {
		s.log.Warn("publish seat booked failed", zap.String("participant_id", participant.ID), zap.Error(err))
	}
	return participant, nil
}

// Cancel deletes a booking. Cancelling a booking that no longer exists is
// a successful no-op, so repeating a cancel is harmless.
func (s *SeatResolver) Cancel(ctx context.Context, participantID string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "SeatResolver.Cancel",
		attribute.String("participant_id", participantID),
	)
	defer func() { telemetry.End(span, err) }()

	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return fmt.Errorf("%w: participant id is required", ErrInvalidRequest)
	}

	if err := s.participants.Delete(ctx, participantID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Debug("cancel of absent booking", zap.String("participant_id", participantID))
			return nil
		}
		return fmt.Errorf("cancel booking: %w", err)
	}

	s.log.Info("booking cancelled", zap.String("participant_id", participantID))
	if err := s.publisher.SeatCancelled(ctx, participantID); err != nil {
		s.log.Warn("publish seat cancelled failed", zap.String("participant_id", participantID), zap.Error(err))
	}
	return nil
}

func normalizeBookRequest(req *model.BookRequest) error {
	req.CarID = strings.TrimSpace(req.CarID)
	req.PassengerName = strings.TrimSpace(req.PassengerName)
	req.PassengerEmail = strings.TrimSpace(strings.ToLower(req.PassengerEmail))
	req.PickupPoint = strings.TrimSpace(req.PickupPoint)

	switch {
	case req.CarID == "":
		return fmt.Errorf("%w: car_id is required", ErrInvalidRequest)
	case req.PassengerName == "":
		return fmt.Errorf("%w: passenger_name is required", ErrInvalidRequest)
	case req.PassengerEmail == "":
		return fmt.Errorf("%w: passenger_email is required", ErrInvalidRequest)
	case !isValidEmail(req.PassengerEmail):
		return fmt.Errorf("%w: passenger_email is not a valid email address", ErrInvalidRequest)
	case req.PickupPoint == "":
		return fmt.Errorf("%w: pickup_point is required", ErrInvalidRequest)
	}
	return nil
}

// isValidEmail does a basic structural check.
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}
