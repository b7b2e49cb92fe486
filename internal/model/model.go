// Package model defines the core domain types for the carpool booking system.
package model

import (
	"strconv"
	"time"
)

// Collection names in the document store.
const (
	CollectionEvents       = "events"
	CollectionCars         = "cars"
	CollectionParticipants = "participants"
)

// Event is a trip that cars are organised around. Created by seeding only.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Date      string    `json:"date"`
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Label renders an event the way the event picker shows it.
func (e *Event) Label() string {
	return e.Name + " - " + e.Date + " (" + e.StartTime + " - " + e.EndTime + ")"
}

// Car is a vehicle offering seats for one event.
type Car struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	DriverName  string    `json:"driver_name"`
	DepartTime  string    `json:"depart_time"`
	MeetupPoint string    `json:"meetup_point"`
	SeatsCount  int       `json:"seats_count"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

// HasSeat reports whether n is a valid seat number for the car.
func (c *Car) HasSeat(n int) bool {
	return n >= 1 && n <= c.SeatsCount
}

// Participant is a booking. Its existence is the occupancy of a seat.
type Participant struct {
	ID             string    `json:"id"`
	CarID          string    `json:"car_id"`
	SeatNumber     int       `json:"seat_number"`
	PassengerName  string    `json:"passenger_name"`
	PassengerEmail string    `json:"passenger_email"`
	PickupPoint    string    `json:"pickup_point"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
}

// Seat returns the coordinate this participant occupies.
func (p *Participant) Seat() SeatCoordinate {
	return SeatCoordinate{CarID: p.CarID, SeatNumber: p.SeatNumber}
}

// SeatCoordinate identifies a bookable slot. It is derived, never stored.
type SeatCoordinate struct {
	CarID      string
	SeatNumber int
}

// Key is the document id a booking for this seat is stored under.
func (s SeatCoordinate) Key() string {
	return s.CarID + ":" + strconv.Itoa(s.SeatNumber)
}

// Occupancy is the derived state of every seat of every car of an event.
type Occupancy struct {
	EventID string
	Cars    []Car
	Seats   map[SeatCoordinate]*Participant
	// Err is set when the view degraded to empty because a read failed.
	Err error
}

// EmptyOccupancy returns a view with no cars, carrying err if non-nil.
func EmptyOccupancy(eventID string, err error) Occupancy {
	return Occupancy{
		EventID: eventID,
		Cars:    []Car{},
		Seats:   map[SeatCoordinate]*Participant{},
		Err:     err,
	}
}

// Seat status values in OccupancyView.
const (
	SeatAvailable = "available"
	SeatOccupied  = "occupied"
)

// OccupancyView is the JSON projection of an Occupancy.
type OccupancyView struct {
	EventID string    `json:"event_id"`
	Cars    []CarView `json:"cars"`
	Error   string    `json:"error,omitempty"`
}

// CarView is one car with its full seat map.
type CarView struct {
	Car
	Seats []SeatView `json:"seats"`
}

// SeatView is a single seat slot.
type SeatView struct {
	Number      int          `json:"number"`
	Status      string       `json:"status"`
	Participant *Participant `json:"participant,omitempty"`
}

// View builds the rendered form: one entry per seat 1..seats_count for
// every car, nothing outside that range.
func (o Occupancy) View() OccupancyView {
	v := OccupancyView{EventID: o.EventID, Cars: make([]CarView, 0, len(o.Cars))}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}
	for _, car := range o.Cars {
		cv := CarView{Car: car, Seats: make([]SeatView, 0, max(car.SeatsCount, 0))}
		for n := 1; n <= car.SeatsCount; n++ {
			sv := SeatView{Number: n, Status: SeatAvailable}
			if p, ok := o.Seats[SeatCoordinate{CarID: car.ID, SeatNumber: n}]; ok && p != nil {
				sv.Status = SeatOccupied
				sv.Participant = p
			}
			cv.Seats = append(cv.Seats, sv)
		}
		v.Cars = append(v.Cars, cv)
	}
	return v
}

// BookRequest is the payload for claiming a seat.
type BookRequest struct {
	CarID          string `json:"car_id"`
	SeatNumber     int    `json:"seat_number"`
	PassengerName  string `json:"passenger_name"`
	PassengerEmail string `json:"passenger_email"`
	PickupPoint    string `json:"pickup_point"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
