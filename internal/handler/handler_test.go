package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/model"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/repository"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/service"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/store"
)

// failingStore fails Query for the listed collections.
type failingStore struct {
	*store.MemoryStore
	fail map[string]error
}

func (f *failingStore) Query(ctx context.Context, collection string, filter *store.Filter) ([]store.Document, error) {
	if err, ok := f.fail[collection]; ok {
		return nil, err
	}
	return f.MemoryStore.Query(ctx, collection, filter)
}

func seed(t *testing.T, db store.Store) {
	t.Helper()
	ctx := context.Background()
	put := func(collection, id string, fields store.Fields) {
		_, err := db.Create(ctx, collection, fields, id)
		require.NoError(t, err)
	}
	put(model.CollectionEvents, "e1", store.Fields{"name": "Lake Trip", "date": "2026-11-01", "startTime": "08:00", "endTime": "18:00"})
	put(model.CollectionEvents, "e2", store.Fields{"name": "Hike", "date": "2026-11-08", "startTime": "07:00", "endTime": "15:00"})
	put(model.CollectionCars, "c1", store.Fields{"event_id": "e1", "driver_name": "Ana", "depart_time": "07:30", "meetup_point": "Station", "seats_count": 2})
}

func newServer(t *testing.T, db store.Store) *httptest.Server {
	t.Helper()
	log := zap.NewNop()
	svc := service.NewSeatResolver(
		repository.NewEventRepository(db),
		repository.NewCarRepository(db),
		repository.NewParticipantRepository(db),
		nil,
		log,
	)
	h, err := NewBookingHandler(svc, db, log)
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(h, log))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

const bookAna1 = `{"car_id":"c1","seat_number":1,"passenger_name":"Dee","passenger_email":"dee@example.com","pickup_point":"Gate"}`

func TestHealthCheck(t *testing.T) {
	db := store.NewMemoryStore()
	srv := newServer(t, db)

	resp, body := do(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	require.NoError(t, db.Close())
	resp, _ = do(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEvents(t *testing.T) {
	db := store.NewMemoryStore()
	seed(t, db)
	srv := newServer(t, db)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/events", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []model.Event
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "Lake Trip", events[0].Name)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/events/e2", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/events/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvents_EmptyIsArray(t *testing.T) {
	srv := newServer(t, store.NewMemoryStore())

	resp, body := do(t, http.MethodGet, srv.URL+"/api/events", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestOccupancy(t *testing.T) {
	db := store.NewMemoryStore()
	seed(t, db)
	srv := newServer(t, db)

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/bookings", bookAna1)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/events/e1/occupancy", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view model.OccupancyView
	require.NoError(t, json.Unmarshal(body, &view))
	require.Len(t, view.Cars, 1)
	require.Len(t, view.Cars[0].Seats, 2)
	assert.Equal(t, model.SeatOccupied, view.Cars[0].Seats[0].Status)
	assert.Equal(t, "Dee", view.Cars[0].Seats[0].Participant.PassengerName)
	assert.Equal(t, model.SeatAvailable, view.Cars[0].Seats[1].Status)
	assert.Empty(t, view.Error)
}

func TestOccupancy_ReadFailureIsServiceUnavailable(t *testing.T) {
	db := &failingStore{
		MemoryStore: store.NewMemoryStore(),
		fail:        map[string]error{model.CollectionCars: errors.New("backend offline")},
	}
	seed(t, db)
	srv := newServer(t, db)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/events/e1/occupancy", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var view model.OccupancyView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Empty(t, view.Cars)
	assert.Contains(t, view.Error, "backend offline")
}

func TestBook(t *testing.T) {
	db := store.NewMemoryStore()
	seed(t, db)
	srv := newServer(t, db)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/bookings", bookAna1)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var p model.Participant
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, "c1", p.CarID)
	assert.Equal(t, 1, p.SeatNumber)
	assert.NotEmpty(t, p.ID)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "seat taken", body: bookAna1, status: http.StatusConflict},
		{name: "out of range", body: `{"car_id":"c1","seat_number":3,"passenger_name":"E","passenger_email":"e@example.com","pickup_point":"P"}`, status: http.StatusBadRequest},
		{name: "unknown car", body: `{"car_id":"zz","seat_number":1,"passenger_name":"E","passenger_email":"e@example.com","pickup_point":"P"}`, status: http.StatusNotFound},
		{name: "missing name", body: `{"car_id":"c1","seat_number":2,"passenger_email":"e@example.com","pickup_point":"P"}`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"car_id":"c1","seat_number":2,"vip":true}`, status: http.StatusBadRequest},
		{name: "not json", body: `seat please`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, srv.URL+"/api/bookings", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			var e model.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestCancel_IsIdempotent(t *testing.T) {
	db := store.NewMemoryStore()
	seed(t, db)
	srv := newServer(t, db)

	_, body := do(t, http.MethodPost, srv.URL+"/api/bookings", bookAna1)
	var p model.Participant
	require.NoError(t, json.Unmarshal(body, &p))

	for range 2 {
		resp, _ := do(t, http.MethodDelete, srv.URL+"/api/bookings/"+p.ID, "")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/bookings", bookAna1)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestIndex_PreselectsKnownEvent(t *testing.T) {
	db := store.NewMemoryStore()
	seed(t, db)
	srv := newServer(t, db)

	resp, body := do(t, http.MethodGet, srv.URL+"/e2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), `<option value="e2" selected>`)
	assert.Contains(t, string(body), `data-selected="e2"`)
	assert.Contains(t, string(body), "Lake Trip - 2026-11-01 (08:00 - 18:00)")

	_, body = do(t, http.MethodGet, srv.URL+"/nope", "")
	assert.NotContains(t, string(body), " selected>")
	assert.Contains(t, string(body), `data-selected=""`)

	_, body = do(t, http.MethodGet, srv.URL+"/", "")
	assert.NotContains(t, string(body), " selected>")
}

func TestStatic(t *testing.T) {
	srv := newServer(t, store.NewMemoryStore())

	resp, body := do(t, http.MethodGet, srv.URL+"/static/app.js", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "EventSource")
}

func TestCORS_Preflight(t *testing.T) {
	srv := newServer(t, store.NewMemoryStore())

	resp, _ := do(t, http.MethodOptions, srv.URL+"/api/bookings", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

// nextFrame reads the next "data:" frame of an event stream.
func nextFrame(t *testing.T, r *bufio.Reader) model.OccupancyView {
	t.Helper()
	for {
		line, err := r.ReadBytes('\n')
		require.NoError(t, err)
		if data, ok := bytes.CutPrefix(line, []byte("data: ")); ok {
			var v model.OccupancyView
			require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &v))
			return v
		}
	}
}

func TestOccupancyStream_FollowsBookings(t *testing.T) {
	db := store.NewMemoryStore()
	seed(t, db)
	srv := newServer(t, db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events/e1/occupancy/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	first := nextFrame(t, r)
	assert.Equal(t, "e1", first.EventID)
	require.Len(t, first.Cars, 1)
	assert.Equal(t, model.SeatAvailable, first.Cars[0].Seats[0].Status)

	res, _ := do(t, http.MethodPost, srv.URL+"/api/bookings", bookAna1)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	for {
		v := nextFrame(t, r)
		if v.Cars[0].Seats[0].Status == model.SeatOccupied {
			assert.Equal(t, "Dee", v.Cars[0].Seats[0].Participant.PassengerName)
			break
		}
	}
}

func TestOccupancyStream_EventWithoutCars(t *testing.T) {
	db := store.NewMemoryStore()
	seed(t, db)
	srv := newServer(t, db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events/e2/occupancy/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	v := nextFrame(t, bufio.NewReader(resp.Body))
	assert.Equal(t, "e2", v.EventID)
	assert.Empty(t, v.Cars)
	assert.Empty(t, v.Error)
}
