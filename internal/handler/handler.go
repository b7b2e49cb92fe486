// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the seat resolver.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/model"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/repository"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/service"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/web"
)

// sseHeartbeat keeps idle streams from being cut by proxies.
const sseHeartbeat = 25 * time.Second

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BookingHandler holds all HTTP handlers for the carpool booking API.
type BookingHandler struct {
	svc  *service.SeatResolver
	db   Pinger
	log  *zap.Logger
	page *template.Template
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(svc *service.SeatResolver, db Pinger, log *zap.Logger) (*BookingHandler, error) {
	page, err := template.ParseFS(web.FS, "index.html")
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}
	return &BookingHandler{svc: svc, db: db, log: log, page: page}, nil
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// ─── Events ───────────────────────────────────────────────────────────────────

// ListEvents handles GET /api/events
func (h *BookingHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		h.log.Error("list events failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /api/events/{eventId}
func (h *BookingHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.svc.GetEvent(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "event not found")
		case errors.Is(err, service.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Error("get event failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to get event")
		}
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// ─── Occupancy ────────────────────────────────────────────────────────────────

// Occupancy handles GET /api/events/{eventId}/occupancy
// A failed read still answers with the (empty) view so the page can render.
func (h *BookingHandler) Occupancy(w http.ResponseWriter, r *http.Request) {
	occ, err := h.svc.DeriveOccupancy(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("derive occupancy failed", zap.String("event_id", occ.EventID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, occ.View())
		return
	}

	writeJSON(w, http.StatusOK, occ.View())
}

// OccupancyStream handles GET /api/events/{eventId}/occupancy/stream
// Each occupancy change is sent as one server-sent event. The watch ends
// when the client disconnects.
func (h *BookingHandler) OccupancyStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID := chi.URLParam(r, "eventId")
	rc := http.NewResponseController(w)

	// Only the newest view matters; an unread one is replaced.
	updates := make(chan model.OccupancyView, 1)
	emit := func(o model.Occupancy) {
		v := o.View()
		select {
		case <-updates:
		default:
		}
		updates <- v
	}

	unsubscribe, watchErr := h.svc.WatchOccupancy(ctx, eventID, emit)
	if watchErr != nil {
		h.log.Warn("occupancy watch failed", zap.String("event_id", eventID), zap.Error(watchErr))
	}
	defer unsubscribe()

	// The stream outlives the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case v := <-updates:
			if err := writeEvent(w, v); err != nil {
				h.log.Debug("occupancy stream write failed", zap.String("event_id", eventID), zap.Error(err))
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			if watchErr != nil && len(updates) == 0 {
				// The watch never started; nothing more will arrive.
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, v model.OccupancyView) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", raw)
	return err
}

// ─── Bookings ─────────────────────────────────────────────────────────────────

// Book handles POST /api/bookings
// Claims one seat; a lost race answers 409 and the client should refresh.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req model.BookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	participant, err := h.svc.Book(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrSeatOutOfRange):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrCarNotFound):
			writeError(w, http.StatusNotFound, "car not found")
		case errors.Is(err, service.ErrSeatUnavailable):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.log.Error("book seat failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to book seat")
		}
		return
	}

	writeJSON(w, http.StatusCreated, participant)
}

// Cancel handles DELETE /api/bookings/{participantId}
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "participantId")); err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("cancel booking failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel booking")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ─── Page ─────────────────────────────────────────────────────────────────────

type pageOption struct {
	ID       string
	Label    string
	Selected bool
}

type pageData struct {
	Events     []pageOption
	SelectedID string
	Error      string
}

// Index handles GET / and GET /{eventId}
// An eventId naming an existing event pre-selects it; any other value
// renders the page with nothing selected.
func (h *BookingHandler) Index(w http.ResponseWriter, r *http.Request) {
	want := chi.URLParam(r, "eventId")

	var data pageData
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		h.log.Error("list events for page failed", zap.Error(err))
		data.Error = "Events could not be loaded. Please reload the page."
	}
	for i := range events {
		opt := pageOption{ID: events[i].ID, Label: events[i].Label()}
		if want != "" && events[i].ID == want {
			opt.Selected = true
			data.SelectedID = want
		}
		data.Events = append(data.Events, opt)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.page.Execute(w, data); err != nil {
		h.log.Error("render page failed", zap.Error(err))
	}
}

// Static serves the page's assets.
func Static() http.Handler {
	sub, err := fs.Sub(web.FS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServerFS(sub))
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func (h *BookingHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
