package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ethpandaops/teamspace/pkg/api/store"
	"github.com/ethpandaops/teamspace/pkg/auth"
)

const dateLayout = "2006-01-02"

type eventRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StartsAt    string `json:"starts_at"`
	EndsAt      string `json:"ends_at"`
	AllDay      bool   `json:"all_day"`
}

// parseTime accepts RFC 3339 timestamps and plain dates.
func parseTime(field, value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}

	if t, err := time.Parse(dateLayout, value); err == nil {
		return t.UTC(), nil
	}

	return time.Time{}, auth.Errorf(auth.KindValidation,
		"%s must be an RFC 3339 timestamp or a YYYY-MM-DD date", field)
}

func (req *eventRequest) apply(event *store.CalendarEvent) error {
	if err := required(
		[2]string{"title", req.Title},
		[2]string{"starts_at", req.StartsAt},
	); err != nil {
		return err
	}

	start, err := parseTime("starts_at", req.StartsAt)
	if err != nil {
		return err
	}

	end := start
	if req.EndsAt != "" {
		if end, err = parseTime("ends_at", req.EndsAt); err != nil {
			return err
		}
	}

	if req.AllDay && req.EndsAt == "" {
		end = start.AddDate(0, 0, 1)
	}

	if end.Before(start) {
		return auth.Errorf(auth.KindValidation, "ends_at must not be before starts_at")
	}

	event.Title = strings.TrimSpace(req.Title)
	event.Description = req.Description
	event.StartsAt = start
	event.EndsAt = end
	event.AllDay = req.AllDay

	return nil
}

func (s *server) eventAuthor(id uint) auth.OwnerFunc {
	return func(ctx context.Context) (string, error) {
		event, err := s.store.GetEvent(ctx, id)
		if err != nil {
			return "", err
		}

		return event.AuthorID, nil
	}
}

// handleListEvents lists events overlapping the optional from/to range.
func (s *server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	var from, to time.Time

	query := r.URL.Query()

	if v := query.Get("from"); v != "" {
		t, err := parseTime("from", v)
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		from = t
	}

	if v := query.Get("to"); v != "" {
		t, err := parseTime("to", v)
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		to = t
	}

	events, err := s.store.ListEvents(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (s *server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	event := &store.CalendarEvent{}
	if err := req.apply(event); err != nil {
		s.writeError(w, r, err)

		return
	}

	err := s.guard.Do(r.Context(), auth.Requirement{}, func(ctx context.Context, p auth.Principal) error {
		event.AuthorID = p.ID()
		event.AuthorLabel = p.Label()

		return s.store.CreateEvent(ctx, event)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, event)
}

func (s *server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	var req eventRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	var event *store.CalendarEvent

	err = s.guard.Do(r.Context(), auth.Requirement{
		AuthorOrAdmin: s.eventAuthor(id),
	}, func(ctx context.Context, _ auth.Principal) error {
		var err error

		event, err = s.store.GetEvent(ctx, id)
		if err != nil {
			return err
		}

		if err := req.apply(event); err != nil {
			return err
		}

		return s.store.UpdateEvent(ctx, event)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, event)
}

func (s *server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	err = s.guard.Do(r.Context(), auth.Requirement{
		AuthorOrAdmin: s.eventAuthor(id),
	}, func(ctx context.Context, _ auth.Principal) error {
		return s.store.DeleteEvent(ctx, id)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
