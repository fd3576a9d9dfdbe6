package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethpandaops/teamspace/pkg/api/store"
	"github.com/ethpandaops/teamspace/pkg/auth"
)

const (
	defaultMessageLimit = 100
	maxMessageLimit     = 500
)

type roomRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type membersRequest struct {
	Members []string `json:"members"`
}

type messageRequest struct {
	Body string `json:"body"`
}

func (s *server) roomOwner(id uint) auth.OwnerFunc {
	return func(ctx context.Context) (string, error) {
		room, err := s.store.GetRoom(ctx, id)
		if err != nil {
			return "", err
		}

		return room.OwnerID, nil
	}
}

// roomAccess admits the room's owner and members.
func (s *server) roomAccess(roomID uint) auth.AccessFunc {
	return func(ctx context.Context, p auth.Principal) error {
		return s.canReadRoom(ctx, p, roomID)
	}
}

// canReadRoom reports whether p owns or belongs to the room.
func (s *server) canReadRoom(ctx context.Context, p auth.Principal, roomID uint) error {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	if room.OwnerID == p.ID() {
		return nil
	}

	member, err := s.store.IsRoomMember(ctx, roomID, p.ID())
	if err != nil {
		return err
	}

	if !member {
		return auth.Errorf(auth.KindForbidden, "not a member of this room")
	}

	return nil
}

// memberIDs returns the non-empty ids in order with duplicates removed.
func memberIDs(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}

func (s *server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.ListRooms(r.Context(), principal(r).ID())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, rooms)
}

// handleCreateRoom creates a room owned by the caller. The owner is always a
// member. If the member batch is rejected the room is deleted again.
func (s *server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := required([2]string{"name", req.Name}); err != nil {
		s.writeError(w, r, err)

		return
	}

	var room *store.ChatRoom

	err := s.guard.Do(r.Context(), auth.Requirement{EnsureIdentity: true}, func(ctx context.Context, p auth.Principal) error {
		room = &store.ChatRoom{
			Name:    strings.TrimSpace(req.Name),
			OwnerID: p.ID(),
		}

		if err := s.store.CreateRoom(ctx, room); err != nil {
			return err
		}

		members := memberIDs(append([]string{p.ID()}, req.Members...)...)

		if err := s.store.AddMembers(ctx, room.ID, members); err != nil {
			if derr := s.store.DeleteRoom(context.WithoutCancel(ctx), room.ID); derr != nil {
				s.log.WithError(derr).WithField("room_id", room.ID).
					Error("Failed to remove room after member insert failed")

				return auth.Wrap(auth.KindConsistency, "room left without members", err)
			}

			return err
		}

		return nil
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, room)
}

func (s *server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	err = s.guard.Do(r.Context(), auth.Requirement{
		Owner: s.roomOwner(id),
	}, func(ctx context.Context, _ auth.Principal) error {
		return s.store.DeleteRoom(ctx, id)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := s.canReadRoom(r.Context(), principal(r), id); err != nil {
		s.writeError(w, r, err)

		return
	}

	members, err := s.store.ListMembers(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, members)
}

func (s *server) handleAddMembers(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	var req membersRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	members := memberIDs(req.Members...)
	if len(members) == 0 {
		s.writeError(w, r, auth.Errorf(auth.KindValidation, "members is required"))

		return
	}

	err = s.guard.Do(r.Context(), auth.Requirement{
		Owner:          s.roomOwner(id),
		EnsureIdentity: true,
	}, func(ctx context.Context, _ auth.Principal) error {
		return s.store.AddMembers(ctx, id, members)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	list, err := s.store.ListMembers(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, list)
}

func (s *server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	limit := defaultMessageLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, auth.Errorf(auth.KindValidation, "limit must be a positive integer"))

			return
		}

		limit = min(n, maxMessageLimit)
	}

	if err := s.canReadRoom(r.Context(), principal(r), id); err != nil {
		s.writeError(w, r, err)

		return
	}

	messages, err := s.store.ListMessages(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, messages)
}

func (s *server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	var req messageRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := required([2]string{"body", req.Body}); err != nil {
		s.writeError(w, r, err)

		return
	}

	var msg *store.ChatMessage

	err = s.guard.Do(r.Context(), auth.Requirement{
		Access:         s.roomAccess(id),
		EnsureIdentity: true,
	}, func(ctx context.Context, p auth.Principal) error {
		msg = &store.ChatMessage{
			RoomID:      id,
			AuthorID:    p.ID(),
			AuthorLabel: p.Label(),
			Body:        req.Body,
		}

		return s.store.CreateMessage(ctx, msg)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, msg)
}
