package api

import (
	"context"
	"net/http"

	"github.com/ethpandaops/teamspace/pkg/api/store"
	"github.com/ethpandaops/teamspace/pkg/auth"
)

type pushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type pushSubscriptionRequest struct {
	Endpoint string   `json:"endpoint"`
	Keys     pushKeys `json:"keys"`
}

// handleSubscribePush registers a browser push endpoint for the caller.
// Re-registering an endpoint moves it to the caller and refreshes its keys.
func (s *server) handleSubscribePush(w http.ResponseWriter, r *http.Request) {
	var req pushSubscriptionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := required(
		[2]string{"endpoint", req.Endpoint},
		[2]string{"keys.p256dh", req.Keys.P256dh},
		[2]string{"keys.auth", req.Keys.Auth},
	); err != nil {
		s.writeError(w, r, err)

		return
	}

	sub := &store.PushSubscription{
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}

	err := s.guard.Do(r.Context(), auth.Requirement{}, func(ctx context.Context, p auth.Principal) error {
		sub.PrincipalID = p.ID()

		return s.store.UpsertPushSubscription(ctx, sub)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

func (s *server) handleUnsubscribePush(w http.ResponseWriter, r *http.Request) {
	var req pushSubscriptionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := required([2]string{"endpoint", req.Endpoint}); err != nil {
		s.writeError(w, r, err)

		return
	}

	err := s.guard.Do(r.Context(), auth.Requirement{}, func(ctx context.Context, p auth.Principal) error {
		return s.store.DeletePushSubscription(ctx, req.Endpoint, p.ID())
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
