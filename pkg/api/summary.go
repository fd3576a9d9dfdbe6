package api

import (
	"net/http"
	"time"

	"github.com/ethpandaops/teamspace/pkg/api/store"
	"golang.org/x/sync/errgroup"
)

// summaryResponse holds the dashboard counters.
type summaryResponse struct {
	Notices        int64 `json:"notices"`
	Projects       int64 `json:"projects"`
	Ideas          int64 `json:"ideas"`
	UpcomingEvents int64 `json:"upcoming_events"`
	Files          int64 `json:"files"`
	Rooms          int64 `json:"rooms"`
}

func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var (
		resp summaryResponse
		now  = time.Now().UTC()
		p    = principal(r)
	)

	g, ctx := errgroup.WithContext(r.Context())

	g.Go(func() (err error) {
		resp.Notices, err = s.store.CountPosts(ctx, store.BoardNotices)

		return err
	})
	g.Go(func() (err error) {
		resp.Projects, err = s.store.CountPosts(ctx, store.BoardProjects)

		return err
	})
	g.Go(func() (err error) {
		resp.Ideas, err = s.store.CountPosts(ctx, store.BoardIdeas)

		return err
	})
	g.Go(func() (err error) {
		resp.UpcomingEvents, err = s.store.CountEventsFrom(ctx, now)

		return err
	})
	g.Go(func() (err error) {
		resp.Rooms, err = s.store.CountRooms(ctx, p.ID())

		return err
	})

	if s.files != nil {
		g.Go(func() (err error) {
			resp.Files, err = s.store.CountFiles(ctx)

			return err
		})
	}

	if err := g.Wait(); err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, resp)
}
