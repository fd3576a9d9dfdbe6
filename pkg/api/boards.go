package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ethpandaops/teamspace/pkg/api/store"
	"github.com/ethpandaops/teamspace/pkg/auth"
	"github.com/go-chi/chi/v5"
)

type postRequest struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Status string `json:"status,omitempty"`
}

type commentRequest struct {
	Body string `json:"body"`
}

type likeResponse struct {
	Liked bool  `json:"liked"`
	Likes int64 `json:"likes"`
}

func boardParam(r *http.Request) (string, error) {
	board := chi.URLParam(r, "board")

	switch board {
	case store.BoardNotices, store.BoardProjects, store.BoardIdeas:
		return board, nil
	default:
		return "", auth.Errorf(auth.KindValidation, "unknown board %q", board)
	}
}

// postAuthor returns an OwnerFunc for a post on board.
func (s *server) postAuthor(board string, id uint) auth.OwnerFunc {
	return func(ctx context.Context) (string, error) {
		post, err := s.store.GetPost(ctx, id)
		if err != nil {
			return "", err
		}

		if post.Board != board {
			return "", store.ErrNotFound
		}

		return post.AuthorID, nil
	}
}

// --- Posts ---

func (s *server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	board, err := boardParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	posts, err := s.store.ListPosts(r.Context(), board)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, posts)
}

func (s *server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	board, err := boardParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	var req postRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := required([2]string{"title", req.Title}); err != nil {
		s.writeError(w, r, err)

		return
	}

	post := &store.BoardPost{
		Board:  board,
		Title:  strings.TrimSpace(req.Title),
		Body:   req.Body,
		Status: req.Status,
	}

	err = s.guard.Do(r.Context(), auth.Requirement{}, func(ctx context.Context, p auth.Principal) error {
		post.AuthorID = p.ID()
		post.AuthorLabel = p.Label()

		return s.store.CreatePost(ctx, post)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, post)
}

func (s *server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	board, err := boardParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	var req postRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := required([2]string{"title", req.Title}); err != nil {
		s.writeError(w, r, err)

		return
	}

	var post *store.BoardPost

	err = s.guard.Do(r.Context(), auth.Requirement{
		AuthorOrAdmin: s.postAuthor(board, id),
	}, func(ctx context.Context, _ auth.Principal) error {
		var err error

		post, err = s.store.GetPost(ctx, id)
		if err != nil {
			return err
		}

		post.Title = strings.TrimSpace(req.Title)
		post.Body = req.Body
		post.Status = req.Status

		return s.store.UpdatePost(ctx, post)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, post)
}

func (s *server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	board, err := boardParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	err = s.guard.Do(r.Context(), auth.Requirement{
		AuthorOrAdmin: s.postAuthor(board, id),
	}, func(ctx context.Context, _ auth.Principal) error {
		return s.store.DeletePost(ctx, id)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Comments ---

func (s *server) handleListComments(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if _, err := s.store.GetPost(r.Context(), id); err != nil {
		s.writeError(w, r, err)

		return
	}

	comments, err := s.store.ListComments(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, comments)
}

// handleCreateComment stores a comment. The author id is a foreign key
// into the identity table, so the guard ensures the row first.
func (s *server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	var req commentRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := required([2]string{"body", req.Body}); err != nil {
		s.writeError(w, r, err)

		return
	}

	comment := &store.Comment{PostID: id, Body: req.Body}

	err = s.guard.Do(r.Context(), auth.Requirement{
		EnsureIdentity: true,
	}, func(ctx context.Context, p auth.Principal) error {
		if _, err := s.store.GetPost(ctx, id); err != nil {
			return err
		}

		comment.AuthorID = p.ID()
		comment.AuthorLabel = p.Label()

		return s.store.CreateComment(ctx, comment)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, comment)
}

func (s *server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	err = s.guard.Do(r.Context(), auth.Requirement{
		AuthorOrAdmin: func(ctx context.Context) (string, error) {
			comment, err := s.store.GetComment(ctx, id)
			if err != nil {
				return "", err
			}

			return comment.AuthorID, nil
		},
	}, func(ctx context.Context, _ auth.Principal) error {
		return s.store.DeleteComment(ctx, id)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Likes ---

// handleToggleLike likes or unlikes a post for the caller.
func (s *server) handleToggleLike(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	var resp likeResponse

	err = s.guard.Do(r.Context(), auth.Requirement{
		EnsureIdentity: true,
	}, func(ctx context.Context, p auth.Principal) error {
		if _, err := s.store.GetPost(ctx, id); err != nil {
			return err
		}

		liked, err := s.store.ToggleLike(ctx, id, p.ID())
		if err != nil {
			return err
		}

		likes, err := s.store.CountLikes(ctx, id)
		if err != nil {
			return err
		}

		resp = likeResponse{Liked: liked, Likes: likes}

		return nil
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, resp)
}
