package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/ethpandaops/teamspace/pkg/api/store"
	"github.com/ethpandaops/teamspace/pkg/auth"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	uploadFormField    = "file"
	fileKeyPrefix      = "files/"
	multipartMemoryMax = 8 << 20
)

type fileURLResponse struct {
	URL string `json:"url"`
}

func (s *server) fileAuthor(id string) auth.OwnerFunc {
	return func(ctx context.Context) (string, error) {
		file, err := s.store.GetFile(ctx, id)
		if err != nil {
			return "", err
		}

		return file.AuthorID, nil
	}
}

func (s *server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.ListFiles(r.Context())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, files)
}

// handleUploadFile stores a multipart upload in the blob backend and records
// its metadata. The blob is removed again if the metadata insert fails.
func (s *server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUploadBytes {
		s.writeTooLarge(w)

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemoryMax); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeTooLarge(w)

			return
		}

		s.writeError(w, r, auth.Wrap(auth.KindValidation, "invalid multipart body", err))

		return
	}

	defer func() { _ = r.MultipartForm.RemoveAll() }()

	part, header, err := r.FormFile(uploadFormField)
	if err != nil {
		s.writeError(w, r, auth.Errorf(auth.KindValidation, "%s field is required", uploadFormField))

		return
	}
	defer part.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	file := &store.FileObject{
		Name:        path.Base(header.Filename),
		ContentType: contentType,
		Size:        header.Size,
		Key:         fileKeyPrefix + uuid.New().String(),
	}

	err = s.guard.Do(r.Context(), auth.Requirement{EnsureIdentity: true}, func(ctx context.Context, p auth.Principal) error {
		file.AuthorID = p.ID()
		file.AuthorLabel = p.Label()

		if err := s.files.Put(ctx, file.Key, part, file.Size, file.ContentType); err != nil {
			return auth.Wrap(auth.KindUpstream, "storing file", err)
		}

		if err := s.store.CreateFile(ctx, file); err != nil {
			if derr := s.files.Delete(context.WithoutCancel(ctx), file.Key); derr != nil {
				s.log.WithError(derr).WithField("key", file.Key).
					Warn("Failed to remove orphaned blob")
			}

			return err
		}

		return nil
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, file)
}

func (s *server) writeTooLarge(w http.ResponseWriter) {
	writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
		Error: fmt.Sprintf("upload exceeds the %d byte limit", s.maxUploadBytes),
		Kind:  string(auth.KindValidation),
	})
}

// handleDownloadFile redirects to a presigned URL when the backend offers
// one and streams the content otherwise. With ?redirect=false the URL is
// returned as JSON instead.
func (s *server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	file, err := s.store.GetFile(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	url, err := s.files.URL(r.Context(), file.Key)
	if err != nil {
		s.writeError(w, r, auth.Wrap(auth.KindUpstream, "presigning file", err))

		return
	}

	if url != "" {
		if r.URL.Query().Get("redirect") == "false" {
			writeJSON(w, http.StatusOK, fileURLResponse{URL: url})

			return
		}

		http.Redirect(w, r, url, http.StatusFound)

		return
	}

	body, err := s.files.Open(r.Context(), file.Key)
	if err != nil {
		s.writeError(w, r, err)

		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		s.log.WithError(err).WithField("file_id", file.ID).Debug("Download interrupted")
	}
}

func (s *server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var key string

	err := s.guard.Do(r.Context(), auth.Requirement{
		AuthorOrAdmin: s.fileAuthor(id),
	}, func(ctx context.Context, _ auth.Principal) error {
		file, err := s.store.GetFile(ctx, id)
		if err != nil {
			return err
		}

		key = file.Key

		return s.store.DeleteFile(ctx, id)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := s.files.Delete(r.Context(), key); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("Failed to remove file blob")
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
