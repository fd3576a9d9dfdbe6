package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/teamspace/pkg/api/storage"
	"github.com/ethpandaops/teamspace/pkg/api/store"
	"github.com/ethpandaops/teamspace/pkg/auth"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   auth.Kind
		wantMsg    string
	}{
		{
			name:       "unauthorized",
			err:        auth.ErrUnauthorized,
			wantStatus: http.StatusUnauthorized,
			wantKind:   auth.KindUnauthorized,
			wantMsg:    auth.ErrUnauthorized.Message,
		},
		{
			name:       "forbidden keeps its message",
			err:        auth.Errorf(auth.KindForbidden, "not yours"),
			wantStatus: http.StatusForbidden,
			wantKind:   auth.KindForbidden,
			wantMsg:    "not yours",
		},
		{
			name:       "bad credentials are generic",
			err:        auth.Errorf(auth.KindBadCredentials, "no such user alice"),
			wantStatus: http.StatusUnauthorized,
			wantKind:   auth.KindBadCredentials,
			wantMsg:    auth.ErrBadCredentials.Message,
		},
		{
			name:       "consistency hides the cause",
			err:        auth.Wrap(auth.KindConsistency, "inserting identity row", errors.New("disk I/O error")),
			wantStatus: http.StatusInternalServerError,
			wantKind:   auth.KindConsistency,
			wantMsg:    auth.ErrConsistency.Message,
		},
		{
			name:       "wrapped store not found",
			err:        fmt.Errorf("loading post: %w", store.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantMsg:    "not found",
		},
		{
			name:       "storage not found",
			err:        storage.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantMsg:    "not found",
		},
		{
			name:       "conflict",
			err:        store.ErrConflict,
			wantStatus: http.StatusConflict,
			wantMsg:    "already exists",
		},
		{
			name:       "invalid reference",
			err:        store.ErrInvalidReference,
			wantStatus: http.StatusBadRequest,
			wantKind:   auth.KindValidation,
			wantMsg:    "referenced user does not exist",
		},
		{
			name:       "unknown error",
			err:        errors.New("connection refused"),
			wantStatus: http.StatusBadGateway,
			wantKind:   auth.KindUpstream,
			wantMsg:    auth.ErrUpstream.Message,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind, msg := classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}
}

func TestIsFormRequest(t *testing.T) {
	for ct, want := range map[string]bool{
		"application/x-www-form-urlencoded":                true,
		"application/x-www-form-urlencoded; charset=UTF-8": true,
		"application/json":                                 false,
		"multipart/form-data; boundary=x":                  false,
		"":                                                 false,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Content-Type", ct)

		assert.Equal(t, want, isFormRequest(req), ct)
	}
}

func TestDecodeRequest(t *testing.T) {
	t.Run("form fields match json tags", func(t *testing.T) {
		body := url.Values{
			"username":      {"alice"},
			"password":      {"p@ss1"},
			"contact_email": {"alice@example.com"},
		}.Encode()

		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		var got credentialsRequest
		require.NoError(t, decodeRequest(httptest.NewRecorder(), req, &got))
		assert.Equal(t, credentialsRequest{
			Username:     "alice",
			Password:     "p@ss1",
			ContactEmail: "alice@example.com",
		}, got)
	})

	t.Run("form booleans are weakly typed", func(t *testing.T) {
		body := url.Values{"title": {"Offsite"}, "all_day": {"true"}}.Encode()

		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		var got eventRequest
		require.NoError(t, decodeRequest(httptest.NewRecorder(), req, &got))
		assert.True(t, got.AllDay)
		assert.Equal(t, "Offsite", got.Title)
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")

		var got credentialsRequest
		err := decodeRequest(httptest.NewRecorder(), req, &got)
		require.Error(t, err)
		assert.Equal(t, auth.KindValidation, auth.KindOf(err))
	})
}

func TestRequired(t *testing.T) {
	require.NoError(t, required([2]string{"a", "x"}, [2]string{"b", "y"}))

	err := required([2]string{"a", "x"}, [2]string{"b", "   "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b is required")
}
