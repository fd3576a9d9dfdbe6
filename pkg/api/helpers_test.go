package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/teamspace/pkg/auth"
	"github.com/ethpandaops/teamspace/pkg/config"
)

const (
	testSessionSecret = "test-session-secret"
	testAdminPassword = "admin-pass"
	testAdminEmail    = "boss@example.com"
	testAccountURL    = "https://idp.example/account"
)

// fakeFederation stands in for the hosted identity provider. The raw ID
// token is an opaque key into sessions.
type fakeFederation struct {
	mu        sync.Mutex
	sessions  map[string]auth.FederatedSession
	passwords map[string]string
}

var _ federatedAuthenticator = (*fakeFederation)(nil)

func newFakeFederation() *fakeFederation {
	return &fakeFederation{
		sessions:  make(map[string]auth.FederatedSession),
		passwords: make(map[string]string),
	}
}

// addUser registers a provider account and returns its raw token.
func (f *fakeFederation) addUser(subject, email, pw string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw := "idtoken-" + subject
	f.sessions[raw] = auth.FederatedSession{
		Subject:   subject,
		Email:     email,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	f.passwords[email] = pw

	return raw
}

func (f *fakeFederation) Session(_ context.Context, r *http.Request) (*auth.FederatedSession, error) {
	cookie, err := r.Cookie(auth.FederatedSessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[cookie.Value]
	if !ok {
		return nil, fmt.Errorf("unknown id token")
	}

	return &session, nil
}

func (f *fakeFederation) AuthCodeURL(state, nonce string) string {
	return "https://idp.example/authorize?" + url.Values{
		"state": {state},
		"nonce": {nonce},
	}.Encode()
}

func (f *fakeFederation) Exchange(_ context.Context, code, _ string) (*auth.FederatedLogin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[code]
	if !ok {
		return nil, auth.Errorf(auth.KindUpstream, "unknown authorization code")
	}

	return &auth.FederatedLogin{RawIDToken: code, Session: session}, nil
}

func (f *fakeFederation) PasswordLogin(_ context.Context, email, pw string) (*auth.FederatedLogin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if want, ok := f.passwords[email]; !ok || want != pw {
		return nil, auth.ErrBadCredentials
	}

	for raw, session := range f.sessions {
		if session.Email == email {
			return &auth.FederatedLogin{RawIDToken: raw, Session: session}, nil
		}
	}

	return nil, auth.ErrBadCredentials
}

type testEnv struct {
	srv *server
	ts  *httptest.Server
	fed *fakeFederation
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()

	return &config.Config{
		Global: config.GlobalConfig{LogLevel: "info", Environment: "test"},
		API: config.APIConfig{
			Server: config.APIServerConfig{Listen: "127.0.0.1:0"},
			Auth: config.APIAuthConfig{
				SessionSecret: testSessionSecret,
				AdminEmail:    testAdminEmail,
				Local: config.LocalAuthConfig{
					Enabled:       true,
					AllowSignup:   true,
					AdminPassword: testAdminPassword,
				},
				Federated: config.FederatedAuthConfig{
					PasswordGrant: true,
					AccountURL:    testAccountURL,
				},
			},
			Database: config.APIDatabaseConfig{
				Driver: "sqlite",
				SQLite: config.SQLiteDatabaseConfig{Path: filepath.Join(dir, "teamspace.db")},
			},
			Storage: config.APIStorageConfig{
				MaxUploadSize: "1KB",
				Local: &config.APILocalStorageConfig{
					Enabled: true,
					Root:    filepath.Join(dir, "files"),
				},
			},
		},
	}
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig(t)
	for _, fn := range mutate {
		fn(cfg)
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	fed := newFakeFederation()

	srv := newServer(log, cfg)
	srv.federation = fed

	require.NoError(t, srv.init(context.Background()))

	ts := httptest.NewServer(srv.buildRouter())

	t.Cleanup(func() {
		ts.Close()
		_ = srv.store.Stop()
	})

	return &testEnv{srv: srv, ts: ts, fed: fed}
}

// client is a cookie-keeping HTTP client that does not follow redirects.
type client struct {
	t    *testing.T
	env  *testEnv
	http *http.Client
}

func (e *testEnv) newClient(t *testing.T) *client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &client{
		t:   t,
		env: e,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()

	require.NoError(t, json.Unmarshal(r.body, v), "body: %s", r.body)
}

func (r response) errorBody(t *testing.T) errorResponse {
	t.Helper()

	var out errorResponse
	r.decode(t, &out)

	return out
}

func (c *client) send(req *http.Request) response {
	c.t.Helper()

	resp, err := c.http.Do(req)
	require.NoError(c.t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)

	return response{status: resp.StatusCode, header: resp.Header, body: body}
}

func (c *client) do(method, path string, body any) response {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)

		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.env.ts.URL+path, reader)
	require.NoError(c.t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req)
}

func (c *client) form(path string, values url.Values) response {
	c.t.Helper()

	req, err := http.NewRequest(http.MethodPost, c.env.ts.URL+path, strings.NewReader(values.Encode()))
	require.NoError(c.t, err)

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.send(req)
}

func (c *client) cookie(name string) string {
	u, err := url.Parse(c.env.ts.URL)
	require.NoError(c.t, err)

	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}

	return ""
}

// signup creates a local account and returns the signed-in client and its
// principal.
func (e *testEnv) signup(t *testing.T, username, pw string) (*client, principalResponse) {
	t.Helper()

	c := e.newClient(t)

	resp := c.do(http.MethodPost, "/api/v1/auth/local/signup", map[string]string{
		"username": username,
		"password": pw,
	})
	require.Equal(t, http.StatusCreated, resp.status, "body: %s", resp.body)

	var p principalResponse
	resp.decode(t, &p)

	return c, p
}

func (e *testEnv) loginAdmin(t *testing.T) (*client, principalResponse) {
	t.Helper()

	c := e.newClient(t)

	resp := c.do(http.MethodPost, "/api/v1/auth/local/login", map[string]string{
		"username": auth.ReservedAdminUsername,
		"password": testAdminPassword,
	})
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)

	var p principalResponse
	resp.decode(t, &p)

	return c, p
}

// federatedLogin registers a provider account and signs in with the
// password grant.
func (e *testEnv) federatedLogin(t *testing.T, subject, email string) (*client, principalResponse) {
	t.Helper()

	e.fed.addUser(subject, email, "provider-pass")

	c := e.newClient(t)

	resp := c.do(http.MethodPost, "/api/v1/auth/federated/login", map[string]string{
		"email":    email,
		"password": "provider-pass",
	})
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)

	var p principalResponse
	resp.decode(t, &p)

	return c, p
}
