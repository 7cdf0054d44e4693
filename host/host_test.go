package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-spawn/internal/testutil/testlog"
	"go-spawn/spawn"
)

var secret = []byte("test-secret")

func greetScripts() *spawn.Registry {
	return spawn.NewRegistry().Register("/lib/greet.js", func(ep *spawn.Endpoint) {
		ep.On("greet", func(p spawn.Payload, respond spawn.Responder) {
			var name string
			_ = p.Decode(&name)
			respond("Hello, " + name + "!")
		})
	})
}

func newTestHost(t *testing.T, key []byte) (*Host, *httptest.Server) {
	t.Helper()
	h := New(Config{Loader: greetScripts(), Secret: key, Logger: testlog.Start(t)})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return h, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func open(t *testing.T, url string, header http.Header) (*spawn.Endpoint, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ep, err := spawn.New(ctx, spawn.Script("/lib/greet.js"),
		spawn.WithLauncher(&spawn.WebSocketLauncher{URL: url, Header: header}),
		spawn.WithLogger(testlog.Start(t)),
	)
	if err == nil {
		t.Cleanup(func() { ep.Close() })
	}
	return ep, err
}

func greet(t *testing.T, ep *spawn.Endpoint, name string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ack, err := ep.Request(ctx, "greet", name)
	require.NoError(t, err)
	var s string
	require.NoError(t, ack.Decode(&s))
	return s
}

func TestHostServesContexts(t *testing.T) {
	h, srv := newTestHost(t, nil)

	ep, err := open(t, wsURL(srv), nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello, Kevin!", greet(t, ep, "Kevin"))
	waitActive(t, h, 1)

	require.NoError(t, ep.Close())
	waitActive(t, h, 0)
}

func waitActive(t *testing.T, h *Host, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Active() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHostRequiresToken(t *testing.T) {
	_, srv := newTestHost(t, secret)

	_, err := open(t, wsURL(srv), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")

	forged, err := SignToken([]byte("other"), "mallory", time.Minute)
	require.NoError(t, err)
	_, err = open(t, wsURL(srv), http.Header{"Authorization": {"Bearer " + forged}})
	assert.Error(t, err)
}

func TestHostAcceptsBearerToken(t *testing.T) {
	_, srv := newTestHost(t, secret)

	token, err := SignToken(secret, "alice", time.Minute)
	require.NoError(t, err)

	ep, err := open(t, wsURL(srv), http.Header{"Authorization": {"Bearer " + token}})
	require.NoError(t, err)
	assert.Equal(t, "Hello, alice!", greet(t, ep, "alice"))
}

func TestHostAcceptsQueryToken(t *testing.T) {
	_, srv := newTestHost(t, secret)

	token, err := SignToken(secret, "bob", time.Minute)
	require.NoError(t, err)

	ep, err := open(t, wsURL(srv)+"?token="+token, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello, bob!", greet(t, ep, "bob"))
}

func TestAuthenticate(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	subject, err := authenticate(r, nil)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", subject)

	expired, err := SignToken(secret, "carol", -time.Minute)
	require.NoError(t, err)
	r.Header.Set("Authorization", "Bearer "+expired)
	_, err = authenticate(r, secret)
	assert.ErrorIs(t, err, errUnauthenticated)

	valid, err := SignToken(secret, "carol", time.Minute)
	require.NoError(t, err)
	r.Header.Set("Authorization", "Bearer "+valid)
	subject, err = authenticate(r, secret)
	require.NoError(t, err)
	assert.Equal(t, "carol", subject)
}

func TestHostShutdown(t *testing.T) {
	h, srv := newTestHost(t, nil)

	ep, err := open(t, wsURL(srv), nil)
	require.NoError(t, err)
	greet(t, ep, "x")
	waitActive(t, h, 1)

	h.Shutdown()

	select {
	case <-ep.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("controller not closed by host shutdown")
	}

	_, err = open(t, wsURL(srv), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestHealthHandler(t *testing.T) {
	h, srv := newTestHost(t, nil)

	ep, err := open(t, wsURL(srv), nil)
	require.NoError(t, err)
	greet(t, ep, "x")
	waitActive(t, h, 1)

	rec := httptest.NewRecorder()
	h.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, Health{Active: 1}, body)
}
