package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/internal/watch"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestClient(t *testing.T, handler http.Handler, token string) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{
		URL:     srv.URL,
		Tokens:  staticToken(token),
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return client, srv
}

func TestClient_Login(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/", r.URL.Path)

		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "alice", creds["username"])
		assert.Equal(t, "hunter2", creds["password"])

		json.NewEncoder(w).Encode(map[string]string{"token": "tok-abc"})
	})

	client, _ := newTestClient(t, handler, "")
	token, err := client.Login(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", token)
}

func TestClient_LoginRejected(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid credentials"}`, http.StatusBadRequest)
	})

	client, _ := newTestClient(t, handler, "")
	_, err := client.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Status)
}

func TestClient_FetchUserSendsToken(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token tok-abc", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]User{{ID: 1, Username: "alice", IsStaff: true}})
	})

	client, _ := newTestClient(t, handler, "tok-abc")
	user, err := client.FetchUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)
	assert.True(t, user.IsStaff)
}

func TestClient_FetchUserEmptyMeansNoUser(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]User{})
	})

	client, _ := newTestClient(t, handler, "tok")
	user, err := client.FetchUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestClient_FetchUserUnauthorized(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid token"}`, http.StatusUnauthorized)
	})

	client, _ := newTestClient(t, handler, "stale")
	_, err := client.FetchUser(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestClient_FetchWatchFullIsReplaceMode(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/watch-movie/", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("date_updated__gte"))
		json.NewEncoder(w).Encode([]watch.Movie{{ID: 1}})
	})

	client, _ := newTestClient(t, handler, "tok")
	raw, mode, err := client.FetchWatch(context.Background(), watch.KindMovie, nil)
	require.NoError(t, err)
	assert.Equal(t, watch.Replace, mode)
	assert.NotEmpty(t, raw)
}

func TestClient_FetchWatchSinceIsMergeMode(t *testing.T) {
	since := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/watch-tv-episode/", r.URL.Path)
		assert.Equal(t, since.Format(time.RFC3339), r.URL.Query().Get("date_updated__gte"))
		json.NewEncoder(w).Encode([]watch.TVEpisode{})
	})

	client, _ := newTestClient(t, handler, "tok")
	_, mode, err := client.FetchWatch(context.Background(), watch.KindTVEpisode, &since)
	require.NoError(t, err)
	assert.Equal(t, watch.Merge, mode)
}

func TestClient_RemoveWatch(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/watch-tv-season-request/7/", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	client, _ := newTestClient(t, handler, "tok")
	err := client.RemoveWatch(context.Background(), watch.KindTVSeasonRequest, 7)
	require.NoError(t, err)
}

func TestClient_BlacklistRetryPath(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/watch-movie/3/blacklist-auto-retry/", r.URL.Path)
		json.NewEncoder(w).Encode(watch.Movie{ID: 3, TransmissionTorrentHash: "new-hash"})
	})

	client, _ := newTestClient(t, handler, "tok")
	raw, err := client.BlacklistRetry(context.Background(), watch.KindMovie, 3)
	require.NoError(t, err)

	var movie watch.Movie
	require.NoError(t, json.Unmarshal(raw, &movie))
	assert.Equal(t, "new-hash", movie.TransmissionTorrentHash)
}

func TestClient_FetchSettingsSingleton(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Settings{{ID: 1, IsDebug: true, WebsocketURL: "http://backend/ws"}})
	})

	client, _ := newTestClient(t, handler, "tok")
	settings, err := client.FetchSettings(context.Background())
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.True(t, settings.IsDebug)
	assert.Equal(t, "http://backend/ws", settings.WebsocketURL)
}
