package playlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recipeflow/internal/config"
)

const searchBody = `{"tracks": {"items": [
	{"name": "Riders on the Storm", "artists": [{"name": "The Doors"}], "external_urls": {"spotify": "https://open.spotify.com/track/1"}},
	{"name": "Untitled", "artists": [], "external_urls": {"spotify": "https://open.spotify.com/track/2"}}
]}}`

type fakeSpotify struct {
	*httptest.Server
	tokenRequests atomic.Int32
	lastQuery     atomic.Value
	searchStatus  int
}

func newFakeSpotify(t *testing.T) *fakeSpotify {
	t.Helper()
	f := &fakeSpotify{searchStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenRequests.Add(1)
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client-id" || secret != "client-secret" {
			http.Error(w, `{"error": "invalid_client"}`, http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			http.Error(w, `{"error": "unsupported_grant_type"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "app-token", "token_type": "bearer", "expires_in": 3600}`))
	})
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer app-token" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		f.lastQuery.Store(r.URL.Query())
		if f.searchStatus != http.StatusOK {
			http.Error(w, "rate limited", f.searchStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchBody))
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeSpotify) config() config.PlaylistConfig {
	return config.PlaylistConfig{
		ClientID:     "client-id",
		ClientSecret: config.Secret("client-secret"),
		TokenURL:     f.URL + "/api/token",
		APIURL:       f.URL + "/v1/",
		Timeout:      config.Duration(5 * time.Second),
	}
}

func TestNewSpotify_RequiresCredentials(t *testing.T) {
	_, err := NewSpotify(context.Background(), config.PlaylistConfig{ClientID: "only-id"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestSpotify_Search(t *testing.T) {
	f := newFakeSpotify(t)
	s, err := NewSpotify(context.Background(), f.config())
	require.NoError(t, err)

	songs, err := s.Search(context.Background(), "lo-fi, rainy day", 2)
	require.NoError(t, err)
	require.Len(t, songs, 2)
	assert.Equal(t, Song{Title: "Riders on the Storm", Artist: "The Doors", URL: "https://open.spotify.com/track/1"}, songs[0])
	assert.Equal(t, unknownArtist, songs[1].Artist)

	q := f.lastQuery.Load().(url.Values)
	assert.Equal(t, []string{"lo-fi, rainy day"}, q["q"])
	assert.Equal(t, []string{"track"}, q["type"])
	assert.Equal(t, []string{"2"}, q["limit"])

	_, err = s.Search(context.Background(), "jazz", 0)
	require.NoError(t, err)
	q = f.lastQuery.Load().(url.Values)
	assert.Equal(t, []string{"15"}, q["limit"], "out of range limits use the default")
	assert.Equal(t, int32(1), f.tokenRequests.Load(), "the token is reused")
}

func TestSpotify_SearchError(t *testing.T) {
	f := newFakeSpotify(t)
	f.searchStatus = http.StatusTooManyRequests
	s, err := NewSpotify(context.Background(), f.config())
	require.NoError(t, err)

	_, err = s.Search(context.Background(), "rain", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spotify search error: 429 rate limited")
}

func TestSpotify_BadCredentials(t *testing.T) {
	f := newFakeSpotify(t)
	cfg := f.config()
	cfg.ClientSecret = config.Secret("wrong")
	s, err := NewSpotify(context.Background(), cfg)
	require.NoError(t, err)

	_, err = s.Search(context.Background(), "rain", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_client")
}
