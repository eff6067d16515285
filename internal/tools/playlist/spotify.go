package playlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fyrsmithlabs/recipeflow/internal/config"
)

// ErrMissingCredentials is returned when no Spotify client credentials are configured.
var ErrMissingCredentials = errors.New("missing Spotify client id or client secret")

const (
	maxSearchLimit = 50
	maxErrorBody   = 4096
	unknownArtist  = "Unknown"
)

// Spotify searches the Spotify Web API with an app-only (client
// credentials) token.
type Spotify struct {
	client *http.Client
	apiURL string
}

var _ Searcher = (*Spotify)(nil)

// NewSpotify creates a Spotify searcher from cfg. Tokens are fetched on
// first use and refreshed when they expire.
func NewSpotify(ctx context.Context, cfg config.PlaylistConfig) (*Spotify, error) {
	if cfg.ClientID == "" || !cfg.ClientSecret.IsSet() {
		return nil, ErrMissingCredentials
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret.Value(),
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	client := cc.Client(ctx)
	client.Timeout = cfg.Timeout.Duration()

	return &Spotify{
		client: client,
		apiURL: strings.TrimSuffix(cfg.APIURL, "/"),
	}, nil
}

type searchResponse struct {
	Tracks struct {
		Items []struct {
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
			ExternalURLs struct {
				Spotify string `json:"spotify"`
			} `json:"external_urls"`
		} `json:"items"`
	} `json:"tracks"`
}

// Search returns up to limit tracks matching query.
func (s *Spotify) Search(ctx context.Context, query string, limit int) ([]Song, error) {
	if limit < 1 || limit > maxSearchLimit {
		limit = DefaultLimit
	}
	params := url.Values{
		"q":     {query},
		"type":  {"track"},
		"limit": {strconv.Itoa(limit)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("spotify search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("spotify search error: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var data searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	songs := make([]Song, 0, len(data.Tracks.Items))
	for _, item := range data.Tracks.Items {
		artist := unknownArtist
		if len(item.Artists) > 0 && item.Artists[0].Name != "" {
			artist = item.Artists[0].Name
		}
		songs = append(songs, Song{
			Title:  item.Name,
			Artist: artist,
			URL:    item.ExternalURLs.Spotify,
		})
	}
	return songs, nil
}
