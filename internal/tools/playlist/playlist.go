// Package playlist builds a short, explained playlist for a mood ("vibe").
//
// The agent asks the generator for search keywords, looks tracks up through
// a Searcher (Spotify in production), then asks the generator for a one-line
// reason per track.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recipeflow/internal/generator"
	"github.com/fyrsmithlabs/recipeflow/internal/logging"
)

const (
	// DefaultLimit is the number of tracks requested per search.
	DefaultLimit = 15

	// NoExplanation pads songs the generator gave no reason for.
	NoExplanation = "No explanation provided."

	maxQueryLength = 100
	maxQueryWords  = 10
)

// Error payload messages.
const (
	MissingVibeMessage = "Missing 'vibe' parameter."
	FailedMessage      = "Something went wrong while generating the playlist."
)

var (
	ErrMissingVibe = errors.New("missing vibe")
	ErrEmptyQuery  = errors.New("generator returned no search keywords")
)

var numberedLine = regexp.MustCompile(`^\d+\.\s+`)

// Song is one track.
type Song struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	URL    string `json:"url"`
	Reason string `json:"reason,omitempty"`
}

// Playlist is the agent's result.
type Playlist struct {
	Title string `json:"title"`
	Vibe  string `json:"vibe"`
	Query string `json:"query"`
	Songs []Song `json:"songs"`
}

// Response is what entry points hand back: either a playlist or an error
// message with optional details.
type Response struct {
	*Playlist
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// Searcher finds tracks for a keyword query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Song, error)
}

// Agent builds playlists.
type Agent struct {
	gen      generator.Generator
	search   Searcher
	logger   *logging.Logger
	limit    int
	callOpts []generator.CallOption
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithLimit sets the number of tracks requested. Values < 1 are ignored.
func WithLimit(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.limit = n
		}
	}
}

// WithModel overrides the generator model for both prompts.
func WithModel(model string) Option {
	return func(a *Agent) {
		if model != "" {
			a.callOpts = append(a.callOpts, generator.WithModel(model))
		}
	}
}

// New creates an Agent.
func New(gen generator.Generator, search Searcher, opts ...Option) (*Agent, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if search == nil {
		return nil, errors.New("searcher is required")
	}
	a := &Agent{
		gen:    gen,
		search: search,
		logger: logging.NewNop(),
		limit:  DefaultLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Build runs keywords, search and explanation for vibe.
func (a *Agent) Build(ctx context.Context, vibe string) (Playlist, error) {
	vibe = strings.TrimSpace(vibe)
	if vibe == "" {
		return Playlist{}, ErrMissingVibe
	}

	query, err := a.keywords(ctx, vibe)
	if err != nil {
		return Playlist{}, err
	}

	songs, err := a.search.Search(ctx, query, a.limit)
	if err != nil {
		return Playlist{}, fmt.Errorf("search songs: %w", err)
	}
	a.logger.Info(ctx, "songs found",
		zap.String("vibe", vibe),
		zap.String("query", query),
		zap.Int("count", len(songs)))

	if len(songs) > 0 {
		songs, err = a.explain(ctx, vibe, songs)
		if err != nil {
			return Playlist{}, err
		}
	}

	return Playlist{
		Title: "Playlist for: " + vibe,
		Vibe:  vibe,
		Query: query,
		Songs: songs,
	}, nil
}

// Respond is Build with failures folded into the response payload.
func (a *Agent) Respond(ctx context.Context, vibe string) Response {
	p, err := a.Build(ctx, vibe)
	switch {
	case errors.Is(err, ErrMissingVibe):
		return Response{Error: MissingVibeMessage}
	case err != nil:
		a.logger.Warn(ctx, "playlist failed", zap.String("vibe", vibe), zap.Error(err))
		return Response{Error: FailedMessage, Details: err.Error()}
	}
	return Response{Playlist: &p}
}

func (a *Agent) keywords(ctx context.Context, vibe string) (string, error) {
	prompt := fmt.Sprintf("Return a short, comma-separated list (max 5 items) of music keywords, genres, or moods to search Spotify for the vibe: %q. Do not explain.", vibe)
	text, err := a.gen.GenerateText(ctx, prompt, a.callOpts...)
	if err != nil {
		return "", fmt.Errorf("generate keywords: %w", err)
	}
	query := shortenQuery(strings.TrimSpace(text))
	if query == "" {
		return "", ErrEmptyQuery
	}
	return query, nil
}

// shortenQuery keeps the first words of an overlong query.
func shortenQuery(q string) string {
	if len(q) <= maxQueryLength {
		return q
	}
	words := strings.Fields(q)
	if len(words) > maxQueryWords {
		words = words[:maxQueryWords]
	}
	return strings.Join(words, " ")
}

func (a *Agent) explain(ctx context.Context, vibe string, songs []Song) ([]Song, error) {
	text, err := a.gen.GenerateText(ctx, explainPrompt(vibe, songs), a.callOpts...)
	if err != nil {
		return nil, fmt.Errorf("explain songs: %w", err)
	}
	reasons := parseReasons(text, len(songs))

	out := make([]Song, len(songs))
	for i, s := range songs {
		s.Reason = reasons[i]
		out[i] = s
	}
	return out, nil
}

func explainPrompt(vibe string, songs []Song) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a music curator. For each of the songs below, explain in 1-2 sentences why it fits the mood: %q.\n\nSongs:\n", vibe)
	for i, s := range songs {
		fmt.Fprintf(&b, "%d. %q - %s\n", i+1, s.Title, s.Artist)
	}
	fmt.Fprintf(&b, "\nReturn exactly %d lines. Each line must start with a number (e.g., \"1. ...\") and be a standalone reason. "+
		"Do not include any introduction, summary, or commentary. Only the numbered reasons.", len(songs))
	return b.String()
}

// parseReasons takes the numbered lines of text in order and pads the
// result to n entries. Numbering is positional; the numbers themselves are
// not matched to songs.
func parseReasons(text string, n int) []string {
	reasons := make([]string, 0, n)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !numberedLine.MatchString(line) {
			continue
		}
		if len(reasons) == n {
			break
		}
		reason := strings.TrimSpace(numberedLine.ReplaceAllString(line, ""))
		if reason == "" {
			reason = NoExplanation
		}
		reasons = append(reasons, reason)
	}
	for len(reasons) < n {
		reasons = append(reasons, NoExplanation)
	}
	return reasons
}
