package playlist

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recipeflow/internal/extraction"
	"github.com/fyrsmithlabs/recipeflow/internal/generator"
	"github.com/fyrsmithlabs/recipeflow/internal/generator/generatortest"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
)

type fakeSearcher struct {
	songs []Song
	err   error
	query string
	limit int
}

func (f *fakeSearcher) Search(_ context.Context, query string, limit int) ([]Song, error) {
	f.query = query
	f.limit = limit
	return f.songs, f.err
}

var rainySongs = []Song{
	{Title: "Riders on the Storm", Artist: "The Doors", URL: "https://open.spotify.com/track/1"},
	{Title: "Set Fire to the Rain", Artist: "Adele", URL: "https://open.spotify.com/track/2"},
	{Title: "Purple Rain", Artist: "Prince", URL: "https://open.spotify.com/track/3"},
}

func newAgent(t *testing.T, gen generator.Generator, s Searcher, opts ...Option) *Agent {
	t.Helper()
	a, err := New(gen, s, opts...)
	require.NoError(t, err)
	return a
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, &fakeSearcher{})
	assert.ErrorContains(t, err, "generator is required")

	_, err = New(generatortest.Texts(), nil)
	assert.ErrorContains(t, err, "searcher is required")
}

func TestBuild(t *testing.T) {
	gen := generatortest.Texts(
		"  lo-fi, rainy day, mellow  \n",
		"Here you go:\n1. Thunder and a slow groove.\n2.   Heartbreak with rain imagery.\n3. A rain anthem.\nHope this helps!",
	)
	search := &fakeSearcher{songs: rainySongs}

	p, err := newAgent(t, gen, search, WithLimit(3)).Build(context.Background(), "  rainy sunday  ")
	require.NoError(t, err)

	assert.Equal(t, "Playlist for: rainy sunday", p.Title)
	assert.Equal(t, "rainy sunday", p.Vibe)
	assert.Equal(t, "lo-fi, rainy day, mellow", p.Query)
	assert.Equal(t, "lo-fi, rainy day, mellow", search.query)
	assert.Equal(t, 3, search.limit)

	require.Len(t, p.Songs, 3)
	assert.Equal(t, "Thunder and a slow groove.", p.Songs[0].Reason)
	assert.Equal(t, "Heartbreak with rain imagery.", p.Songs[1].Reason)
	assert.Equal(t, "A rain anthem.", p.Songs[2].Reason)
	assert.Equal(t, "Prince", p.Songs[2].Artist)
	assert.Empty(t, rainySongs[0].Reason, "input songs are not modified")

	calls := gen.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Prompt, `"rainy sunday"`)
	assert.Contains(t, calls[1].Prompt, `2. "Set Fire to the Rain" - Adele`)
	assert.Contains(t, calls[1].Prompt, "Return exactly 3 lines.")
}

func TestBuild_PadsMissingReasons(t *testing.T) {
	gen := generatortest.Texts("rain", "1. Stormy.")
	p, err := newAgent(t, gen, &fakeSearcher{songs: rainySongs}).Build(context.Background(), "rain")
	require.NoError(t, err)

	require.Len(t, p.Songs, 3)
	assert.Equal(t, "Stormy.", p.Songs[0].Reason)
	assert.Equal(t, NoExplanation, p.Songs[1].Reason)
	assert.Equal(t, NoExplanation, p.Songs[2].Reason)
}

func TestBuild_NoSongsSkipsExplanation(t *testing.T) {
	gen := generatortest.Texts("obscure")
	p, err := newAgent(t, gen, &fakeSearcher{}).Build(context.Background(), "obscure")
	require.NoError(t, err)
	assert.Empty(t, p.Songs)
	assert.Zero(t, gen.Remaining())
	assert.Len(t, gen.Calls(), 1)
}

func TestBuild_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := newAgent(t, generatortest.Texts(), &fakeSearcher{}).Build(ctx, "   ")
	assert.ErrorIs(t, err, ErrMissingVibe)

	_, err = newAgent(t, generatortest.Texts(" \n "), &fakeSearcher{}).Build(ctx, "rain")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	down := generatortest.NewScripted(generatortest.Reply{Err: generator.ErrUnavailable})
	_, err = newAgent(t, down, &fakeSearcher{}).Build(ctx, "rain")
	assert.ErrorIs(t, err, generator.ErrUnavailable)

	boom := errors.New("spotify search error: 401 bad token")
	_, err = newAgent(t, generatortest.Texts("rain"), &fakeSearcher{err: boom}).Build(ctx, "rain")
	assert.ErrorIs(t, err, boom)
}

func TestRespond(t *testing.T) {
	ctx := context.Background()

	t.Run("missing vibe", func(t *testing.T) {
		resp := newAgent(t, generatortest.Texts(), &fakeSearcher{}).Respond(ctx, "")
		b, err := json.Marshal(resp)
		require.NoError(t, err)
		assert.JSONEq(t, `{"error": "Missing 'vibe' parameter."}`, string(b))
	})

	t.Run("failure carries details", func(t *testing.T) {
		search := &fakeSearcher{err: errors.New("spotify search error: 503 unavailable")}
		resp := newAgent(t, generatortest.Texts("rain"), search).Respond(ctx, "rain")
		assert.Nil(t, resp.Playlist)
		assert.Equal(t, FailedMessage, resp.Error)
		assert.Contains(t, resp.Details, "503 unavailable")
	})

	t.Run("playlist", func(t *testing.T) {
		gen := generatortest.Texts("rain", "1. a\n2. b\n3. c")
		resp := newAgent(t, gen, &fakeSearcher{songs: rainySongs}).Respond(ctx, "rain")
		require.NotNil(t, resp.Playlist)
		assert.Empty(t, resp.Error)

		b, err := json.Marshal(resp)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"title":"Playlist for: rain"`)
		assert.NotContains(t, string(b), `"error"`)
	})
}

// modelRecorder records the model option each call was made with.
type modelRecorder struct {
	*generatortest.Scripted
	models []string
}

func (m *modelRecorder) GenerateText(ctx context.Context, prompt string, opts ...generator.CallOption) (string, error) {
	m.models = append(m.models, generator.ApplyOptions(generator.CallOptions{}, opts...).Model)
	return m.Scripted.GenerateText(ctx, prompt, opts...)
}

func TestWithModel(t *testing.T) {
	gen := &modelRecorder{Scripted: generatortest.Texts("rain", "1. a")}
	_, err := newAgent(t, gen, &fakeSearcher{songs: rainySongs[:1]}, WithModel("gemma3:27b")).Build(context.Background(), "rain")
	require.NoError(t, err)
	assert.Equal(t, []string{"gemma3:27b", "gemma3:27b"}, gen.models)
}

func TestShortenQuery(t *testing.T) {
	assert.Equal(t, "lo-fi, jazz", shortenQuery("lo-fi, jazz"))

	long := strings.Repeat("ambient ", 20)
	assert.Equal(t, strings.TrimSpace(strings.Repeat("ambient ", 10)), shortenQuery(long))
}

func TestParseReasons(t *testing.T) {
	assert.Equal(t, []string{"one", "two"}, parseReasons("intro\n 1. one \n\n2. two\n3. three", 2))
	assert.Equal(t, []string{NoExplanation, NoExplanation}, parseReasons("no numbers here", 2))
	assert.Empty(t, parseReasons("1. one", 0))
}

func TestSearchTool(t *testing.T) {
	search := &fakeSearcher{songs: rainySongs[:2]}
	tool := SearchTool(search, 5)
	assert.Equal(t, SearchSongs, tool.Spec().Name)

	reg, err := tools.NewRegistry(tool)
	require.NoError(t, err)
	found, err := reg.Lookup(SearchSongs)
	require.NoError(t, err)

	out, err := found.Execute(context.Background(), extraction.Map{"query": extraction.String("rain")})
	require.NoError(t, err)
	assert.Equal(t, "rain", search.query)
	assert.Equal(t, 5, search.limit)

	seq, ok := out.AsSequence()
	require.True(t, ok)
	require.Len(t, seq, 2)
	title, _ := seq[1].Get("title")
	assert.Equal(t, extraction.String("Set Fire to the Rain"), title)

	_, err = tool.Execute(context.Background(), extraction.Map{})
	assert.ErrorIs(t, err, ErrMissingQuery)

	search.err = errors.New("down")
	_, err = tool.Execute(context.Background(), extraction.Map{"query": extraction.String("rain")})
	assert.ErrorContains(t, err, "down")
}
