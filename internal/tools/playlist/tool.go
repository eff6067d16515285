package playlist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/recipeflow/internal/extraction"
	"github.com/fyrsmithlabs/recipeflow/internal/tools"
)

// SearchSongs is the name of the search tool.
const SearchSongs = "search_songs"

var ErrMissingQuery = errors.New("missing parameter: query")

// SearchTool exposes s as a recipe tool. It returns a sequence of
// {title, artist, url} mappings.
func SearchTool(s Searcher, limit int) tools.Tool {
	spec := tools.ToolSpec{
		Name:        SearchSongs,
		Description: "Searches Spotify for tracks matching comma-separated keywords",
		Parameters: []tools.ParamSpec{
			{Name: "query", Purpose: "keywords, genres or moods to search for"},
		},
	}
	return tools.NewFunc(spec, func(ctx context.Context, params extraction.Map) (extraction.Value, error) {
		q, _ := params["query"].AsString()
		if strings.TrimSpace(q) == "" {
			return extraction.Value{}, fmt.Errorf("%s: %w", SearchSongs, ErrMissingQuery)
		}
		songs, err := s.Search(ctx, q, limit)
		if err != nil {
			return extraction.Value{}, fmt.Errorf("%s: %w", SearchSongs, err)
		}
		out := make([]extraction.Value, len(songs))
		for i, song := range songs {
			out[i] = extraction.Mapping(extraction.Map{
				"title":  extraction.String(song.Title),
				"artist": extraction.String(song.Artist),
				"url":    extraction.String(song.URL),
			})
		}
		return extraction.Sequence(out...), nil
	})
}
