package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recipeflow/internal/tools/playlist"
)

var errPlaylistFailed = errors.New("playlist failed")

func newPlaylistCmd(root *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "playlist <vibe>",
		Short: "Build an explained Spotify playlist for a vibe",
		Long: `Ask the generator for search keywords that match a vibe, search Spotify
for tracks and explain why each one fits.

Requires playlist.client_id and playlist.client_secret (or SPOTIFY_CLIENT_ID
and SPOTIFY_CLIENT_SECRET).

Examples:
  recipeflow playlist "rainy sunday morning"
  recipeflow playlist --json "late night drive"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), root.configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			agent, err := a.newPlaylistAgent()
			if err != nil {
				return err
			}
			resp := agent.Respond(cmd.Context(), strings.Join(args, " "))
			return printPlaylist(cmd.OutOrStdout(), resp, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the playlist as JSON")
	return cmd
}

// printPlaylist writes resp to w. An error payload is returned as
// errPlaylistFailed so the process exits non-zero.
func printPlaylist(w io.Writer, resp playlist.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("encode playlist: %w", err)
		}
	} else if resp.Playlist == nil {
		fmt.Fprintf(w, "Error:   %s\n", resp.Error)
		if resp.Details != "" {
			fmt.Fprintf(w, "Details: %s\n", resp.Details)
		}
	} else {
		p := resp.Playlist
		fmt.Fprintf(w, "%s\n", p.Title)
		fmt.Fprintf(w, "Query:   %s\n\n", p.Query)
		for i, s := range p.Songs {
			fmt.Fprintf(w, "%2d. %s - %s\n", i+1, s.Title, s.Artist)
			fmt.Fprintf(w, "    %s\n", s.Reason)
			if s.URL != "" {
				fmt.Fprintf(w, "    %s\n", s.URL)
			}
		}
	}

	if resp.Playlist == nil {
		return fmt.Errorf("%w: %s", errPlaylistFailed, resp.Error)
	}
	return nil
}
