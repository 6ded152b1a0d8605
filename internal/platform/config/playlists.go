package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlaylistConfig is one entry of the playlists file.
type PlaylistConfig struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Order string `yaml:"order,omitempty"` // normal, reverse, shuffle
}

type playlistsFile struct {
	Playlists []PlaylistConfig `yaml:"playlists"`
}

// LoadPlaylists reads the static playlist set from a YAML document:
//
//	playlists:
//	  - name: jazz
//	    url: https://youtube.com/playlist?list=...
//	    order: shuffle
//
// Names must be unique and non-empty, and every entry needs a URL.
func LoadPlaylists(path string) ([]PlaylistConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlists file: %w", err)
	}
	return ParsePlaylists(data)
}

// ParsePlaylists is LoadPlaylists without the file read.
func ParsePlaylists(data []byte) ([]PlaylistConfig, error) {
	var f playlistsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse playlists file: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Playlists))
	out := make([]PlaylistConfig, 0, len(f.Playlists))
	for i, p := range f.Playlists {
		p.Name = strings.TrimSpace(p.Name)
		p.URL = strings.TrimSpace(p.URL)
		p.Order = strings.ToLower(strings.TrimSpace(p.Order))
		if p.Name == "" {
			return nil, fmt.Errorf("playlist %d: missing name", i)
		}
		if p.URL == "" {
			return nil, fmt.Errorf("playlist %q: missing url", p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("playlist %q: duplicate name", p.Name)
		}
		seen[p.Name] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}
