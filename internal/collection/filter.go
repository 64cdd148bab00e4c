package collection

import (
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/micro-nova/medialink/internal/models"
)

// Filter returns the cached view of path with its groups and tracks narrowed
// to those whose name fuzzily matches query (case-insensitive, order kept).
// An empty query returns the view unchanged. Like Get, it never fetches.
func (s *Store) Filter(path models.Path, query string) models.Collection {
	c := s.Get(path)
	if query == "" || !c.Loaded {
		return c
	}
	return FilterCollection(c, query)
}

// FilterCollection applies the Filter matching rules to c.
func FilterCollection(c models.Collection, query string) models.Collection {
	var groups []models.Group
	for _, g := range c.Groups {
		if matches(query, g.Name, g.Artist) {
			groups = append(groups, g)
		}
	}
	var tracks []models.Track
	for _, t := range c.Tracks {
		if matches(query, t.Name, t.Artist, t.Album) {
			tracks = append(tracks, t)
		}
	}
	c.Groups = groups
	c.Tracks = tracks
	return c
}

func matches(query string, fields ...string) bool {
	for _, f := range fields {
		if f != "" && fuzzy.MatchFold(query, f) {
			return true
		}
	}
	return false
}
