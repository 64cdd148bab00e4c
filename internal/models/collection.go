// Package models defines the data structures shared by the medialink core,
// its backend transport and its HTTP API. JSON field names match the
// backend's wire format.
package models

import "encoding/json"

// NodeState is the lifecycle state of one cached collection node.
type NodeState int

const (
	StateAbsent  NodeState = iota // never fetched, or last fetch failed
	StatePending                  // fetch in flight
	StatePresent                  // cached and servable
	StateStale                    // cached but invalidated, eligible for refetch
)

var nodeStateNames = [...]string{"absent", "pending", "present", "stale"}

func (s NodeState) String() string {
	if s < 0 || int(s) >= len(nodeStateNames) {
		return "unknown"
	}
	return nodeStateNames[s]
}

func (s NodeState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *NodeState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range nodeStateNames {
		if n == name {
			*s = NodeState(i)
			return nil
		}
	}
	*s = StateAbsent
	return nil
}

// Group is the summary of a child group as listed by its parent.
type Group struct {
	Key       string `json:"key"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Artist    string `json:"artist,omitempty"`
	Year      int    `json:"year,omitempty"`
	TotalTime int    `json:"totalTime,omitempty"` // milliseconds
}

// Track is a playable leaf of the collection.
type Track struct {
	Key       string `json:"key"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Artist    string `json:"artist,omitempty"`
	Album     string `json:"album,omitempty"`
	Number    int    `json:"number,omitempty"`
	TotalTime int    `json:"totalTime,omitempty"` // milliseconds
}

// Node is the data for exactly one Path.
type Node struct {
	Path        Path    `json:"path"`
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name,omitempty"`
	Artist      string  `json:"artist,omitempty"`
	AlbumArtist string  `json:"albumArtist,omitempty"`
	Composer    string  `json:"composer,omitempty"`
	Year        int     `json:"year,omitempty"`
	TotalTime   int     `json:"totalTime,omitempty"`
	ListStyle   string  `json:"listStyle,omitempty"`
	Image       string  `json:"image,omitempty"` // artwork reference, e.g. "/artwork/<id>"
	Groups      []Group `json:"groups,omitempty"`
	Tracks      []Track `json:"tracks,omitempty"`
}

// DeepCopy returns a copy of n that shares no slices with it.
func (n Node) DeepCopy() Node {
	cp := n
	cp.Path = n.Path.Clone()
	if n.Groups != nil {
		cp.Groups = make([]Group, len(n.Groups))
		copy(cp.Groups, n.Groups)
	}
	if n.Tracks != nil {
		cp.Tracks = make([]Track, len(n.Tracks))
		copy(cp.Tracks, n.Tracks)
	}
	return cp
}

// Collection is the read-only view of a node handed out by the store.
// When Loaded is false the embedded Node is a placeholder: only Path is set
// and Groups/Tracks are empty. A pending or stale view may still be Loaded,
// carrying the last data that was fetched successfully.
type Collection struct {
	Key    Key       `json:"key"`
	State  NodeState `json:"state"`
	Loaded bool      `json:"loaded"`
	Node
}
