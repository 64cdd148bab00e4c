package models

import (
	"encoding/json"
	"time"
)

// ConnState is the lifecycle state of the live backend connection.
type ConnState int

const (
	ConnClosed ConnState = iota
	ConnConnecting
	ConnOpen
)

var connStateNames = [...]string{"closed", "connecting", "open"}

func (s ConnState) String() string {
	if s < 0 || int(s) >= len(connStateNames) {
		return "unknown"
	}
	return connStateNames[s]
}

func (s ConnState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ConnState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range connStateNames {
		if n == name {
			*s = ConnState(i)
			return nil
		}
	}
	*s = ConnClosed
	return nil
}

// ConnectionStatus is the single source of truth for "are we connected".
type ConnectionStatus struct {
	Open      bool      `json:"open"`
	State     ConnState `json:"state"`
	Endpoint  string    `json:"endpoint,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	Since     time.Time `json:"since"`
	Attempts  int       `json:"attempts"` // consecutive failed connection attempts
}
