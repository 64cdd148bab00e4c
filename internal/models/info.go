package models

// Info describes the running daemon.
type Info struct {
	Version  string `json:"version"`
	Hostname string `json:"hostname"`
	Backend  string `json:"backend"`
	Cached   int    `json:"cached"` // nodes holding data
}
