package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Duration is a time.Duration that reads and writes as a string ("5s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// bare numbers are seconds
		var secs float64
		if err2 := json.Unmarshal(data, &secs); err2 != nil {
			return err
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the persisted daemon configuration.
type Config struct {
	// BackendURL is the backend WebSocket address. Empty means discover it
	// over mDNS.
	BackendURL        string   `json:"backend_url"`
	AutoReconnect     bool     `json:"auto_reconnect"`
	ReconnectInterval Duration `json:"reconnect_interval"`
	DialTimeout       Duration `json:"dial_timeout"`
	FetchTimeout      Duration `json:"fetch_timeout"`
	PingInterval      Duration `json:"ping_interval"`
	// SnapshotFile is the sqlite file used for warm starts, relative to the
	// config directory. Empty disables snapshots.
	SnapshotFile string `json:"snapshot_file"`
	// CheckpointInterval is how often a changed cache is written to the
	// snapshot while running. Zero writes only on shutdown.
	CheckpointInterval Duration `json:"checkpoint_interval"`
	// Advertise registers the daemon's HTTP API over mDNS.
	Advertise bool `json:"advertise"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		AutoReconnect:      true,
		ReconnectInterval:  Duration(5 * time.Second),
		DialTimeout:        Duration(10 * time.Second),
		FetchTimeout:       Duration(30 * time.Second),
		PingInterval:       Duration(15 * time.Second),
		SnapshotFile:       "snapshot.db",
		CheckpointInterval: Duration(5 * time.Minute),
		Advertise:          true,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.BackendURL != "" {
		u, err := url.Parse(c.BackendURL)
		if err != nil {
			return fmt.Errorf("backend_url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("backend_url: scheme must be ws or wss, got %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("backend_url: missing host")
		}
	}
	if c.ReconnectInterval < 0 || c.DialTimeout < 0 || c.FetchTimeout < 0 || c.PingInterval < 0 || c.CheckpointInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// Update is the PATCH body for changing the configuration.
type Update struct {
	BackendURL        *string   `json:"backend_url,omitempty"`
	AutoReconnect     *bool     `json:"auto_reconnect,omitempty"`
	ReconnectInterval *Duration `json:"reconnect_interval,omitempty"`
	DialTimeout       *Duration `json:"dial_timeout,omitempty"`
	FetchTimeout      *Duration `json:"fetch_timeout,omitempty"`
}

// Apply returns c with the fields set in u overwritten.
func (c Config) Apply(u Update) Config {
	if u.BackendURL != nil {
		c.BackendURL = *u.BackendURL
	}
	if u.AutoReconnect != nil {
		c.AutoReconnect = *u.AutoReconnect
	}
	if u.ReconnectInterval != nil {
		c.ReconnectInterval = *u.ReconnectInterval
	}
	if u.DialTimeout != nil {
		c.DialTimeout = *u.DialTimeout
	}
	if u.FetchTimeout != nil {
		c.FetchTimeout = *u.FetchTimeout
	}
	return c
}
