// Package config handles loading, saving and watching the medialink daemon
// configuration.
package config

// Store is the interface for persisting the configuration.
type Store interface {
	// Load loads the current configuration. Returns Default if no file exists.
	Load() (*Config, error)

	// Save persists the configuration. Implementations may debounce rapid saves.
	Save(cfg *Config) error

	// Path returns the file path used by this store.
	Path() string

	// Flush forces an immediate write of any pending configuration.
	Flush() error
}
