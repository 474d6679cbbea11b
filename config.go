package beacon

import (
	"errors"
	"path/filepath"
)

// Config is everything the engine recognizes at initialization.
type Config struct {
	// DataDir is the directory the engine owns: the metric database and the
	// pending-ping queue live under it. One engine per directory.
	DataDir string

	// ApplicationID identifies the host application in upload paths
	// (/submit/<ApplicationID>/<ping>/<document>).
	ApplicationID string

	// UploadEnabled is the initial consent state. Starting disabled purges
	// any pending pings left by a previous session.
	UploadEnabled bool

	// MaxEvents caps how many events one event metric stores per ping;
	// further events are dropped and counted as overflow.
	MaxEvents int

	// DelayPingLifetimeWrites buffers ping-lifetime values in memory,
	// flushing on submit and shutdown. Reduces write volume at the cost of
	// losing at most one ping interval of data on a crash.
	DelayPingLifetimeWrites bool
}

// DefaultConfig returns a Config with upload enabled and the shipped event
// cap.
func DefaultConfig(dataDir, applicationID string) Config {
	return Config{
		DataDir:       dataDir,
		ApplicationID: applicationID,
		UploadEnabled: true,
		MaxEvents:     500,
	}
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return errors.New("beacon: DataDir is required")
	}
	if c.ApplicationID == "" {
		return errors.New("beacon: ApplicationID is required")
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = 500
	}
	return nil
}

func (c *Config) dbPath() string {
	return filepath.Join(c.DataDir, "beacon.db")
}

func (c *Config) pendingDir() string {
	return filepath.Join(c.DataDir, "pending")
}
