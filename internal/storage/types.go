package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the store has never been written.
	ErrNotFound = errors.New("storage: destinations not found")
	// ErrCorrupt means the stored data exists but cannot be decoded.
	ErrCorrupt = errors.New("storage: destinations corrupt")
	// ErrDisabled is returned by a closed store.
	ErrDisabled = errors.New("storage: disabled")
)

// Config selects and configures a driver.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store persists the destination set as a whole.
type Store interface {
	// LoadDestinations returns ErrNotFound before the first save and an error
	// wrapping ErrCorrupt when the stored data is unreadable.
	LoadDestinations(ctx context.Context) ([]int64, error)
	// SaveDestinations replaces the stored set.
	SaveDestinations(ctx context.Context, ids []int64) error
	Close() error
}

// Quarantiner is implemented by stores that can move unreadable data aside
// before it is overwritten. It returns where the data went.
type Quarantiner interface {
	Quarantine(ctx context.Context) (string, error)
}
