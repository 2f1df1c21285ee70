// Package backend selects and builds the record store implementation.
package backend

import (
	"fmt"

	"billfold/internal/config"
	"billfold/internal/http"
	"billfold/internal/storage"
	"billfold/internal/store"
	"billfold/internal/store/memory"
)

// BackendType names a record store implementation.
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid.
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// CleanupFunc releases the backend's resources.
type CleanupFunc func() error

// Result bundles a store with the credential storage it provides and its
// cleanup function.
type Result struct {
	Store   store.Store
	Users   http.UserStore
	Cleanup CleanupFunc
}

// Create builds the record store named by the configuration.
func Create(cfg *config.Config) (*Result, error) {
	backendType := BackendType(cfg.DataBackend)
	if !backendType.IsValid() {
		return nil, fmt.Errorf("invalid backend type: %s", cfg.DataBackend)
	}

	switch backendType {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite repository: %w", err)
		}
		return &Result{Store: repo, Users: repo, Cleanup: repo.Close}, nil
	case MemoryBackend:
		st := memory.New()
		return &Result{Store: st, Users: st, Cleanup: func() error { return nil }}, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", backendType)
	}
}
