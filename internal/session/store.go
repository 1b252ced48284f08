// Package session persists chat sessions. Incognito sessions never reach disk.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samsaffron/storyloom/internal/llm"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// Store is the interface for session persistence.
type Store interface {
	// Session CRUD. Create and Update silently skip incognito sessions.
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error

	List(ctx context.Context, opts ListOptions) ([]SessionSummary, error)

	// Message operations
	AppendMessages(ctx context.Context, sessionID string, msgs []llm.ChatMessage) error
	ReplaceMessages(ctx context.Context, sessionID string, msgs []llm.ChatMessage) error

	// Lifecycle
	Close() error
}

// Config holds session storage configuration.
type Config struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`     // Master switch
	Path    string `mapstructure:"path" yaml:"path,omitempty"` // Database path; empty uses the XDG data dir
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// GetDataDir returns the XDG data directory for storyloom.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "storyloom"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "storyloom"), nil
}

// GetDBPath returns the path to the sessions database.
func GetDBPath() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "sessions.db"), nil
}

// NewStore creates a new Store based on the configuration.
// If sessions are disabled, returns a no-op store.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}
