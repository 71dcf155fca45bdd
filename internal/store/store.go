// Package store provides storage backends for LoveBot.
//
// It persists the message/image corpus and the set of authorized chats, with
// in-memory, SQLite, and PostgreSQL implementations behind a common interface.
package store

import (
	"strings"

	"github.com/BTreeMap/LoveBot/internal/models"
)

// Store is the persistence surface consumed by the bot and the API server.
//
// Authorize is idempotent: authorizing an already-authorized chat is a no-op
// and never creates a duplicate record.
type Store interface {
	// FindMessages returns all corpus messages in the given category.
	FindMessages(category models.Category) ([]models.Message, error)

	// AddMessage persists a new corpus message.
	AddMessage(m models.Message) error

	// FindImages returns all corpus images, content included.
	FindImages() ([]models.Image, error)

	// SaveImage persists image bytes as a new corpus image and returns its ID.
	SaveImage(content []byte) (string, error)

	// GetImage returns a single image by ID, or nil when not found.
	GetImage(id string) (*models.Image, error)

	// IsAuthorized reports whether the chat has submitted the correct password.
	IsAuthorized(chatID string) (bool, error)

	// Authorize records the chat as authorized.
	Authorize(chatID string) error

	// AuthorizedChats returns every authorized chat ID. Broadcast fan-out
	// queries this at fire time rather than caching the set.
	AuthorizedChats() ([]string, error)

	// Close releases the backing resources.
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType inspects a DSN and reports "postgres" or "sqlite".
// PostgreSQL DSNs use URL schemes or key=value connection strings; anything
// else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
