// Package store provides storage backends for LoveBot.
//
// This file implements a PostgreSQL-backed store for the corpus and the
// authorized-chat registry.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/LoveBot/internal/models"
	"github.com/BTreeMap/LoveBot/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) FindMessages(category models.Category) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT id, text, category FROM messages WHERE category = $1`, string(category))
	if err != nil {
		slog.Error("PostgresStore FindMessages query failed", "error", err, "category", category)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Text, &m.Category); err != nil {
			slog.Error("PostgresStore FindMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore FindMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("PostgresStore FindMessages succeeded", "category", category, "count", len(messages))
	return messages, nil
}

func (s *PostgresStore) AddMessage(m models.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO messages (text, category) VALUES ($1, $2)`, m.Text, string(m.Category))
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "category", m.Category)
		return fmt.Errorf("failed to insert message: %w", err)
	}
	slog.Debug("PostgresStore AddMessage succeeded", "category", m.Category)
	return nil
}

func (s *PostgresStore) FindImages() ([]models.Image, error) {
	rows, err := s.db.Query(`SELECT id, content FROM images`)
	if err != nil {
		slog.Error("PostgresStore FindImages query failed", "error", err)
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.Content); err != nil {
			slog.Error("PostgresStore FindImages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan image row: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore FindImages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate image rows: %w", err)
	}
	slog.Debug("PostgresStore FindImages succeeded", "count", len(images))
	return images, nil
}

func (s *PostgresStore) SaveImage(content []byte) (string, error) {
	if len(content) == 0 {
		return "", models.ErrEmptyImageContent
	}
	id := util.GenerateImageID()
	_, err := s.db.Exec(`INSERT INTO images (id, content) VALUES ($1, $2)`, id, content)
	if err != nil {
		slog.Error("PostgresStore SaveImage failed", "error", err)
		return "", fmt.Errorf("failed to insert image: %w", err)
	}
	slog.Debug("PostgresStore SaveImage succeeded", "id", id, "size", len(content))
	return id, nil
}

func (s *PostgresStore) GetImage(id string) (*models.Image, error) {
	var img models.Image
	err := s.db.QueryRow(`SELECT id, content FROM images WHERE id = $1`, id).Scan(&img.ID, &img.Content)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetImage not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetImage failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query image %s: %w", id, err)
	}
	return &img, nil
}

func (s *PostgresStore) IsAuthorized(chatID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT chat_id FROM authorized_chats WHERE chat_id = $1`, chatID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore IsAuthorized failed", "error", err, "chatID", chatID)
		return false, fmt.Errorf("failed to check authorization for %s: %w", chatID, err)
	}
	return true, nil
}

// Authorize records the chat as authorized. Idempotent: re-authorizing an
// already-authorized chat is a no-op.
func (s *PostgresStore) Authorize(chatID string) error {
	if chatID == "" {
		return models.ErrEmptyChatID
	}
	_, err := s.db.Exec(`INSERT INTO authorized_chats (chat_id) VALUES ($1) ON CONFLICT (chat_id) DO NOTHING`, chatID)
	if err != nil {
		slog.Error("PostgresStore Authorize failed", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to authorize %s: %w", chatID, err)
	}
	slog.Debug("PostgresStore Authorize succeeded", "chatID", chatID)
	return nil
}

func (s *PostgresStore) AuthorizedChats() ([]string, error) {
	rows, err := s.db.Query(`SELECT chat_id FROM authorized_chats`)
	if err != nil {
		slog.Error("PostgresStore AuthorizedChats query failed", "error", err)
		return nil, fmt.Errorf("failed to query authorized chats: %w", err)
	}
	defer rows.Close()

	var chats []string
	for rows.Next() {
		var chatID string
		if err := rows.Scan(&chatID); err != nil {
			slog.Error("PostgresStore AuthorizedChats scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan authorized chat row: %w", err)
		}
		chats = append(chats, chatID)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore AuthorizedChats rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate authorized chat rows: %w", err)
	}
	slog.Debug("PostgresStore AuthorizedChats succeeded", "count", len(chats))
	return chats, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
