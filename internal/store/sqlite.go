// Package store provides storage backends for LoveBot.
//
// This file implements an SQLite-backed store for the corpus and the
// authorized-chat registry.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/LoveBot/internal/models"
	"github.com/BTreeMap/LoveBot/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) FindMessages(category models.Category) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT id, text, category FROM messages WHERE category = ?`, string(category))
	if err != nil {
		slog.Error("SQLiteStore FindMessages query failed", "error", err, "category", category)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Text, &m.Category); err != nil {
			slog.Error("SQLiteStore FindMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore FindMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("SQLiteStore FindMessages succeeded", "category", category, "count", len(messages))
	return messages, nil
}

func (s *SQLiteStore) AddMessage(m models.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO messages (text, category) VALUES (?, ?)`, m.Text, string(m.Category))
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "category", m.Category)
		return fmt.Errorf("failed to insert message: %w", err)
	}
	slog.Debug("SQLiteStore AddMessage succeeded", "category", m.Category)
	return nil
}

func (s *SQLiteStore) FindImages() ([]models.Image, error) {
	rows, err := s.db.Query(`SELECT id, content FROM images`)
	if err != nil {
		slog.Error("SQLiteStore FindImages query failed", "error", err)
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.Content); err != nil {
			slog.Error("SQLiteStore FindImages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan image row: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore FindImages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate image rows: %w", err)
	}
	slog.Debug("SQLiteStore FindImages succeeded", "count", len(images))
	return images, nil
}

func (s *SQLiteStore) SaveImage(content []byte) (string, error) {
	if len(content) == 0 {
		return "", models.ErrEmptyImageContent
	}
	id := util.GenerateImageID()
	_, err := s.db.Exec(`INSERT INTO images (id, content) VALUES (?, ?)`, id, content)
	if err != nil {
		slog.Error("SQLiteStore SaveImage failed", "error", err)
		return "", fmt.Errorf("failed to insert image: %w", err)
	}
	slog.Debug("SQLiteStore SaveImage succeeded", "id", id, "size", len(content))
	return id, nil
}

func (s *SQLiteStore) GetImage(id string) (*models.Image, error) {
	var img models.Image
	err := s.db.QueryRow(`SELECT id, content FROM images WHERE id = ?`, id).Scan(&img.ID, &img.Content)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetImage not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetImage failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query image %s: %w", id, err)
	}
	return &img, nil
}

func (s *SQLiteStore) IsAuthorized(chatID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT chat_id FROM authorized_chats WHERE chat_id = ?`, chatID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore IsAuthorized failed", "error", err, "chatID", chatID)
		return false, fmt.Errorf("failed to check authorization for %s: %w", chatID, err)
	}
	return true, nil
}

// Authorize records the chat as authorized. Idempotent: re-authorizing an
// already-authorized chat is a no-op.
func (s *SQLiteStore) Authorize(chatID string) error {
	if chatID == "" {
		return models.ErrEmptyChatID
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO authorized_chats (chat_id) VALUES (?)`, chatID)
	if err != nil {
		slog.Error("SQLiteStore Authorize failed", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to authorize %s: %w", chatID, err)
	}
	slog.Debug("SQLiteStore Authorize succeeded", "chatID", chatID)
	return nil
}

func (s *SQLiteStore) AuthorizedChats() ([]string, error) {
	rows, err := s.db.Query(`SELECT chat_id FROM authorized_chats`)
	if err != nil {
		slog.Error("SQLiteStore AuthorizedChats query failed", "error", err)
		return nil, fmt.Errorf("failed to query authorized chats: %w", err)
	}
	defer rows.Close()

	var chats []string
	for rows.Next() {
		var chatID string
		if err := rows.Scan(&chatID); err != nil {
			slog.Error("SQLiteStore AuthorizedChats scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan authorized chat row: %w", err)
		}
		chats = append(chats, chatID)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore AuthorizedChats rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate authorized chat rows: %w", err)
	}
	slog.Debug("SQLiteStore AuthorizedChats succeeded", "count", len(chats))
	return chats, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
