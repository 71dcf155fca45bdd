// Package models defines the core data structures for LoveBot.
//
// It includes types for corpus messages, images, and inbound chat events,
// which are shared across modules.
package models

import "errors"

// Category classifies a corpus message.
type Category string

const (
	// CategoryMorning marks messages reserved for the daily broadcast.
	CategoryMorning Category = "morning"
	// CategoryGeneral marks messages served on demand (e.g. /love).
	CategoryGeneral Category = "general"
)

// IsValidCategory checks if the given category is supported.
func IsValidCategory(c Category) bool {
	switch c {
	case CategoryMorning, CategoryGeneral:
		return true
	default:
		return false
	}
}

// Validation constants for input validation
const (
	// MaxMessageTextLength defines the maximum allowed length for corpus message text
	MaxMessageTextLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrNotAuthorized     = errors.New("chat is not authorized")
	ErrEmptyCorpus       = errors.New("corpus is empty")
	ErrDuplicatePrompt   = errors.New("a pending reply already exists for this prompt")
	ErrAttachmentMissing = errors.New("message carries no image attachment")
	ErrEmptyChatID       = errors.New("chat ID cannot be empty")
	ErrEmptyMessageText  = errors.New("message text cannot be empty")
	ErrMessageTextTooLong = errors.New("message text exceeds maximum length")
	ErrInvalidCategory   = errors.New("invalid message category")
	ErrEmptyImageContent = errors.New("image content cannot be empty")
)

// Message is a sendable corpus text.
type Message struct {
	ID       int64    `json:"id,omitempty"`
	Text     string   `json:"text"`
	Category Category `json:"category"`
}

// Validate checks a corpus message before it is persisted.
func (m Message) Validate() error {
	if m.Text == "" {
		return ErrEmptyMessageText
	}
	if len(m.Text) > MaxMessageTextLength {
		return ErrMessageTextTooLong
	}
	if !IsValidCategory(m.Category) {
		return ErrInvalidCategory
	}
	return nil
}

// Image is a sendable corpus image.
type Image struct {
	ID      string `json:"id"`
	Content []byte `json:"-"`
}

// MessageID identifies a message assigned by the transport. It is used to
// correlate an inbound reply with the outbound prompt it responds to.
type MessageID string

// IncomingMessage is a transport-neutral inbound chat event.
//
// ReplyToID is empty when the message is not a reply to a previous message.
// ImageID is empty when the message carries no image attachment; otherwise it
// can be passed to the messenger's FetchAttachment to retrieve the bytes.
type IncomingMessage struct {
	ID        MessageID `json:"id"`
	From      string    `json:"from"`
	Text      string    `json:"text,omitempty"`
	ReplyToID MessageID `json:"reply_to_id,omitempty"`
	ImageID   string    `json:"image_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// HasImage reports whether the message carries an image attachment.
func (m IncomingMessage) HasImage() bool {
	return m.ImageID != ""
}

// APIResponse provides a consistent JSON envelope for API responses.
type APIResponse struct {
	Status string      `json:"status"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Response status constants
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: StatusOK, Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: StatusError, Error: message}
}
