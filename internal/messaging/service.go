// Package messaging provides the transport abstraction consumed by the bot.
//
// A Service can send text and photo messages, fetch inbound attachments, and
// surface inbound chat events on a channel. WhatsApp (whatsmeow) and Twilio
// implementations are provided.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/BTreeMap/LoveBot/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex matches everything that is not a digit, for recipient canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction with reply
// correlation: sends return the transport-assigned message ID, and inbound
// messages carry the ID of the message they reply to, when any.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a text message and returns its message ID.
	SendText(ctx context.Context, to string, body string) (models.MessageID, error)

	// SendPhoto sends a corpus image and returns its message ID.
	SendPhoto(ctx context.Context, to string, image models.Image) (models.MessageID, error)

	// FetchAttachment retrieves the bytes of a received image attachment by
	// the attachment ID carried on the IncomingMessage.
	FetchAttachment(ctx context.Context, attachmentID string) ([]byte, error)

	// Incoming returns the channel of inbound chat events.
	Incoming() <-chan models.IncomingMessage

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error
}

// canonicalizePhoneNumber strips non-digits and validates the result.
// Shared by the WhatsApp and Twilio services.
func canonicalizePhoneNumber(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: too short (minimum 6 digits required)")
	}
	return canonical, nil
}
