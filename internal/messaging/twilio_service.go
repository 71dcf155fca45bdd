package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LoveBot/internal/models"
	"github.com/BTreeMap/LoveBot/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
//
// Outbound photos are delivered by media URL: Twilio fetches the image from
// this deployment's public /api/images/{id} endpoint, so the service needs
// the public base URL of the API server.
type TwilioService struct {
	client       twiliowhatsapp.Sender
	mediaBaseURL string
	incoming     chan models.IncomingMessage
	done         chan struct{}
	mu           sync.RWMutex
	stopped      bool

	// mediaURLs maps inbound message SIDs to their Twilio media URLs for
	// later FetchAttachment calls.
	mediaMu   sync.Mutex
	mediaURLs map[string]string
}

// NewTwilioService creates a new TwilioService. mediaBaseURL is the public
// base URL under which the API server serves corpus images.
func NewTwilioService(client twiliowhatsapp.Sender, mediaBaseURL string) *TwilioService {
	return &TwilioService{
		client:       client,
		mediaBaseURL: strings.TrimSuffix(mediaBaseURL, "/"),
		incoming:     make(chan models.IncomingMessage, DefaultChannelBufferSize),
		done:         make(chan struct{}),
		mediaURLs:    make(map[string]string),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhoneNumber(recipient)
}

// Start is a no-op for Twilio; inbound traffic arrives via the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.incoming)
	}()

	return nil
}

// SendText sends a text message via Twilio.
func (s *TwilioService) SendText(ctx context.Context, to string, body string) (models.MessageID, error) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return "", ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendText validation error", "error", err, "to", to)
		return "", err
	}

	sid, err := s.client.SendMessage(ctx, canonicalTo, body)
	if err != nil {
		return "", err
	}
	slog.Info("TwilioService text sent", "to", canonicalTo, "sid", sid)
	return models.MessageID(sid), nil
}

// SendPhoto sends a corpus image by pointing Twilio at the API server's image
// endpoint.
func (s *TwilioService) SendPhoto(ctx context.Context, to string, image models.Image) (models.MessageID, error) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return "", ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendPhoto validation error", "error", err, "to", to)
		return "", err
	}
	if s.mediaBaseURL == "" {
		return "", fmt.Errorf("media base URL not configured; cannot send photos via Twilio")
	}

	mediaURL := fmt.Sprintf("%s/api/images/%s", s.mediaBaseURL, image.ID)
	sid, err := s.client.SendMediaMessage(ctx, canonicalTo, mediaURL)
	if err != nil {
		return "", err
	}
	slog.Info("TwilioService photo sent", "to", canonicalTo, "sid", sid, "image", image.ID)
	return models.MessageID(sid), nil
}

// FetchAttachment downloads inbound media recorded by the webhook handler.
func (s *TwilioService) FetchAttachment(ctx context.Context, attachmentID string) ([]byte, error) {
	s.mediaMu.Lock()
	url, ok := s.mediaURLs[attachmentID]
	s.mediaMu.Unlock()
	if !ok {
		slog.Warn("TwilioService FetchAttachment unknown attachment", "attachmentID", attachmentID)
		return nil, fmt.Errorf("unknown attachment %s: %w", attachmentID, models.ErrAttachmentMissing)
	}
	return s.client.FetchMedia(ctx, url)
}

// Incoming returns the channel of inbound chat events.
func (s *TwilioService) Incoming() <-chan models.IncomingMessage {
	return s.incoming
}

// WebhookHandler handles inbound Twilio webhook requests. It parses incoming
// messages, records any attached media URL, and emits the event into the
// Incoming() channel. Reply correlation uses Twilio's
// OriginalRepliedMessageSid parameter.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	sid := r.FormValue("MessageSid")
	repliedSid := r.FormValue("OriginalRepliedMessageSid")
	mediaURL := r.FormValue("MediaUrl0")

	if from == "" || sid == "" {
		slog.Warn("Twilio webhook missing fields", "from_set", from != "", "sid_set", sid != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	canonicalFrom, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Error("Twilio webhook sender invalid", "error", err, "from", from)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	msg := models.IncomingMessage{
		ID:        models.MessageID(sid),
		From:      canonicalFrom,
		Text:      body,
		ReplyToID: models.MessageID(repliedSid),
		Timestamp: time.Now().Unix(),
	}
	if mediaURL != "" {
		msg.ImageID = sid
		s.mediaMu.Lock()
		s.mediaURLs[sid] = mediaURL
		s.mediaMu.Unlock()
	}

	slog.Info("Inbound message from Twilio webhook", "from", canonicalFrom, "sid", sid, "reply_to", repliedSid, "has_media", mediaURL != "")

	s.safeEmit(msg)

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// safeEmit pushes an inbound message into the incoming channel without
// blocking the webhook goroutine.
func (s *TwilioService) safeEmit(msg models.IncomingMessage) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "from", msg.From)
		return
	}

	select {
	case s.incoming <- msg:
		slog.Debug("TwilioService emitted inbound message", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService incoming channel blocked, dropping message", "from", msg.From)
	}
}
