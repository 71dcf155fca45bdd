package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LoveBot/internal/models"
	"github.com/BTreeMap/LoveBot/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// DefaultAttachmentCacheSize bounds the number of received image payload
// references kept for FetchAttachment. The /add flow fetches an attachment
// right after its reply arrives, so a small window is enough.
const DefaultAttachmentCacheSize = 128

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // underlying client for event handling and media download
	incoming chan models.IncomingMessage
	done     chan struct{}

	// attachments maps inbound message IDs to the received image payloads
	// needed to download their media later.
	attachMu    sync.Mutex
	attachments map[string]*waE2E.ImageMessage
	attachOrder []string
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:      client,
		incoming:    make(chan models.IncomingMessage, DefaultChannelBufferSize),
		done:        make(chan struct{}),
		attachments: make(map[string]*waE2E.ImageMessage),
	}

	// A full client gives us event handling and media download; anything else
	// (a mock) is send-only.
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient strips formatting from a phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhoneNumber(recipient)
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling")
	}

	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.incoming)
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	slog.Info("WhatsAppService stopped")
	return nil
}

// SendText sends a text message.
func (s *WhatsAppService) SendText(ctx context.Context, to string, body string) (models.MessageID, error) {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendText validation error", "error", err, "to", to)
		return "", err
	}
	id, err := s.client.SendMessage(ctx, canonicalTo, body)
	if err != nil {
		slog.Error("WhatsAppService SendText error", "error", err, "to", canonicalTo)
		return "", err
	}
	slog.Info("WhatsAppService text sent", "to", canonicalTo, "id", id)
	return models.MessageID(id), nil
}

// SendPhoto sends a corpus image.
func (s *WhatsAppService) SendPhoto(ctx context.Context, to string, image models.Image) (models.MessageID, error) {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendPhoto validation error", "error", err, "to", to)
		return "", err
	}
	id, err := s.client.SendImage(ctx, canonicalTo, image.Content)
	if err != nil {
		slog.Error("WhatsAppService SendPhoto error", "error", err, "to", canonicalTo, "image", image.ID)
		return "", err
	}
	slog.Info("WhatsAppService photo sent", "to", canonicalTo, "id", id, "image", image.ID)
	return models.MessageID(id), nil
}

// FetchAttachment downloads the media of a previously received image message.
func (s *WhatsAppService) FetchAttachment(ctx context.Context, attachmentID string) ([]byte, error) {
	if s.waClient == nil {
		return nil, fmt.Errorf("attachment download requires a connected WhatsApp client")
	}

	s.attachMu.Lock()
	img, ok := s.attachments[attachmentID]
	s.attachMu.Unlock()
	if !ok {
		slog.Warn("WhatsAppService FetchAttachment unknown attachment", "attachmentID", attachmentID)
		return nil, fmt.Errorf("unknown attachment %s: %w", attachmentID, models.ErrAttachmentMissing)
	}

	return s.waClient.DownloadImage(ctx, img)
}

// Incoming returns the channel of inbound chat events.
func (s *WhatsAppService) Incoming() <-chan models.IncomingMessage {
	return s.incoming
}

// handleEvents registers the whatsmeow event handler and translates message
// events into transport-neutral IncomingMessage values.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
			// Receipts, presence and connection events are not used.
		}
	})

	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage converts a whatsmeow message event. Text arrives as a
// plain conversation or an extended text message (the form WhatsApp uses for
// replies); images arrive as image messages whose payload is cached for later
// FetchAttachment calls.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	msg := models.IncomingMessage{
		ID:        models.MessageID(evt.Info.ID),
		From:      evt.Info.Sender.User,
		Timestamp: evt.Info.Timestamp.Unix(),
	}

	switch {
	case evt.Message.Conversation != nil:
		msg.Text = evt.Message.GetConversation()
	case evt.Message.ExtendedTextMessage != nil:
		ext := evt.Message.GetExtendedTextMessage()
		msg.Text = ext.GetText()
		msg.ReplyToID = models.MessageID(ext.GetContextInfo().GetStanzaID())
	case evt.Message.ImageMessage != nil:
		img := evt.Message.GetImageMessage()
		msg.Text = img.GetCaption()
		msg.ReplyToID = models.MessageID(img.GetContextInfo().GetStanzaID())
		msg.ImageID = evt.Info.ID
		s.cacheAttachment(evt.Info.ID, img)
	default:
		slog.Debug("WhatsAppService ignoring unsupported message type", "from", msg.From)
		return
	}

	slog.Debug("WhatsAppService processing incoming message",
		"from", msg.From, "id", msg.ID, "reply_to", msg.ReplyToID, "has_image", msg.HasImage())

	// Forward without blocking the whatsmeow event goroutine
	select {
	case s.incoming <- msg:
		slog.Info("WhatsAppService incoming message forwarded", "from", msg.From, "id", msg.ID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService incoming channel blocked, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
	}
}

// cacheAttachment remembers the image payload of a received message so its
// media can be downloaded later, evicting the oldest entry past the cap.
func (s *WhatsAppService) cacheAttachment(id string, img *waE2E.ImageMessage) {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()

	if _, exists := s.attachments[id]; !exists {
		s.attachOrder = append(s.attachOrder, id)
	}
	s.attachments[id] = img

	for len(s.attachOrder) > DefaultAttachmentCacheSize {
		oldest := s.attachOrder[0]
		s.attachOrder = s.attachOrder[1:]
		delete(s.attachments, oldest)
	}
}
