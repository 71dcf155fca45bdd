// Package testutil provides common test utilities and helpers for LoveBot tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/LoveBot/internal/models"
)

// SentMessage records one outbound send captured by MockMessenger.
type SentMessage struct {
	ID      models.MessageID
	To      string
	Text    string
	ImageID string
	IsPhoto bool
}

// MockMessenger implements messaging.Service for tests. It records every
// send, assigns sequential message IDs, and lets tests inject inbound
// messages and attachment payloads.
type MockMessenger struct {
	mu          sync.Mutex
	sent        []SentMessage
	nextID      int
	incoming    chan models.IncomingMessage
	attachments map[string][]byte

	// SendTextErr / SendPhotoErr / FetchErr, when set, are returned by the
	// corresponding operations.
	SendTextErr  error
	SendPhotoErr error
	FetchErr     error

	// FailTextTo makes SendText fail only for the given recipient.
	FailTextTo string
}

// NewMockMessenger creates a MockMessenger with a buffered inbound channel.
func NewMockMessenger() *MockMessenger {
	return &MockMessenger{
		incoming:    make(chan models.IncomingMessage, 32),
		attachments: make(map[string][]byte),
	}
}

func (m *MockMessenger) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}

func (m *MockMessenger) SendText(ctx context.Context, to string, body string) (models.MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendTextErr != nil {
		return "", m.SendTextErr
	}
	if m.FailTextTo != "" && to == m.FailTextTo {
		return "", fmt.Errorf("simulated send failure to %s", to)
	}
	m.nextID++
	id := models.MessageID(fmt.Sprintf("msg_%d", m.nextID))
	m.sent = append(m.sent, SentMessage{ID: id, To: to, Text: body})
	return id, nil
}

func (m *MockMessenger) SendPhoto(ctx context.Context, to string, image models.Image) (models.MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendPhotoErr != nil {
		return "", m.SendPhotoErr
	}
	m.nextID++
	id := models.MessageID(fmt.Sprintf("msg_%d", m.nextID))
	m.sent = append(m.sent, SentMessage{ID: id, To: to, ImageID: image.ID, IsPhoto: true})
	return id, nil
}

func (m *MockMessenger) FetchAttachment(ctx context.Context, attachmentID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	content, ok := m.attachments[attachmentID]
	if !ok {
		return nil, fmt.Errorf("unknown attachment %s: %w", attachmentID, models.ErrAttachmentMissing)
	}
	return content, nil
}

func (m *MockMessenger) Incoming() <-chan models.IncomingMessage {
	return m.incoming
}

func (m *MockMessenger) Start(ctx context.Context) error { return nil }

func (m *MockMessenger) Stop() error { return nil }

// AddAttachment registers attachment bytes retrievable via FetchAttachment.
func (m *MockMessenger) AddAttachment(id string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachments[id] = content
}

// Inject delivers an inbound message to the Incoming channel.
func (m *MockMessenger) Inject(msg models.IncomingMessage) {
	m.incoming <- msg
}

// Sent returns a copy of all recorded sends.
func (m *MockMessenger) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the recorded sends addressed to one recipient.
func (m *MockMessenger) SentTo(to string) []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentMessage
	for _, s := range m.sent {
		if s.To == to {
			out = append(out, s)
		}
	}
	return out
}

// LastSentTo returns the most recent send to a recipient, or nil.
func (m *MockMessenger) LastSentTo(to string) *SentMessage {
	msgs := m.SentTo(to)
	if len(msgs) == 0 {
		return nil
	}
	return &msgs[len(msgs)-1]
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}
