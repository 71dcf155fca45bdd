// Package conversation correlates inbound replies with the outbound prompts
// that elicited them.
//
// A handler that sends a prompt ("send the password as a reply to this
// message") registers a continuation keyed by (chat, prompt message ID). When
// a reply referencing that prompt arrives, the tracker consumes the entry and
// runs the continuation. Entries are ephemeral and never persisted.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LoveBot/internal/models"
)

// Continuation processes the reply that resolves a pending prompt.
type Continuation func(ctx context.Context, reply models.IncomingMessage)

// key identifies a pending reply: a chat may have several open prompts, but
// each prompt message has at most one pending entry.
type key struct {
	chatID   string
	promptID models.MessageID
}

type pendingReply struct {
	continuation Continuation
	createdAt    time.Time
}

// Tracker is a concurrency-safe registry of pending replies.
type Tracker struct {
	mu      sync.Mutex
	pending map[key]pendingReply
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pending: make(map[key]pendingReply),
		now:     time.Now,
	}
}

// Register records a continuation to run when a reply to the given prompt
// arrives. Returns models.ErrDuplicatePrompt if an entry already exists for
// this (chat, prompt) pair; silently overwriting would drop the first
// conversation's continuation.
func (t *Tracker) Register(chatID string, promptID models.MessageID, fn Continuation) error {
	if chatID == "" {
		return models.ErrEmptyChatID
	}
	k := key{chatID: chatID, promptID: promptID}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[k]; exists {
		slog.Error("Tracker Register rejected duplicate prompt", "chatID", chatID, "promptID", promptID)
		return models.ErrDuplicatePrompt
	}
	t.pending[k] = pendingReply{continuation: fn, createdAt: t.now()}
	slog.Debug("Tracker registered pending reply", "chatID", chatID, "promptID", promptID, "pending", len(t.pending))
	return nil
}

// Resolve consumes the pending entry for (chat, prompt) and invokes its
// continuation with the reply. A missing entry is a no-op returning false:
// replies unrelated to any open conversation are expected traffic.
//
// The entry is removed before the continuation runs, so duplicate delivery of
// the same reply can never invoke the continuation twice, and the
// continuation is invoked without the tracker lock held, so a slow
// continuation cannot stall unrelated Register/Resolve calls.
func (t *Tracker) Resolve(ctx context.Context, chatID string, promptID models.MessageID, reply models.IncomingMessage) bool {
	k := key{chatID: chatID, promptID: promptID}

	t.mu.Lock()
	entry, exists := t.pending[k]
	if exists {
		delete(t.pending, k)
	}
	t.mu.Unlock()

	if !exists {
		slog.Debug("Tracker Resolve found no pending reply", "chatID", chatID, "promptID", promptID)
		return false
	}

	slog.Debug("Tracker resolving pending reply", "chatID", chatID, "promptID", promptID)
	entry.continuation(ctx, reply)
	return true
}

// ExpireOlderThan removes pending entries older than the given age and
// returns how many were removed. Abandoned prompts are never resolved, so
// without a periodic sweep the registry would grow without bound.
func (t *Tracker) ExpireOlderThan(age time.Duration) int {
	cutoff := t.now().Add(-age)

	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for k, entry := range t.pending {
		if entry.createdAt.Before(cutoff) {
			delete(t.pending, k)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("Tracker expired abandoned prompts", "removed", removed, "remaining", len(t.pending))
	}
	return removed
}

// Len returns the number of pending replies.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
