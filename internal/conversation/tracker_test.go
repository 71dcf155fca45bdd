package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LoveBot/internal/models"
)

func TestRegisterAndResolve(t *testing.T) {
	tracker := NewTracker()
	ctx := context.Background()

	var got models.IncomingMessage
	err := tracker.Register("chat1", "prompt1", func(ctx context.Context, reply models.IncomingMessage) {
		got = reply
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if tracker.Len() != 1 {
		t.Errorf("expected 1 pending reply, got %d", tracker.Len())
	}

	reply := models.IncomingMessage{ID: "reply1", From: "chat1", Text: "hello", ReplyToID: "prompt1"}
	if !tracker.Resolve(ctx, "chat1", "prompt1", reply) {
		t.Fatal("Resolve returned false for a registered prompt")
	}
	if got.ID != "reply1" || got.Text != "hello" {
		t.Errorf("continuation received wrong reply: %+v", got)
	}
	if tracker.Len() != 0 {
		t.Errorf("expected 0 pending replies after resolve, got %d", tracker.Len())
	}
}

func TestRegisterEmptyChatID(t *testing.T) {
	tracker := NewTracker()
	err := tracker.Register("", "prompt1", func(ctx context.Context, reply models.IncomingMessage) {})
	if !errors.Is(err, models.ErrEmptyChatID) {
		t.Errorf("expected ErrEmptyChatID, got %v", err)
	}
}

func TestRegisterDuplicatePrompt(t *testing.T) {
	tracker := NewTracker()
	noop := func(ctx context.Context, reply models.IncomingMessage) {}

	if err := tracker.Register("chat1", "prompt1", noop); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	err := tracker.Register("chat1", "prompt1", noop)
	if !errors.Is(err, models.ErrDuplicatePrompt) {
		t.Errorf("expected ErrDuplicatePrompt, got %v", err)
	}
	if tracker.Len() != 1 {
		t.Errorf("duplicate Register changed pending count: %d", tracker.Len())
	}
}

func TestSamePromptIDInDifferentChats(t *testing.T) {
	tracker := NewTracker()
	ctx := context.Background()

	var resolved []string
	for _, chat := range []string{"chat1", "chat2"} {
		chat := chat
		err := tracker.Register(chat, "prompt1", func(ctx context.Context, reply models.IncomingMessage) {
			resolved = append(resolved, chat)
		})
		if err != nil {
			t.Fatalf("Register for %s failed: %v", chat, err)
		}
	}

	if !tracker.Resolve(ctx, "chat2", "prompt1", models.IncomingMessage{From: "chat2"}) {
		t.Fatal("Resolve for chat2 returned false")
	}
	if len(resolved) != 1 || resolved[0] != "chat2" {
		t.Errorf("wrong continuation ran: %v", resolved)
	}
	if tracker.Len() != 1 {
		t.Errorf("chat1's entry should remain, pending = %d", tracker.Len())
	}
}

func TestResolveAtMostOnce(t *testing.T) {
	tracker := NewTracker()
	ctx := context.Background()

	invocations := 0
	if err := tracker.Register("chat1", "prompt1", func(ctx context.Context, reply models.IncomingMessage) {
		invocations++
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	reply := models.IncomingMessage{From: "chat1", ReplyToID: "prompt1"}
	if !tracker.Resolve(ctx, "chat1", "prompt1", reply) {
		t.Fatal("first Resolve returned false")
	}
	// Duplicate delivery of the same reply must be a no-op.
	if tracker.Resolve(ctx, "chat1", "prompt1", reply) {
		t.Error("second Resolve returned true")
	}
	if invocations != 1 {
		t.Errorf("continuation ran %d times, want 1", invocations)
	}
}

func TestResolveUnrelatedReply(t *testing.T) {
	tracker := NewTracker()
	ctx := context.Background()

	if tracker.Resolve(ctx, "chat1", "unknown", models.IncomingMessage{From: "chat1"}) {
		t.Error("Resolve returned true for a reply with no pending entry")
	}
}

func TestExpireOlderThan(t *testing.T) {
	tracker := NewTracker()
	noop := func(ctx context.Context, reply models.IncomingMessage) {}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	tracker.now = func() time.Time { return current }

	if err := tracker.Register("chat1", "old", noop); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	current = base.Add(23 * time.Hour)
	if err := tracker.Register("chat1", "fresh", noop); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	current = base.Add(25 * time.Hour)
	removed := tracker.ExpireOlderThan(24 * time.Hour)
	if removed != 1 {
		t.Errorf("expected 1 expired entry, got %d", removed)
	}
	if tracker.Len() != 1 {
		t.Errorf("expected 1 remaining entry, got %d", tracker.Len())
	}

	// The fresh prompt must still resolve.
	if !tracker.Resolve(context.Background(), "chat1", "fresh", models.IncomingMessage{From: "chat1"}) {
		t.Error("fresh entry was expired")
	}
	if tracker.Resolve(context.Background(), "chat1", "old", models.IncomingMessage{From: "chat1"}) {
		t.Error("old entry survived the sweep")
	}
}

func TestConcurrentResolve(t *testing.T) {
	tracker := NewTracker()
	ctx := context.Background()

	var mu sync.Mutex
	invocations := 0
	if err := tracker.Register("chat1", "prompt1", func(ctx context.Context, reply models.IncomingMessage) {
		mu.Lock()
		invocations++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var wg sync.WaitGroup
	successes := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			successes <- tracker.Resolve(ctx, "chat1", "prompt1", models.IncomingMessage{From: "chat1"})
		}()
	}
	wg.Wait()
	close(successes)

	winners := 0
	for ok := range successes {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly 1 winning Resolve, got %d", winners)
	}
	if invocations != 1 {
		t.Errorf("continuation ran %d times, want 1", invocations)
	}
}

func TestContinuationRunsWithoutLock(t *testing.T) {
	tracker := NewTracker()
	ctx := context.Background()

	// A continuation that itself registers a new prompt would deadlock if the
	// tracker lock were held during invocation.
	if err := tracker.Register("chat1", "prompt1", func(ctx context.Context, reply models.IncomingMessage) {
		if err := tracker.Register("chat1", "prompt2", func(ctx context.Context, reply models.IncomingMessage) {}); err != nil {
			t.Errorf("nested Register failed: %v", err)
		}
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		tracker.Resolve(ctx, "chat1", "prompt1", models.IncomingMessage{From: "chat1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Resolve deadlocked while continuation used the tracker")
	}
	if tracker.Len() != 1 {
		t.Errorf("expected nested registration to persist, pending = %d", tracker.Len())
	}
}
