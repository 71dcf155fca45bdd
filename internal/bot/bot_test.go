package bot

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/LoveBot/internal/conversation"
	"github.com/BTreeMap/LoveBot/internal/models"
	"github.com/BTreeMap/LoveBot/internal/store"
	"github.com/BTreeMap/LoveBot/internal/testutil"
)

const (
	testPassword = "xyz789"
	testInfoText = "Send /love to receive a surprise."
)

func newTestBot(t *testing.T) (*Bot, *testutil.MockMessenger, *store.InMemoryStore) {
	t.Helper()
	msg := testutil.NewMockMessenger()
	st := store.NewInMemoryStore()
	b := New(msg, st, conversation.NewTracker(),
		WithPassword(testPassword),
		WithInfoText(testInfoText),
	)
	return b, msg, st
}

func seedCorpus(t *testing.T, st *store.InMemoryStore) {
	t.Helper()
	for _, m := range []models.Message{
		{Text: "good morning my love", Category: models.CategoryMorning},
		{Text: "thinking of you", Category: models.CategoryGeneral},
	} {
		if err := st.AddMessage(m); err != nil {
			t.Fatalf("failed to seed message: %v", err)
		}
	}
	if _, err := st.SaveImage([]byte("fake-image-bytes")); err != nil {
		t.Fatalf("failed to seed image: %v", err)
	}
}

func authorize(t *testing.T, st *store.InMemoryStore, chatID string) {
	t.Helper()
	if err := st.Authorize(chatID); err != nil {
		t.Fatalf("failed to authorize %s: %v", chatID, err)
	}
}

func TestLoveUnauthorized(t *testing.T) {
	b, msg, st := newTestBot(t)
	seedCorpus(t, st)

	b.handleMessage(context.Background(), models.IncomingMessage{ID: "in1", From: "15550001", Text: "/love"})

	sent := msg.SentTo("15550001")
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Text != notAuthenticatedMessage {
		t.Errorf("expected rejection message, got %q", sent[0].Text)
	}
}

func TestLoveSendsTextThenPhoto(t *testing.T) {
	b, msg, st := newTestBot(t)
	seedCorpus(t, st)
	authorize(t, st, "15550001")

	b.handleMessage(context.Background(), models.IncomingMessage{ID: "in1", From: "15550001", Text: "/love"})

	sent := msg.SentTo("15550001")
	if len(sent) != 2 {
		t.Fatalf("expected text plus photo, got %d sends", len(sent))
	}
	if sent[0].IsPhoto {
		t.Error("text must be sent before the photo")
	}
	if sent[0].Text != "thinking of you" {
		t.Errorf("expected general-category text, got %q", sent[0].Text)
	}
	if !sent[1].IsPhoto {
		t.Error("second send should be a photo")
	}
}

func TestLoveCaseInsensitiveWithTrailingText(t *testing.T) {
	b, msg, st := newTestBot(t)
	seedCorpus(t, st)
	authorize(t, st, "15550001")

	b.handleMessage(context.Background(), models.IncomingMessage{ID: "in1", From: "15550001", Text: "/LOVE please"})

	if len(msg.SentTo("15550001")) != 2 {
		t.Errorf("command with trailing text was not dispatched")
	}
}

func TestLoveEmptyCorpus(t *testing.T) {
	b, msg, st := newTestBot(t)
	authorize(t, st, "15550001")

	b.handleMessage(context.Background(), models.IncomingMessage{ID: "in1", From: "15550001", Text: "/love"})

	sent := msg.SentTo("15550001")
	if len(sent) != 1 || sent[0].Text != searchFailedMessage {
		t.Errorf("expected single failure message, got %+v", sent)
	}
}

func TestLoveEmptyImageCorpus(t *testing.T) {
	b, msg, st := newTestBot(t)
	authorize(t, st, "15550001")
	if err := st.AddMessage(models.Message{Text: "hi", Category: models.CategoryGeneral}); err != nil {
		t.Fatal(err)
	}

	b.handleMessage(context.Background(), models.IncomingMessage{ID: "in1", From: "15550001", Text: "/love"})

	// The text goes out, then the image lookup comes up empty.
	sent := msg.SentTo("15550001")
	if len(sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sent))
	}
	if sent[1].Text != searchFailedMessage {
		t.Errorf("expected failure message after text, got %q", sent[1].Text)
	}
}

func TestInfo(t *testing.T) {
	b, msg, st := newTestBot(t)
	authorize(t, st, "15550001")

	b.handleMessage(context.Background(), models.IncomingMessage{ID: "in1", From: "15550001", Text: "/info"})

	sent := msg.SentTo("15550001")
	if len(sent) != 1 || sent[0].Text != testInfoText {
		t.Errorf("expected info text, got %+v", sent)
	}
}

func TestNonCommandIgnored(t *testing.T) {
	b, msg, st := newTestBot(t)
	authorize(t, st, "15550001")

	for _, text := range []string{"hello there", "", "love", "/unknown"} {
		b.handleMessage(context.Background(), models.IncomingMessage{ID: "in1", From: "15550001", Text: text})
	}

	if len(msg.Sent()) != 0 {
		t.Errorf("non-command messages triggered %d sends", len(msg.Sent()))
	}
}

func TestPasswordFlowCorrect(t *testing.T) {
	b, msg, st := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, models.IncomingMessage{ID: "in1", From: "15550001", Text: "/password"})

	prompt := msg.LastSentTo("15550001")
	if prompt == nil || prompt.Text != passwordPromptMessage {
		t.Fatalf("expected password prompt, got %+v", prompt)
	}

	b.handleMessage(ctx, models.IncomingMessage{
		ID: "in2", From: "15550001", Text: testPassword, ReplyToID: prompt.ID,
	})

	last := msg.LastSentTo("15550001")
	if last.Text != authorizedMessage {
		t.Errorf("expected authorization confirmation, got %q", last.Text)
	}
	authorized, err := st.IsAuthorized("15550001")
	if err != nil || !authorized {
		t.Errorf("chat not persisted as authorized: %v %v", authorized, err)
	}
}

func TestPasswordFlowWrong(t *testing.T) {
	b, msg, st := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, models.IncomingMessage{ID: "in1", From: "15550001", Text: "/password"})
	prompt := msg.LastSentTo("15550001")

	b.handleMessage(ctx, models.IncomingMessage{
		ID: "in2", From: "15550001", Text: "wrong-guess", ReplyToID: prompt.ID,
	})

	last := msg.LastSentTo("15550001")
	if last.Text != wrongPasswordMessage {
		t.Errorf("expected wrong password message, got %q", last.Text)
	}
	authorized, _ := st.IsAuthorized("15550001")
	if authorized {
		t.Error("wrong password must not authorize the chat")
	}

	// The conversation ended with the mismatch: the same reply again is inert.
	before := len(msg.Sent())
	b.handleMessage(ctx, models.IncomingMessage{
		ID: "in3", From: "15550001", Text: testPassword, ReplyToID: prompt.ID,
	})
	if len(msg.Sent()) != before {
		t.Error("replying again after a failed attempt should be a no-op")
	}

	// A fresh /password starts over and succeeds.
	b.handleMessage(ctx, models.IncomingMessage{ID: "in4", From: "15550001", Text: "/password"})
	prompt = msg.LastSentTo("15550001")
	b.handleMessage(ctx, models.IncomingMessage{
		ID: "in5", From: "15550001", Text: testPassword, ReplyToID: prompt.ID,
	})
	if msg.LastSentTo("15550001").Text != authorizedMessage {
		t.Error("retry via a fresh /password did not authorize")
	}
}

func TestPasswordAlreadyAuthorized(t *testing.T) {
	b, msg, st := newTestBot(t)
	authorize(t, st, "15550001")

	b.handleMessage(context.Background(), models.IncomingMessage{ID: "in1", From: "15550001", Text: "/password"})

	sent := msg.SentTo("15550001")
	if len(sent) != 1 || sent[0].Text != alreadyAuthorizedMessage {
		t.Errorf("expected already-authorized notice, got %+v", sent)
	}
}

func TestPasswordReplyResolvedAtMostOnce(t *testing.T) {
	b, msg, _ := newTestBot(t)
	ctx := context.Background()

	b.handleMessage(ctx, models.IncomingMessage{ID: "in1", From: "15550001", Text: "/password"})
	prompt := msg.LastSentTo("15550001")

	reply := models.IncomingMessage{ID: "in2", From: "15550001", Text: testPassword, ReplyToID: prompt.ID}
	b.handleMessage(ctx, reply)
	before := len(msg.Sent())

	// Duplicate delivery of the same reply runs no continuation and, since the
	// text is not a command, sends nothing.
	b.handleMessage(ctx, reply)
	if len(msg.Sent()) != before {
		t.Errorf("duplicate reply produced %d extra sends", len(msg.Sent())-before)
	}
}

func TestAddFlow(t *testing.T) {
	b, msg, st := newTestBot(t)
	authorize(t, st, "15550001")
	ctx := context.Background()

	b.handleMessage(ctx, models.IncomingMessage{ID: "in1", From: "15550001", Text: "/add"})
	prompt := msg.LastSentTo("15550001")
	if prompt == nil || prompt.Text != addPromptMessage {
		t.Fatalf("expected add prompt, got %+v", prompt)
	}

	msg.AddAttachment("att1", []byte("new-image-bytes"))
	b.handleMessage(ctx, models.IncomingMessage{
		ID: "in2", From: "15550001", ImageID: "att1", ReplyToID: prompt.ID,
	})

	if msg.LastSentTo("15550001").Text != addSuccessMessage {
		t.Errorf("expected success confirmation, got %q", msg.LastSentTo("15550001").Text)
	}
	images, err := st.FindImages()
	if err != nil {
		t.Fatal(err)
	}
	if len(images) != 1 || string(images[0].Content) != "new-image-bytes" {
		t.Errorf("image not persisted: %+v", images)
	}
}

func TestAddUnauthorized(t *testing.T) {
	b, msg, _ := newTestBot(t)

	b.handleMessage(context.Background(), models.IncomingMessage{ID: "in1", From: "15550001", Text: "/add"})

	sent := msg.SentTo("15550001")
	if len(sent) != 1 || sent[0].Text != notAuthenticatedMessage {
		t.Errorf("expected rejection, got %+v", sent)
	}
}

func TestAddReplyWithoutImage(t *testing.T) {
	b, msg, st := newTestBot(t)
	authorize(t, st, "15550001")
	ctx := context.Background()

	b.handleMessage(ctx, models.IncomingMessage{ID: "in1", From: "15550001", Text: "/add"})
	prompt := msg.LastSentTo("15550001")

	b.handleMessage(ctx, models.IncomingMessage{
		ID: "in2", From: "15550001", Text: "here you go", ReplyToID: prompt.ID,
	})

	if msg.LastSentTo("15550001").Text != addNoImageMessage {
		t.Errorf("expected no-image notice, got %q", msg.LastSentTo("15550001").Text)
	}
	images, _ := st.FindImages()
	if len(images) != 0 {
		t.Errorf("corpus changed by image-less reply: %d images", len(images))
	}

	// /add is repeatable after the failed attempt.
	b.handleMessage(ctx, models.IncomingMessage{ID: "in3", From: "15550001", Text: "/add"})
	prompt = msg.LastSentTo("15550001")
	msg.AddAttachment("att1", []byte("retry-image"))
	b.handleMessage(ctx, models.IncomingMessage{
		ID: "in4", From: "15550001", ImageID: "att1", ReplyToID: prompt.ID,
	})
	images, _ = st.FindImages()
	if len(images) != 1 {
		t.Errorf("retried /add did not persist the image")
	}
}

func TestAddAttachmentFetchFailure(t *testing.T) {
	b, msg, st := newTestBot(t)
	authorize(t, st, "15550001")
	ctx := context.Background()

	b.handleMessage(ctx, models.IncomingMessage{ID: "in1", From: "15550001", Text: "/add"})
	prompt := msg.LastSentTo("15550001")

	// Attachment was never registered, so the fetch fails.
	b.handleMessage(ctx, models.IncomingMessage{
		ID: "in2", From: "15550001", ImageID: "missing", ReplyToID: prompt.ID,
	})

	if msg.LastSentTo("15550001").Text != addFailedMessage {
		t.Errorf("expected add failure notice, got %q", msg.LastSentTo("15550001").Text)
	}
	images, _ := st.FindImages()
	if len(images) != 0 {
		t.Error("failed fetch must not persist an image")
	}
}

func TestStartProcessesIncomingMessages(t *testing.T) {
	b, msg, st := newTestBot(t)
	authorize(t, st, "15550001")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	msg.Inject(models.IncomingMessage{ID: "in1", From: "15550001", Text: "/info"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if last := msg.LastSentTo("15550001"); last != nil && last.Text == testInfoText {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("injected /info was not handled by the receive loop")
}
