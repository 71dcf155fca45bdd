package bot

import (
	"context"
	"fmt"
	"testing"

	"github.com/BTreeMap/LoveBot/internal/models"
)

func TestBroadcastDeliversToAllAuthorizedChats(t *testing.T) {
	b, msg, st := newTestBot(t)
	seedCorpus(t, st)

	chats := []string{"15550001", "15550002", "15550003"}
	for _, chatID := range chats {
		authorize(t, st, chatID)
	}

	b.Broadcast(context.Background())

	for _, chatID := range chats {
		sent := msg.SentTo(chatID)
		if len(sent) != 2 {
			t.Errorf("chat %s received %d sends, want text plus photo", chatID, len(sent))
			continue
		}
		if sent[0].IsPhoto || !sent[1].IsPhoto {
			t.Errorf("chat %s: text must precede the photo: %+v", chatID, sent)
		}
		if sent[0].Text != "good morning my love" {
			t.Errorf("chat %s received %q, want the morning-category text", chatID, sent[0].Text)
		}
	}
}

func TestBroadcastNoAuthorizedChats(t *testing.T) {
	b, msg, st := newTestBot(t)
	seedCorpus(t, st)

	b.Broadcast(context.Background())

	if len(msg.Sent()) != 0 {
		t.Errorf("broadcast with no authorized chats sent %d messages", len(msg.Sent()))
	}
}

func TestBroadcastOneFailingChatDoesNotBlockOthers(t *testing.T) {
	b, msg, st := newTestBot(t)
	seedCorpus(t, st)

	for i := 1; i <= 5; i++ {
		authorize(t, st, fmt.Sprintf("1555000%d", i))
	}
	msg.FailTextTo = "15550003"

	b.Broadcast(context.Background())

	for i := 1; i <= 5; i++ {
		chatID := fmt.Sprintf("1555000%d", i)
		sent := msg.SentTo(chatID)
		if chatID == msg.FailTextTo {
			if len(sent) != 0 {
				t.Errorf("failing chat recorded %d sends", len(sent))
			}
			continue
		}
		if len(sent) != 2 {
			t.Errorf("chat %s received %d sends despite an unrelated failure", chatID, len(sent))
		}
	}
}

func TestBroadcastIncludesChatsAuthorizedAfterStartup(t *testing.T) {
	b, msg, st := newTestBot(t)
	seedCorpus(t, st)

	// First fire: nobody authorized yet.
	b.Broadcast(context.Background())
	if len(msg.Sent()) != 0 {
		t.Fatalf("unexpected sends before any authorization")
	}

	// The registry is consulted at fire time, so a chat authorized between
	// fires is included in the next one.
	authorize(t, st, "15550009")
	b.Broadcast(context.Background())

	if len(msg.SentTo("15550009")) != 2 {
		t.Errorf("newly authorized chat missed the broadcast")
	}
}

func TestBroadcastUsesMorningCategory(t *testing.T) {
	b, msg, st := newTestBot(t)
	authorize(t, st, "15550001")
	if err := st.AddMessage(models.Message{Text: "general only", Category: models.CategoryGeneral}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.SaveImage([]byte("img")); err != nil {
		t.Fatal(err)
	}

	// No morning messages exist, so the broadcast reports a failure rather
	// than falling back to another category.
	b.Broadcast(context.Background())

	sent := msg.SentTo("15550001")
	if len(sent) != 1 || sent[0].Text != searchFailedMessage {
		t.Errorf("expected failure notice for empty morning corpus, got %+v", sent)
	}
}
