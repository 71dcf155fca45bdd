package messaging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BTreeMap/LoveBot/internal/models"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// fakeWhatsAppSender implements whatsapp.Sender for tests.
type fakeWhatsAppSender struct {
	textsTo []string
	images  [][]byte
	nextID  int
	sendErr error
}

func (f *fakeWhatsAppSender) SendMessage(ctx context.Context, to string, body string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	f.textsTo = append(f.textsTo, to)
	return fmt.Sprintf("WAMSG%d", f.nextID), nil
}

func (f *fakeWhatsAppSender) SendImage(ctx context.Context, to string, content []byte) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	f.images = append(f.images, content)
	return fmt.Sprintf("WAMSG%d", f.nextID), nil
}

func inboundEvent(id, sender string, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender: types.NewJID(sender, types.DefaultUserServer),
			},
			ID:        types.MessageID(id),
			Timestamp: time.Now(),
		},
		Message: msg,
	}
}

func TestWhatsAppSendTextCanonicalizesRecipient(t *testing.T) {
	fake := &fakeWhatsAppSender{}
	svc := NewWhatsAppService(fake)

	id, err := svc.SendText(context.Background(), "+1 (555) 123-4567", "hello")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if id != "WAMSG1" {
		t.Errorf("SendText returned ID %q", id)
	}
	if len(fake.textsTo) != 1 || fake.textsTo[0] != "15551234567" {
		t.Errorf("recipient not canonicalized: %v", fake.textsTo)
	}

	if _, err := svc.SendText(context.Background(), "bad", "hello"); err == nil {
		t.Error("invalid recipient accepted")
	}
}

func TestWhatsAppSendPhotoPassesContent(t *testing.T) {
	fake := &fakeWhatsAppSender{}
	svc := NewWhatsAppService(fake)

	image := models.Image{ID: "img_1", Content: []byte("png-bytes")}
	if _, err := svc.SendPhoto(context.Background(), "15551234567", image); err != nil {
		t.Fatalf("SendPhoto failed: %v", err)
	}
	if len(fake.images) != 1 || string(fake.images[0]) != "png-bytes" {
		t.Errorf("image content not forwarded: %v", fake.images)
	}
}

func TestWhatsAppHandleIncomingConversation(t *testing.T) {
	svc := NewWhatsAppService(&fakeWhatsAppSender{})

	svc.handleIncomingMessage(inboundEvent("MSG1", "15551234567", &waE2E.Message{
		Conversation: proto.String("/love"),
	}))

	select {
	case msg := <-svc.Incoming():
		if msg.From != "15551234567" || msg.Text != "/love" || msg.ID != "MSG1" {
			t.Errorf("unexpected inbound message: %+v", msg)
		}
		if msg.ReplyToID != "" || msg.HasImage() {
			t.Errorf("plain conversation carried reply or image: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message emitted")
	}
}

func TestWhatsAppHandleIncomingReply(t *testing.T) {
	svc := NewWhatsAppService(&fakeWhatsAppSender{})

	svc.handleIncomingMessage(inboundEvent("MSG2", "15551234567", &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String("xyz789"),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID: proto.String("PROMPT1"),
			},
		},
	}))

	select {
	case msg := <-svc.Incoming():
		if msg.Text != "xyz789" || msg.ReplyToID != "PROMPT1" {
			t.Errorf("reply not translated: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message emitted")
	}
}

func TestWhatsAppHandleIncomingImageCachesAttachment(t *testing.T) {
	svc := NewWhatsAppService(&fakeWhatsAppSender{})

	img := &waE2E.ImageMessage{
		Caption: proto.String("here"),
		ContextInfo: &waE2E.ContextInfo{
			StanzaID: proto.String("PROMPT2"),
		},
	}
	svc.handleIncomingMessage(inboundEvent("MSG3", "15551234567", &waE2E.Message{
		ImageMessage: img,
	}))

	select {
	case msg := <-svc.Incoming():
		if !msg.HasImage() || msg.ImageID != "MSG3" {
			t.Errorf("image message carried no attachment ID: %+v", msg)
		}
		if msg.Text != "here" || msg.ReplyToID != "PROMPT2" {
			t.Errorf("caption or reply lost: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message emitted")
	}

	svc.attachMu.Lock()
	cached := svc.attachments["MSG3"]
	svc.attachMu.Unlock()
	if cached != img {
		t.Error("image payload not cached for FetchAttachment")
	}
}

func TestWhatsAppIgnoresOwnMessages(t *testing.T) {
	svc := NewWhatsAppService(&fakeWhatsAppSender{})

	evt := inboundEvent("MSG4", "15551234567", &waE2E.Message{
		Conversation: proto.String("/love"),
	})
	evt.Info.IsFromMe = true
	svc.handleIncomingMessage(evt)

	select {
	case msg := <-svc.Incoming():
		t.Errorf("own message was emitted: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWhatsAppAttachmentCacheEviction(t *testing.T) {
	svc := NewWhatsAppService(&fakeWhatsAppSender{})

	for i := 0; i <= DefaultAttachmentCacheSize; i++ {
		svc.cacheAttachment(fmt.Sprintf("MSG%d", i), &waE2E.ImageMessage{})
	}

	svc.attachMu.Lock()
	defer svc.attachMu.Unlock()
	if len(svc.attachments) != DefaultAttachmentCacheSize {
		t.Errorf("cache holds %d entries, want %d", len(svc.attachments), DefaultAttachmentCacheSize)
	}
	if _, ok := svc.attachments["MSG0"]; ok {
		t.Error("oldest entry was not evicted")
	}
	if _, ok := svc.attachments[fmt.Sprintf("MSG%d", DefaultAttachmentCacheSize)]; !ok {
		t.Error("newest entry missing from cache")
	}
}
