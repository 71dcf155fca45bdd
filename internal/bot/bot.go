// Package bot implements the password-gated command surface of LoveBot.
//
// The dispatcher consumes inbound chat events from a messaging service,
// routes replies to their pending conversations, and handles the /love,
// /info, /password, and /add commands.
package bot

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/LoveBot/internal/conversation"
	"github.com/BTreeMap/LoveBot/internal/messaging"
	"github.com/BTreeMap/LoveBot/internal/models"
	"github.com/BTreeMap/LoveBot/internal/store"
	"github.com/BTreeMap/LoveBot/internal/util"
)

// User-visible chat messages. Failures are described in general terms only;
// internal error detail never reaches the chat.
const (
	notAuthenticatedMessage  = "You are not authorized."
	searchFailedMessage      = "Search failed on the server side."
	alreadyAuthorizedMessage = "You are already authorized."
	passwordPromptMessage    = "Please send the password as a reply to this message."
	authorizedMessage        = "You are now authorized."
	wrongPasswordMessage     = "Wrong password, please try again with /password."
	addPromptMessage         = "Send a new image as a reply to this message."
	addSuccessMessage        = "The image was added successfully."
	addFailedMessage         = "The image could not be added."
	addNoImageMessage        = "Please send exactly one image. Try /add again."
)

// Sweep configuration for abandoned conversations. Prompts that are never
// answered are removed after DefaultPendingReplyTTL.
const (
	DefaultSweepInterval   = 1 * time.Hour
	DefaultPendingReplyTTL = 24 * time.Hour
)

// Opts holds configuration options for the bot.
type Opts struct {
	Password string
	InfoText string
}

// Option defines a configuration option for the bot.
type Option func(*Opts)

// WithPassword sets the shared password that gates authorization.
func WithPassword(password string) Option {
	return func(o *Opts) { o.Password = password }
}

// WithInfoText sets the static text served by /info.
func WithInfoText(text string) Option {
	return func(o *Opts) { o.InfoText = text }
}

// Bot dispatches inbound commands and replies for all chats.
type Bot struct {
	msg      messaging.Service
	store    store.Store
	tracker  *conversation.Tracker
	password string
	infoText string
}

// New creates a bot over the given messaging service, store, and tracker.
func New(msg messaging.Service, st store.Store, tracker *conversation.Tracker, opts ...Option) *Bot {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Bot{
		msg:      msg,
		store:    st,
		tracker:  tracker,
		password: cfg.Password,
		infoText: cfg.InfoText,
	}
}

// Start launches the receive loop and the abandoned-conversation sweep.
// Each inbound message is handled in its own goroutine so a slow handler
// (e.g. a media download) never stalls unrelated chats.
func (b *Bot) Start(ctx context.Context) {
	slog.Info("Bot starting receive loop")

	go func() {
		defer slog.Info("Bot stopped receive loop")
		for {
			select {
			case msg, ok := <-b.msg.Incoming():
				if !ok {
					slog.Debug("Bot incoming channel closed")
					return
				}
				go b.handleMessage(ctx, msg)
			case <-ctx.Done():
				slog.Debug("Bot stopping due to context cancellation")
				return
			}
		}
	}()

	go b.runSweep(ctx)
}

// runSweep periodically expires pending replies that were never answered.
func (b *Bot) runSweep(ctx context.Context) {
	ticker := time.NewTicker(DefaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.tracker.ExpireOlderThan(DefaultPendingReplyTTL)
		case <-ctx.Done():
			return
		}
	}
}

// handleMessage routes one inbound message: replies resolve pending
// conversations first; everything else is matched against the command table.
// Unmatched traffic is ignored as expected chatter.
func (b *Bot) handleMessage(ctx context.Context, msg models.IncomingMessage) {
	if msg.ReplyToID != "" {
		if b.tracker.Resolve(ctx, msg.From, msg.ReplyToID, msg) {
			return
		}
	}

	command := strings.ToLower(firstWord(msg.Text))
	switch command {
	case "/love":
		b.handleLove(ctx, msg.From)
	case "/info":
		b.handleInfo(ctx, msg.From)
	case "/password":
		b.handlePassword(ctx, msg.From)
	case "/add":
		b.handleAdd(ctx, msg.From)
	default:
		slog.Debug("Bot ignoring non-command message", "from", msg.From)
	}
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// checkAuthorization gates a command. It sends the appropriate chat message
// on failure and returns true only when the chat may proceed.
func (b *Bot) checkAuthorization(ctx context.Context, chatID string) bool {
	authorized, err := b.store.IsAuthorized(chatID)
	if err != nil {
		slog.Error("Bot authorization check failed", "error", err, "chatID", chatID)
		b.sendText(ctx, chatID, searchFailedMessage)
		return false
	}
	if !authorized {
		slog.Info("Bot rejected unauthorized chat", "chatID", chatID)
		b.sendText(ctx, chatID, notAuthenticatedMessage)
		return false
	}
	return true
}

// sendText sends a text message, logging rather than propagating failures.
func (b *Bot) sendText(ctx context.Context, chatID, text string) {
	if _, err := b.msg.SendText(ctx, chatID, text); err != nil {
		slog.Error("Bot failed to send text", "error", err, "chatID", chatID)
	}
}

// handleLove sends a random general-category text plus a random image.
func (b *Bot) handleLove(ctx context.Context, chatID string) {
	if !b.checkAuthorization(ctx, chatID) {
		return
	}
	if err := b.sendSample(ctx, chatID, models.CategoryGeneral); err != nil {
		slog.Error("Bot /love failed", "error", err, "chatID", chatID)
	}
}

// handleInfo sends the configured static info text.
func (b *Bot) handleInfo(ctx context.Context, chatID string) {
	if !b.checkAuthorization(ctx, chatID) {
		return
	}
	b.sendText(ctx, chatID, b.infoText)
}

// sendSample picks one message from the category and one image, both
// uniformly at random over the corpus snapshot at call time, and sends the
// text followed by the photo. The two sends are not atomic: a photo failure
// after a delivered text affects the photo only. An empty corpus is reported
// like a lookup failure.
func (b *Bot) sendSample(ctx context.Context, chatID string, category models.Category) error {
	messages, err := b.store.FindMessages(category)
	if err != nil {
		slog.Error("Bot message lookup failed", "error", err, "chatID", chatID, "category", category)
		b.sendText(ctx, chatID, searchFailedMessage)
		return err
	}
	message, ok := util.PickRandom(messages)
	if !ok {
		slog.Error("Bot message corpus is empty", "chatID", chatID, "category", category)
		b.sendText(ctx, chatID, searchFailedMessage)
		return models.ErrEmptyCorpus
	}

	if _, err := b.msg.SendText(ctx, chatID, message.Text); err != nil {
		slog.Error("Bot failed to send sampled text", "error", err, "chatID", chatID)
		return err
	}

	images, err := b.store.FindImages()
	if err != nil {
		slog.Error("Bot image lookup failed", "error", err, "chatID", chatID)
		b.sendText(ctx, chatID, searchFailedMessage)
		return err
	}
	image, ok := util.PickRandom(images)
	if !ok {
		slog.Error("Bot image corpus is empty", "chatID", chatID)
		b.sendText(ctx, chatID, searchFailedMessage)
		return models.ErrEmptyCorpus
	}

	if _, err := b.msg.SendPhoto(ctx, chatID, image); err != nil {
		slog.Error("Bot failed to send sampled photo", "error", err, "chatID", chatID, "image", image.ID)
		return err
	}
	return nil
}

// handlePassword runs the two-step authorization conversation: prompt for the
// password, then compare the reply against the configured secret. A mismatch
// ends the conversation; the user reissues /password for another attempt.
func (b *Bot) handlePassword(ctx context.Context, chatID string) {
	authorized, err := b.store.IsAuthorized(chatID)
	if err != nil {
		slog.Error("Bot authorization check failed", "error", err, "chatID", chatID)
		b.sendText(ctx, chatID, searchFailedMessage)
		return
	}
	if authorized {
		b.sendText(ctx, chatID, alreadyAuthorizedMessage)
		return
	}

	promptID, err := b.msg.SendText(ctx, chatID, passwordPromptMessage)
	if err != nil {
		slog.Error("Bot failed to send password prompt", "error", err, "chatID", chatID)
		return
	}

	if err := b.tracker.Register(chatID, promptID, b.resolvePassword); err != nil {
		// Duplicate prompts indicate a transport handing out reused message
		// IDs; keep it internal.
		slog.Error("Bot failed to register password conversation", "error", err, "chatID", chatID, "promptID", promptID)
	}
}

// resolvePassword completes the /password conversation.
func (b *Bot) resolvePassword(ctx context.Context, reply models.IncomingMessage) {
	chatID := reply.From

	if subtle.ConstantTimeCompare([]byte(reply.Text), []byte(b.password)) != 1 {
		slog.Info("Bot password mismatch", "chatID", chatID)
		b.sendText(ctx, chatID, wrongPasswordMessage)
		return
	}

	// Authorize is idempotent: a concurrent or repeated correct submission
	// never creates a duplicate record.
	if err := b.store.Authorize(chatID); err != nil {
		slog.Error("Bot failed to persist authorization", "error", err, "chatID", chatID)
		b.sendText(ctx, chatID, searchFailedMessage)
		return
	}

	slog.Info("Bot authorized chat", "chatID", chatID)
	b.sendText(ctx, chatID, authorizedMessage)
}

// handleAdd runs the two-step add-image conversation: prompt for an image,
// then persist the attachment from the reply.
func (b *Bot) handleAdd(ctx context.Context, chatID string) {
	if !b.checkAuthorization(ctx, chatID) {
		return
	}

	promptID, err := b.msg.SendText(ctx, chatID, addPromptMessage)
	if err != nil {
		slog.Error("Bot failed to send add prompt", "error", err, "chatID", chatID)
		return
	}

	if err := b.tracker.Register(chatID, promptID, b.resolveAdd); err != nil {
		slog.Error("Bot failed to register add conversation", "error", err, "chatID", chatID, "promptID", promptID)
	}
}

// resolveAdd completes the /add conversation. Authorization is re-verified at
// resolution time: it may have changed between prompt and reply.
func (b *Bot) resolveAdd(ctx context.Context, reply models.IncomingMessage) {
	chatID := reply.From

	if !b.checkAuthorization(ctx, chatID) {
		return
	}

	if !reply.HasImage() {
		slog.Info("Bot /add reply carried no image", "chatID", chatID)
		b.sendText(ctx, chatID, addNoImageMessage)
		return
	}

	content, err := b.msg.FetchAttachment(ctx, reply.ImageID)
	if err != nil {
		slog.Error("Bot failed to fetch image attachment", "error", err, "chatID", chatID, "imageID", reply.ImageID)
		b.sendText(ctx, chatID, addFailedMessage)
		return
	}

	id, err := b.store.SaveImage(content)
	if err != nil {
		slog.Error("Bot failed to save image", "error", err, "chatID", chatID)
		b.sendText(ctx, chatID, addFailedMessage)
		return
	}

	slog.Info("Bot added corpus image", "chatID", chatID, "imageID", id, "size", len(content))
	b.sendText(ctx, chatID, addSuccessMessage)
}
