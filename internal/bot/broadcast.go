package bot

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/LoveBot/internal/models"
	"golang.org/x/sync/errgroup"
)

// DefaultBroadcastConcurrency bounds how many chats are sent to in parallel
// during a broadcast.
const DefaultBroadcastConcurrency = 8

// Broadcast sends a random morning-category text plus a random image to every
// authorized chat. The registry is queried at fire time, so chats authorized
// since startup are included. Fan-out is concurrent across chats while the
// text-then-photo order is preserved within each chat; a failure for one chat
// is logged and never prevents delivery to the others.
func (b *Bot) Broadcast(ctx context.Context) {
	chats, err := b.store.AuthorizedChats()
	if err != nil {
		slog.Error("Bot broadcast aborted: authorized chat lookup failed", "error", err)
		return
	}

	slog.Info("Bot broadcast starting", "chats", len(chats))

	g := new(errgroup.Group)
	g.SetLimit(DefaultBroadcastConcurrency)
	for _, chatID := range chats {
		g.Go(func() error {
			if err := b.sendSample(ctx, chatID, models.CategoryMorning); err != nil {
				slog.Error("Bot broadcast delivery failed", "error", err, "chatID", chatID)
			}
			// Per-chat failures never abort the remaining chats.
			return nil
		})
	}
	g.Wait()

	slog.Info("Bot broadcast finished", "chats", len(chats))
}
