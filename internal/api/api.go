// Package api provides the HTTP admin surface and the main wiring logic for LoveBot.
//
// It exposes endpoints for managing the message/image corpus, serves image
// content (also the media target for Twilio photo sends), and assembles the
// store, messenger, conversation tracker, bot, and broadcast scheduler.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/LoveBot/internal/bot"
	"github.com/BTreeMap/LoveBot/internal/conversation"
	"github.com/BTreeMap/LoveBot/internal/messaging"
	"github.com/BTreeMap/LoveBot/internal/scheduler"
	"github.com/BTreeMap/LoveBot/internal/store"
	"github.com/klauspost/compress/gzhttp"
)

// Default configuration constants
const (
	// DefaultAddr is the default API server listen address
	DefaultAddr = ":8080"
	// DefaultBroadcastHour is the local hour of the daily broadcast
	DefaultBroadcastHour = 8
	// DefaultShutdownTimeout bounds graceful HTTP shutdown
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server and bot wiring.
type Opts struct {
	Addr            string
	Password        string
	InfoText        string
	BroadcastHour   int
	BroadcastMinute int
	BroadcastCron   string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithPassword sets the shared authorization password.
func WithPassword(password string) Option {
	return func(o *Opts) { o.Password = password }
}

// WithInfoText sets the static /info text.
func WithInfoText(text string) Option {
	return func(o *Opts) { o.InfoText = text }
}

// WithBroadcastTime sets the local wall-clock time of the daily broadcast.
func WithBroadcastTime(hour, minute int) Option {
	return func(o *Opts) {
		o.BroadcastHour = hour
		o.BroadcastMinute = minute
	}
}

// WithBroadcastCron overrides the daily broadcast with a cron expression.
func WithBroadcastCron(expr string) Option {
	return func(o *Opts) { o.BroadcastCron = expr }
}

// Server holds the API server dependencies.
type Server struct {
	st         store.Store
	msgService messaging.Service
	bot        *bot.Bot
}

// NewServer creates an API server over the given dependencies.
func NewServer(st store.Store, msgService messaging.Service, b *bot.Bot) *Server {
	return &Server{st: st, msgService: msgService, bot: b}
}

// Run wires the whole service together and blocks until ctx is cancelled:
// store → messenger → tracker → bot → broadcast scheduler → HTTP server.
func Run(ctx context.Context, msgService messaging.Service, storeOpts []store.Option, opts ...Option) error {
	cfg := Opts{
		Addr:          DefaultAddr,
		BroadcastHour: DefaultBroadcastHour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Password == "" {
		return fmt.Errorf("authorization password not configured")
	}

	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer msgService.Stop()

	b := bot.New(msgService, st, conversation.NewTracker(),
		bot.WithPassword(cfg.Password),
		bot.WithInfoText(cfg.InfoText),
	)
	b.Start(ctx)

	stopBroadcast, err := startBroadcastSchedule(cfg, b)
	if err != nil {
		return err
	}
	defer stopBroadcast()

	server := &Server{st: st, msgService: msgService, bot: b}
	return server.serve(ctx, cfg.Addr)
}

// buildStore selects a backend from the configured DSN: Postgres, SQLite, or
// in-memory when no DSN is set.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Info("No database DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	case store.DetectDSNType(cfg.DSN) == "postgres":
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(storeOpts...)
	default:
		slog.Info("Using SQLite store", "path", cfg.DSN)
		return store.NewSQLiteStore(storeOpts...)
	}
}

// startBroadcastSchedule arms either the cron-expression scheduler or the
// fixed daily scheduler and returns a stop function.
func startBroadcastSchedule(cfg Opts, b *bot.Bot) (func(), error) {
	broadcast := func() {
		b.Broadcast(context.Background())
	}

	if cfg.BroadcastCron != "" {
		sched := scheduler.NewScheduler()
		if err := sched.AddJob(cfg.BroadcastCron, broadcast); err != nil {
			sched.Stop()
			return nil, fmt.Errorf("invalid broadcast cron expression %q: %w", cfg.BroadcastCron, err)
		}
		slog.Info("Broadcast scheduled via cron expression", "cron", cfg.BroadcastCron)
		return sched.Stop, nil
	}

	daily := scheduler.NewDaily(cfg.BroadcastHour, cfg.BroadcastMinute, time.Local, broadcast)
	daily.Start()
	slog.Info("Broadcast scheduled daily", "hour", cfg.BroadcastHour, "minute", cfg.BroadcastMinute)
	return daily.Stop, nil
}

// serve runs the HTTP server until ctx is cancelled.
func (s *Server) serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: gzhttp.GzipHandler(securityHeaders(s.routes())),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("LoveBot API running", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown failed", "error", err)
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// routes builds the HTTP mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/api/messages", s.messagesHandler)
	mux.HandleFunc("/api/images", s.imagesHandler)
	mux.HandleFunc("/api/images/", s.imageContentHandler)

	// Inbound Twilio traffic arrives over HTTP rather than a live connection.
	if twilioService, ok := s.msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("/webhook/twilio", twilioService.WebhookHandler)
		slog.Info("Twilio webhook endpoint registered", "path", "/webhook/twilio")
	}

	return mux
}

// securityHeaders applies the hardening headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}
