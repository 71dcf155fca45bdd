package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BTreeMap/LoveBot/internal/api"
	"github.com/BTreeMap/LoveBot/internal/lockfile"
	"github.com/BTreeMap/LoveBot/internal/messaging"
	"github.com/BTreeMap/LoveBot/internal/store"
	"github.com/BTreeMap/LoveBot/internal/twiliowhatsapp"
	"github.com/BTreeMap/LoveBot/internal/util"
	"github.com/BTreeMap/LoveBot/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LoveBot state data
	DefaultStateDir = "/var/lib/lovebot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "lovebot.db"
	// MessengerWhatsApp selects the whatsmeow-based transport
	MessengerWhatsApp = "whatsapp"
	// MessengerTwilio selects the Twilio REST transport
	MessengerTwilio = "twilio"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	if *flags.password == "" {
		slog.Error("No authorization password configured; set LOVEBOT_PASSWORD or --password")
		os.Exit(1)
	}

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// A second instance sharing the state directory would double-fire the
	// daily broadcast.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msgService, err := buildMessenger(flags)
	if err != nil {
		slog.Error("Failed to initialize messenger", "error", err)
		os.Exit(1)
	}

	storeOpts := buildStoreOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping LoveBot with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr,
		"messenger", *flags.messenger,
		"broadcast_hour", *flags.broadcastHour,
		"broadcast_minute", *flags.broadcastMinute,
		"broadcast_cron", *flags.broadcastCron)
	if err := api.Run(ctx, msgService, storeOpts, apiOpts...); err != nil {
		slog.Error("LoveBot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LoveBot exited successfully")
}

// Config holds environment configuration
type Config struct {
	Password        string
	InfoText        string
	StateDir        string
	DatabaseURL     string
	WhatsAppDSN     string
	APIAddr         string
	Messenger       string
	MediaBaseURL    string
	BroadcastHour   int
	BroadcastMinute int
	BroadcastCron   string
}

// Flags holds command line flag values
type Flags struct {
	password        *string
	infoText        *string
	qrOutput        *string
	numeric         *bool
	stateDir        *string
	dbDSN           *string
	whatsappDSN     *string
	apiAddr         *string
	messenger       *string
	mediaBaseURL    *string
	broadcastHour   *int
	broadcastMinute *int
	broadcastCron   *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Password:        os.Getenv("LOVEBOT_PASSWORD"),
		InfoText:        os.Getenv("LOVEBOT_INFO_MESSAGE"),
		StateDir:        os.Getenv("LOVEBOT_STATE_DIR"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		APIAddr:         os.Getenv("API_ADDR"),
		Messenger:       os.Getenv("MESSENGER"),
		MediaBaseURL:    os.Getenv("MEDIA_BASE_URL"),
		BroadcastHour:   util.ParseIntEnv("LOVEBOT_BROADCAST_HOUR", api.DefaultBroadcastHour),
		BroadcastMinute: util.ParseIntEnv("LOVEBOT_BROADCAST_MINUTE", 0),
		BroadcastCron:   os.Getenv("LOVEBOT_BROADCAST_CRON"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LOVEBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Prefer LOVEBOT_DB_DSN, then DATABASE_URL, then SQLite in the state directory
	dbDSN := os.Getenv("LOVEBOT_DB_DSN")
	if dbDSN == "" {
		dbDSN = config.DatabaseURL
	}
	if dbDSN == "" {
		dbDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", dbDSN)
	}
	config.DatabaseURL = dbDSN

	// The whatsmeow session store defaults to its own SQLite file alongside ours
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, "whatsmeow.db")
	}

	if config.Messenger == "" {
		config.Messenger = MessengerWhatsApp
	}

	slog.Debug("environment variables loaded",
		"LOVEBOT_PASSWORD_SET", config.Password != "",
		"LOVEBOT_INFO_MESSAGE_SET", config.InfoText != "",
		"LOVEBOT_STATE_DIR", config.StateDir,
		"DB_DSN_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"MESSENGER", config.Messenger,
		"BROADCAST_HOUR", config.BroadcastHour,
		"BROADCAST_MINUTE", config.BroadcastMinute,
		"BROADCAST_CRON", config.BroadcastCron)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		password:        flag.String("password", config.Password, "shared authorization password (overrides $LOVEBOT_PASSWORD)"),
		infoText:        flag.String("info-message", config.InfoText, "static text served by /info (overrides $LOVEBOT_INFO_MESSAGE)"),
		qrOutput:        flag.String("qr-output", "", "path to write login QR code"),
		numeric:         flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for LoveBot data (overrides $LOVEBOT_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DatabaseURL, "database DSN for the corpus store (overrides $LOVEBOT_DB_DSN or $DATABASE_URL)"),
		whatsappDSN:     flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the whatsmeow session store (overrides $WHATSAPP_DB_DSN)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		messenger:       flag.String("messenger", config.Messenger, "messaging transport: whatsapp or twilio (overrides $MESSENGER)"),
		mediaBaseURL:    flag.String("media-base-url", config.MediaBaseURL, "public base URL serving corpus images, required for Twilio photos (overrides $MEDIA_BASE_URL)"),
		broadcastHour:   flag.Int("broadcast-hour", config.BroadcastHour, "local hour of the daily broadcast (overrides $LOVEBOT_BROADCAST_HOUR)"),
		broadcastMinute: flag.Int("broadcast-minute", config.BroadcastMinute, "local minute of the daily broadcast (overrides $LOVEBOT_BROADCAST_MINUTE)"),
		broadcastCron:   flag.String("broadcast-cron", config.BroadcastCron, "cron expression overriding the daily broadcast time (overrides $LOVEBOT_BROADCAST_CRON)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"passwordSet", *flags.password != "",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"messenger", *flags.messenger)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildMessenger constructs the configured messaging transport.
func buildMessenger(flags Flags) (messaging.Service, error) {
	switch strings.ToLower(*flags.messenger) {
	case MessengerTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client, *flags.mediaBaseURL), nil
	default:
		var waOpts []whatsapp.Option
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		if *flags.whatsappDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	}
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithPassword(*flags.password),
		api.WithInfoText(*flags.infoText),
		api.WithBroadcastTime(*flags.broadcastHour, *flags.broadcastMinute),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.broadcastCron != "" {
		apiOpts = append(apiOpts, api.WithBroadcastCron(*flags.broadcastCron))
	}
	return apiOpts
}
