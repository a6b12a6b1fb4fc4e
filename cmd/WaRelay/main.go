package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ChatDeskID/WaRelay/internal/api"
	"github.com/ChatDeskID/WaRelay/internal/broadcast"
	"github.com/ChatDeskID/WaRelay/internal/dedup"
	"github.com/ChatDeskID/WaRelay/internal/genai"
	"github.com/ChatDeskID/WaRelay/internal/lockfile"
	"github.com/ChatDeskID/WaRelay/internal/processor"
	"github.com/ChatDeskID/WaRelay/internal/registry"
	"github.com/ChatDeskID/WaRelay/internal/store"
	"github.com/ChatDeskID/WaRelay/internal/util"
	"github.com/ChatDeskID/WaRelay/internal/whatsapp"
)

// DefaultStateDir is the default directory for WaRelay state data.
const DefaultStateDir = "/var/lib/warelay"

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	// A second relay behind the same webhook would double-process every
	// delivery, so hold an exclusive lock for the process lifetime.
	if !util.ParseBoolEnv("WARELAY_NO_LOCK", false) {
		lock, err := lockfile.AcquireLock(*flags.stateDir)
		if err != nil {
			slog.Error("Failed to acquire state directory lock", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	reg := registry.New()
	st := store.NewInMemoryStore()
	dd := dedup.New()
	defer dd.Close()
	bc := broadcast.New(reg)

	sender := whatsapp.NewClient(
		whatsapp.WithAccessToken(*flags.accessToken),
		whatsapp.WithPhoneNumberID(*flags.phoneNumberID),
		whatsapp.WithAPIBase(*flags.apiBase),
	)
	if !sender.Configured() {
		slog.Warn("WhatsApp sender not configured, outbound sends will fail", "hint", "set WHATSAPP_ACCESS_TOKEN and WHATSAPP_PHONE_NUMBER_ID")
	}

	engine := buildReplyEngine(flags)
	proc := processor.New(st, dd, bc, sender, engine, *flags.phoneNumberID)

	srv := api.NewServer(reg, st, dd, proc, sender,
		api.WithAddr(*flags.apiAddr),
		api.WithVerifyToken(*flags.verifyToken),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping WaRelay", "api_addr", *flags.apiAddr, "ai_enabled", engine != nil)
	if err := srv.Run(ctx); err != nil {
		slog.Error("WaRelay failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("WaRelay exited successfully")
}

// Config holds environment configuration.
type Config struct {
	APIAddr       string
	VerifyToken   string
	AccessToken   string
	PhoneNumberID string
	APIBase       string
	AIBackendURL  string
	OpenAIKey     string
	OpenAIModel   string
	StateDir      string
}

// Flags holds command line flag values.
type Flags struct {
	apiAddr       *string
	verifyToken   *string
	accessToken   *string
	phoneNumberID *string
	apiBase       *string
	aiBackendURL  *string
	openaiKey     *string
	openaiModel   *string
	stateDir      *string
}

// initializeLogger sets up structured logging with the level taken from
// LOG_LEVEL (debug, info, warn, error; default info).
func initializeLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		APIAddr:       util.GetEnv("API_ADDR", api.DefaultAddr),
		VerifyToken:   os.Getenv("WEBHOOK_VERIFY_TOKEN"),
		AccessToken:   os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		APIBase:       util.GetEnv("WHATSAPP_API_BASE", whatsapp.DefaultAPIBase),
		AIBackendURL:  os.Getenv("AI_BACKEND_URL"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		StateDir:      util.GetEnv("WARELAY_STATE_DIR", DefaultStateDir),
	}

	slog.Debug("environment variables loaded",
		"API_ADDR", config.APIAddr,
		"WEBHOOK_VERIFY_TOKEN_SET", config.VerifyToken != "",
		"WHATSAPP_ACCESS_TOKEN_SET", config.AccessToken != "",
		"WHATSAPP_PHONE_NUMBER_ID", config.PhoneNumberID,
		"WHATSAPP_API_BASE", config.APIBase,
		"AI_BACKEND_URL_SET", config.AIBackendURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"WARELAY_STATE_DIR", config.StateDir)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		apiAddr:       flag.String("api-addr", config.APIAddr, "HTTP gateway listen address"),
		verifyToken:   flag.String("verify-token", config.VerifyToken, "webhook subscription verify token"),
		accessToken:   flag.String("wa-token", config.AccessToken, "WhatsApp Cloud API access token"),
		phoneNumberID: flag.String("wa-phone-id", config.PhoneNumberID, "WhatsApp business phone number id"),
		apiBase:       flag.String("wa-api-base", config.APIBase, "WhatsApp Cloud API base URL"),
		aiBackendURL:  flag.String("ai-backend-url", config.AIBackendURL, "HTTP AI backend URL (takes precedence over OpenAI)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for AI replies"),
		openaiModel:   flag.String("openai-model", config.OpenAIModel, "OpenAI model name"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory holding the instance lock"),
	}
	flag.Parse()
	return flags
}

// buildReplyEngine picks the AI reply engine. A configured HTTP backend
// wins over OpenAI; with neither, AI replies are disabled and the relay
// only stores and fans out.
func buildReplyEngine(flags Flags) genai.ReplyEngine {
	if *flags.aiBackendURL != "" {
		slog.Info("Using HTTP AI backend", "url", *flags.aiBackendURL)
		return genai.NewHTTPEngine(*flags.aiBackendURL)
	}
	if *flags.openaiKey != "" {
		opts := []genai.ClientOption{genai.WithAPIKey(*flags.openaiKey)}
		if *flags.openaiModel != "" {
			opts = append(opts, genai.WithModel(*flags.openaiModel))
		}
		client, err := genai.NewClient(opts...)
		if err != nil {
			slog.Error("Failed to initialize OpenAI client, AI replies disabled", "error", err)
			return nil
		}
		slog.Info("Using OpenAI reply engine")
		return client
	}
	slog.Info("No AI backend configured, AI replies disabled")
	return nil
}
