// Package config loads mux configuration from the environment (and an
// optional .env file in development), validating the numeric/JSON envs the
// way the teacher's core/config package did by hand.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// TenantSeed is one entry of the MUX_TENANT_SEED JSON array.
type TenantSeed struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	APIKey           string `json:"apiKey"`
	InboundURL       string `json:"inboundUrl"`
	InboundTimeoutMs int    `json:"inboundTimeoutMs"`
}

// PairingCodeSeed is one entry of the MUX_PAIRING_CODE_SEED JSON array.
type PairingCodeSeed struct {
	Code        string `json:"code"`
	Channel     string `json:"channel"`
	RouteKey    string `json:"routeKey"`
	Scope       string `json:"scope"`
	ExpiresInMs int64  `json:"expiresInMs"`
}

type Config struct {
	Host string
	Port string

	AdminToken string

	DatabasePath string
	LogFilePath  string

	TelegramBotToken  string
	TelegramEnabled   bool
	TelegramBaseURL   string
	DiscordBotToken   string
	DiscordEnabled    bool
	DiscordBaseURL    string
	WhatsAppEnabled   bool
	WhatsAppAuthDir   string
	BotDisplayUsername string

	IdempotencyTTLSeconds int

	PairingTokenTTLSeconds    int
	PairingTokenTTLMaxSeconds int

	MaxImageBytes int64

	WhatsAppRetryInitialMs int64
	WhatsAppRetryMaxMs     int64
	WhatsAppBatchSize      int

	DiscordPollIntervalMs int64

	ValkeyEnabled bool
	ValkeyAddress string

	TenantSeeds      []TenantSeed
	PairingCodeSeeds []PairingCodeSeed
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("MUX_HOST", "0.0.0.0")
	v.SetDefault("MUX_PORT", "8080")
	v.SetDefault("MUX_DB_PATH", filepath.Join("storages", "mux.db"))
	v.SetDefault("MUX_LOG_PATH", filepath.Join("storages", "mux.log"))
	v.SetDefault("MUX_IDEMPOTENCY_TTL_SECONDS", 600)
	v.SetDefault("MUX_PAIRING_TOKEN_TTL_SECONDS", 600)
	v.SetDefault("MUX_PAIRING_TOKEN_TTL_MAX_SECONDS", 3600)
	v.SetDefault("MUX_MAX_IMAGE_BYTES", 20*1024*1024)
	v.SetDefault("MUX_WHATSAPP_RETRY_INITIAL_MS", 5000)
	v.SetDefault("MUX_WHATSAPP_RETRY_MAX_MS", 10*60*1000)
	v.SetDefault("MUX_WHATSAPP_BATCH_SIZE", 25)
	v.SetDefault("MUX_DISCORD_POLL_INTERVAL_MS", 2000)
	v.SetDefault("MUX_TELEGRAM_BASE_URL", "https://api.telegram.org")
	v.SetDefault("MUX_DISCORD_BASE_URL", "https://discord.com/api/v10")
	v.SetDefault("MUX_WHATSAPP_AUTH_DIR", filepath.Join("storages", "whatsapp"))

	cfg := &Config{
		Host:         v.GetString("MUX_HOST"),
		Port:         v.GetString("MUX_PORT"),
		AdminToken:   v.GetString("MUX_ADMIN_TOKEN"),
		DatabasePath: v.GetString("MUX_DB_PATH"),
		LogFilePath:  v.GetString("MUX_LOG_PATH"),

		TelegramBotToken: v.GetString("MUX_TELEGRAM_BOT_TOKEN"),
		TelegramEnabled:  v.GetBool("MUX_TELEGRAM_ENABLED"),
		TelegramBaseURL:  v.GetString("MUX_TELEGRAM_BASE_URL"),

		DiscordBotToken: v.GetString("MUX_DISCORD_BOT_TOKEN"),
		DiscordEnabled:  v.GetBool("MUX_DISCORD_ENABLED"),
		DiscordBaseURL:  v.GetString("MUX_DISCORD_BASE_URL"),

		WhatsAppEnabled:    v.GetBool("MUX_WHATSAPP_ENABLED"),
		WhatsAppAuthDir:    v.GetString("MUX_WHATSAPP_AUTH_DIR"),
		BotDisplayUsername: v.GetString("MUX_BOT_DISPLAY_USERNAME"),

		IdempotencyTTLSeconds: v.GetInt("MUX_IDEMPOTENCY_TTL_SECONDS"),

		PairingTokenTTLSeconds:    v.GetInt("MUX_PAIRING_TOKEN_TTL_SECONDS"),
		PairingTokenTTLMaxSeconds: v.GetInt("MUX_PAIRING_TOKEN_TTL_MAX_SECONDS"),

		MaxImageBytes: v.GetInt64("MUX_MAX_IMAGE_BYTES"),

		WhatsAppRetryInitialMs: v.GetInt64("MUX_WHATSAPP_RETRY_INITIAL_MS"),
		WhatsAppRetryMaxMs:     v.GetInt64("MUX_WHATSAPP_RETRY_MAX_MS"),
		WhatsAppBatchSize:      v.GetInt("MUX_WHATSAPP_BATCH_SIZE"),

		DiscordPollIntervalMs: v.GetInt64("MUX_DISCORD_POLL_INTERVAL_MS"),

		ValkeyEnabled: v.GetBool("MUX_VALKEY_ENABLED"),
		ValkeyAddress: v.GetString("MUX_VALKEY_ADDRESS"),
	}

	if err := validatePositive(cfg); err != nil {
		return nil, err
	}

	if raw := v.GetString("MUX_TENANT_SEED"); raw != "" {
		var seeds []TenantSeed
		if err := json.Unmarshal([]byte(raw), &seeds); err != nil {
			return nil, fmt.Errorf("parse MUX_TENANT_SEED: %w", err)
		}
		if err := validateUniqueTenantSeeds(seeds); err != nil {
			return nil, err
		}
		cfg.TenantSeeds = seeds
	}

	if raw := v.GetString("MUX_PAIRING_CODE_SEED"); raw != "" {
		var seeds []PairingCodeSeed
		if err := json.Unmarshal([]byte(raw), &seeds); err != nil {
			return nil, fmt.Errorf("parse MUX_PAIRING_CODE_SEED: %w", err)
		}
		if err := validateUniqueCodeSeeds(seeds); err != nil {
			return nil, err
		}
		cfg.PairingCodeSeeds = seeds
	}

	return cfg, nil
}

func validatePositive(cfg *Config) error {
	checks := map[string]int64{
		"MUX_IDEMPOTENCY_TTL_SECONDS":       int64(cfg.IdempotencyTTLSeconds),
		"MUX_PAIRING_TOKEN_TTL_SECONDS":     int64(cfg.PairingTokenTTLSeconds),
		"MUX_PAIRING_TOKEN_TTL_MAX_SECONDS": int64(cfg.PairingTokenTTLMaxSeconds),
		"MUX_MAX_IMAGE_BYTES":               cfg.MaxImageBytes,
		"MUX_WHATSAPP_RETRY_INITIAL_MS":     cfg.WhatsAppRetryInitialMs,
		"MUX_WHATSAPP_RETRY_MAX_MS":         cfg.WhatsAppRetryMaxMs,
		"MUX_WHATSAPP_BATCH_SIZE":           int64(cfg.WhatsAppBatchSize),
		"MUX_DISCORD_POLL_INTERVAL_MS":      cfg.DiscordPollIntervalMs,
	}
	for name, val := range checks {
		if val <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %d", name, val)
		}
	}
	return nil
}

func validateUniqueTenantSeeds(seeds []TenantSeed) error {
	ids := make(map[string]bool, len(seeds))
	keys := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		if s.ID == "" || s.APIKey == "" {
			return fmt.Errorf("tenant seed requires id and apiKey")
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate tenant seed id %q", s.ID)
		}
		if keys[s.APIKey] {
			return fmt.Errorf("duplicate tenant seed apiKey for id %q", s.ID)
		}
		ids[s.ID] = true
		keys[s.APIKey] = true
	}
	return nil
}

func validateUniqueCodeSeeds(seeds []PairingCodeSeed) error {
	codes := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		if s.Code == "" || s.Channel == "" || s.RouteKey == "" {
			return fmt.Errorf("pairing code seed requires code, channel and routeKey")
		}
		if codes[s.Code] {
			return fmt.Errorf("duplicate pairing code seed %q", s.Code)
		}
		codes[s.Code] = true
	}
	return nil
}
