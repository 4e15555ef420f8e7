package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level  string
	Pretty bool
}

type VaultConfig struct {
	Backend     string // local or s3
	LocalDir    string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	PresignTTL  time.Duration
}

type APIConfig struct {
	Addr              string
	DatabaseURL       string
	JWTSecret         string
	TokenTTL          time.Duration
	OwnerUsername     string
	OwnerPasswordHash string
	CORSOrigins       []string
	MigrateOnStart    bool
	Vault             VaultConfig
	Log               LogConfig
}

type WorkerConfig struct {
	DatabaseURL       string
	RunOnce           bool
	RelaySchedule     string
	LicenseSchedule   string
	DigestSchedule    string
	RelayBatch        int
	LicenseWindow     time.Duration
	DiscordWebhookURL string
	OwnerPhone        string
	WhatsAppDialect   string
	WhatsAppDSN       string
	Log               LogConfig
}

type CLIConfig struct {
	APIBaseURL  string
	LocalDBPath string
}

// Load reads .env from the working directory and then the YAML file named by
// KMFX_CONFIG_FILE, if any. Neither overrides variables already set in the
// process environment.
func Load() error {
	_ = godotenv.Load()
	path := strings.TrimSpace(os.Getenv("KMFX_CONFIG_FILE"))
	if path == "" {
		return nil
	}
	return applyFile(path)
}

func applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	for key, v := range values {
		key = strings.ToUpper(strings.TrimSpace(key))
		if _, set := os.LookupEnv(key); set {
			continue
		}
		switch val := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			os.Setenv(key, strings.Join(parts, ","))
		default:
			os.Setenv(key, fmt.Sprint(val))
		}
	}
	return nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("KMFX_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:              addr,
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		JWTSecret:         strings.TrimSpace(os.Getenv("KMFX_JWT_SECRET")),
		TokenTTL:          envDurationDefault("KMFX_TOKEN_TTL", 12*time.Hour),
		OwnerUsername:     envDefault("KMFX_OWNER_USERNAME", "owner"),
		OwnerPasswordHash: strings.TrimSpace(os.Getenv("KMFX_OWNER_PASSWORD_HASH")),
		CORSOrigins:       envListDefault("KMFX_CORS_ORIGINS", []string{"*"}),
		MigrateOnStart:    envBoolDefault("KMFX_MIGRATE_ON_START", true),
		Vault:             loadVault(),
		Log:               loadLog(),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return cfg, fmt.Errorf("KMFX_JWT_SECRET must be at least 32 characters")
	}
	if cfg.OwnerPasswordHash == "" {
		return cfg, fmt.Errorf("KMFX_OWNER_PASSWORD_HASH is required")
	}
	if cfg.Vault.Backend == "s3" && cfg.Vault.S3Bucket == "" {
		return cfg, fmt.Errorf("KMFX_S3_BUCKET is required for the s3 vault")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RunOnce:           envBoolDefault("KMFX_WORKER_RUN_ONCE", false),
		RelaySchedule:     envDefault("KMFX_RELAY_SCHEDULE", "@every 30s"),
		LicenseSchedule:   envDefault("KMFX_LICENSE_SCHEDULE", "0 0 8 * * *"),
		DigestSchedule:    envDefault("KMFX_DIGEST_SCHEDULE", "0 0 21 * * *"),
		RelayBatch:        envIntDefault("KMFX_RELAY_BATCH", 50),
		LicenseWindow:     envDurationDefault("KMFX_LICENSE_WINDOW", 7*24*time.Hour),
		DiscordWebhookURL: strings.TrimSpace(os.Getenv("KMFX_DISCORD_WEBHOOK_URL")),
		OwnerPhone:        strings.TrimSpace(os.Getenv("KMFX_OWNER_PHONE")),
		WhatsAppDialect:   envDefault("KMFX_WHATSAPP_DIALECT", "sqlite3"),
		WhatsAppDSN:       strings.TrimSpace(os.Getenv("KMFX_WHATSAPP_DSN")),
		Log:               loadLog(),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	switch cfg.WhatsAppDialect {
	case "sqlite3", "postgres":
	default:
		return cfg, fmt.Errorf("KMFX_WHATSAPP_DIALECT must be sqlite3 or postgres")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL:  strings.TrimRight(envDefault("KMFX_API_BASE_URL", "http://localhost:8080"), "/"),
		LocalDBPath: envDefault("KMFX_LOCAL_DB", defaultLocalDB()),
	}
}

func loadVault() VaultConfig {
	return VaultConfig{
		Backend:     strings.ToLower(envDefault("KMFX_VAULT_BACKEND", "local")),
		LocalDir:    envDefault("KMFX_VAULT_DIR", "vault"),
		S3Bucket:    strings.TrimSpace(os.Getenv("KMFX_S3_BUCKET")),
		S3Region:    envDefault("KMFX_S3_REGION", "us-east-1"),
		S3Endpoint:  strings.TrimSpace(os.Getenv("KMFX_S3_ENDPOINT")),
		S3AccessKey: strings.TrimSpace(os.Getenv("KMFX_S3_ACCESS_KEY")),
		S3SecretKey: strings.TrimSpace(os.Getenv("KMFX_S3_SECRET_KEY")),
		PresignTTL:  envDurationDefault("KMFX_S3_PRESIGN_TTL", 15*time.Minute),
	}
}

func loadLog() LogConfig {
	return LogConfig{
		Level:  envDefault("LOG_LEVEL", "info"),
		Pretty: envBoolDefault("LOG_PRETTY", false),
	}
}

func defaultLocalDB() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "kmfx.db"
	}
	return filepath.Join(home, ".kmfx", "local.db")
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envListDefault(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
