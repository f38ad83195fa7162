// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken           = "TELEGRAM_TOKEN"
	KeyAdminPassword           = "ADMIN_PASSWORD"
	KeyAdminIDs                = "ADMIN_IDS"
	KeyAppEnv                  = "APP_ENV"
	KeyLogLevel                = "LOG_LEVEL"
	KeyHTTPPort                = "HTTP_PORT"
	KeyStoreBackend            = "STORE_BACKEND"
	KeyStorePath               = "STORE_PATH"
	KeyMongoURI                = "MONGO_URI"
	KeyMongoDB                 = "MONGO_DB"
	KeyShortenerBaseURL        = "SHORTENER_BASE_URL"
	KeyShortenerTimeout        = "SHORTENER_TIMEOUT"
	KeyInactiveThreshold       = "INACTIVE_THRESHOLD"
	KeyInactiveCheckInterval   = "INACTIVE_CHECK_INTERVAL"
	KeyBroadcastCaptureTimeout = "BROADCAST_CAPTURE_TIMEOUT"
	KeyAdsMessage              = "ADS_MESSAGE"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Allowed store backends.
	BackendFile  = "file"
	BackendMongo = "mongo"

	// Defaults for optional settings.
	DefaultAppEnv                  = EnvProduction
	DefaultLogLevel                = "info"
	DefaultHTTPPort                = 8080
	DefaultStoreBackend            = BackendFile
	DefaultStorePath               = "data/database.json"
	DefaultMongoDB                 = "shortlink_bot"
	DefaultShortenerBaseURL        = "https://smallshorturl.myvippanel.shop"
	DefaultShortenerTimeout        = 10 * time.Second
	DefaultInactiveThreshold       = 72 * time.Hour
	DefaultInactiveCheckInterval   = 12 * time.Hour
	DefaultBroadcastCaptureTimeout = 60 * time.Second
	DefaultAdsMessage              = "🔥 *SPECIAL OFFER!* Earn More With SmallshortURL!\nVisit 👉 https://smallshorturl.myvippanel.shop"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyAdminPassword,
		Example:     "change-me",
		Required:    true,
		Description: "Shared password accepted by /adminlogin.",
		Notes:       "Not a security boundary; rotate by restarting with a new value.",
	},
	{
		Key:         KeyAdminIDs,
		Example:     "123456789,987654321",
		Description: "Comma separated Telegram ids promoted to admin at startup.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
	{
		Key:         KeyStoreBackend,
		Example:     BackendFile + " / " + BackendMongo,
		Default:     DefaultStoreBackend,
		Description: "User record storage backend.",
	},
	{
		Key:         KeyStorePath,
		Example:     DefaultStorePath,
		Default:     DefaultStorePath,
		Description: "JSON file used by the file backend.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Description: "MongoDB connection string.",
		Notes:       "Required when " + KeyStoreBackend + "=" + BackendMongo + ".",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDB,
		Default:     DefaultMongoDB,
		Description: "MongoDB database name.",
	},
	{
		Key:         KeyShortenerBaseURL,
		Example:     DefaultShortenerBaseURL,
		Default:     DefaultShortenerBaseURL,
		Description: "Base URL of the URL-shortening provider.",
	},
	{
		Key:         KeyShortenerTimeout,
		Example:     DefaultShortenerTimeout.String(),
		Default:     DefaultShortenerTimeout.String(),
		Description: "Timeout for a single shortening request.",
	},
	{
		Key:         KeyInactiveThreshold,
		Example:     DefaultInactiveThreshold.String(),
		Default:     DefaultInactiveThreshold.String(),
		Description: "Idle time after which a user receives the re-engagement message.",
	},
	{
		Key:         KeyInactiveCheckInterval,
		Example:     DefaultInactiveCheckInterval.String(),
		Default:     DefaultInactiveCheckInterval.String(),
		Description: "How often inactive users are scanned.",
	},
	{
		Key:         KeyBroadcastCaptureTimeout,
		Example:     DefaultBroadcastCaptureTimeout.String(),
		Default:     DefaultBroadcastCaptureTimeout.String(),
		Description: "How long /sendimgads and /sendvideoads wait for the admin's media.",
	},
	{
		Key:         KeyAdsMessage,
		Example:     "Visit https://example.com",
		Description: "Text broadcast by /sendads (Markdown).",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken           string
	AdminPassword           string
	AdminIDs                []int64
	AppEnv                  string
	LogLevel                string
	HTTPPort                int
	StoreBackend            string
	StorePath               string
	MongoURI                string
	MongoDB                 string
	ShortenerBaseURL        string
	ShortenerTimeout        time.Duration
	InactiveThreshold       time.Duration
	InactiveCheckInterval   time.Duration
	BroadcastCaptureTimeout time.Duration
	AdsMessage              string
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:           firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:    strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		AdminPassword:    strings.TrimSpace(os.Getenv(KeyAdminPassword)),
		LogLevel:         firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:         DefaultHTTPPort,
		StoreBackend:     firstNonEmpty(normalizeEnv(os.Getenv(KeyStoreBackend)), DefaultStoreBackend),
		StorePath:        firstNonEmpty(os.Getenv(KeyStorePath), DefaultStorePath),
		MongoURI:         strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:          firstNonEmpty(os.Getenv(KeyMongoDB), DefaultMongoDB),
		ShortenerBaseURL: strings.TrimRight(firstNonEmpty(os.Getenv(KeyShortenerBaseURL), DefaultShortenerBaseURL), "/"),
		AdsMessage:       firstNonEmpty(os.Getenv(KeyAdsMessage), DefaultAdsMessage),
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}
	if cfg.AdminPassword == "" {
		missing = append(missing, KeyAdminPassword)
	}

	switch cfg.StoreBackend {
	case BackendFile:
	case BackendMongo:
		if cfg.MongoURI == "" {
			missing = append(missing, KeyMongoURI)
		}
	default:
		return Config{}, fmt.Errorf("invalid %s: must be %q or %q", KeyStoreBackend, BackendFile, BackendMongo)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if cfg.MongoURI != "" {
		if err := validateMongoURI(cfg.MongoURI); err != nil {
			return Config{}, err
		}
	}

	adminIDs, err := parseIDList(os.Getenv(KeyAdminIDs))
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyAdminIDs, err)
	}
	cfg.AdminIDs = adminIDs

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	if _, err := url.ParseRequestURI(cfg.ShortenerBaseURL); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyShortenerBaseURL, err)
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{KeyShortenerTimeout, DefaultShortenerTimeout, &cfg.ShortenerTimeout},
		{KeyInactiveThreshold, DefaultInactiveThreshold, &cfg.InactiveThreshold},
		{KeyInactiveCheckInterval, DefaultInactiveCheckInterval, &cfg.InactiveCheckInterval},
		{KeyBroadcastCaptureTimeout, DefaultBroadcastCaptureTimeout, &cfg.BroadcastCaptureTimeout},
	}
	for _, d := range durations {
		value, parseErr := parseDuration(d.key, d.def)
		if parseErr != nil {
			return Config{}, parseErr
		}
		*d.dst = value
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the configuration for --config-only output with
// secrets masked.
func FormatRedacted(cfg Config) string {
	ids := make([]string, 0, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}

	lines := []string{
		"telegram_token: " + redactSecret(cfg.TelegramToken),
		"admin_password: " + redactSecret(cfg.AdminPassword),
		"admin_ids: " + strings.Join(ids, ","),
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"store_backend: " + cfg.StoreBackend,
		"store_path: " + cfg.StorePath,
		"mongo_uri: " + redactURI(cfg.MongoURI),
		"mongo_db: " + cfg.MongoDB,
		"shortener_base_url: " + cfg.ShortenerBaseURL,
		"shortener_timeout: " + cfg.ShortenerTimeout.String(),
		"inactive_threshold: " + cfg.InactiveThreshold.String(),
		"inactive_check_interval: " + cfg.InactiveCheckInterval.String(),
		"broadcast_capture_timeout: " + cfg.BroadcastCaptureTimeout.String(),
	}

	return strings.Join(lines, "\n")
}

func redactSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "redacted"
	}
	return value[:4] + "...redacted"
}

func redactURI(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "redacted"
	}
	parsed.User = nil
	return parsed.String()
}

func validateMongoURI(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", KeyMongoURI, err)
	}
	if parsed.Scheme != "mongodb" && parsed.Scheme != "mongodb+srv" {
		return fmt.Errorf("invalid %s: scheme must be mongodb or mongodb+srv", KeyMongoURI)
	}
	return nil
}

func parseIDList(raw string) ([]int64, error) {
	ids := make([]int64, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return value, nil
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
