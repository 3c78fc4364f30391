package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting of the widget gateway and CLI.
type Config struct {
	Server  ServerConfig
	Remote  RemoteConfig
	Chat    ChatConfig
	Storage StorageConfig
	AI      AIConfig
	Log     LogConfig
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	remote, err := loadRemoteConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Remote:  remote,
		Chat:    chat,
		Storage: storage,
		AI:      ai,
		Log:     logCfg,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// Chat modes.
const (
	ModeRemote = "remote"
	ModeDirect = "direct"
)

// RemoteConfig describes the backend chat API.
type RemoteConfig struct {
	BaseURL string
	Mode    string
	Timeout time.Duration

	// AllowedBases are the alternative backends a page may select.
	AllowedBases []string
}

func loadRemoteConfig() (RemoteConfig, error) {
	timeout, err := parseOptionalIntEnv("REMOTE_TIMEOUT")
	if err != nil {
		return RemoteConfig{}, err
	}
	timeoutSeconds := 60
	if timeout != nil && *timeout > 0 {
		timeoutSeconds = *timeout
	}

	mode := strings.ToLower(getEnvOrDefault("CHAT_MODE", ModeRemote))
	if mode != ModeRemote && mode != ModeDirect {
		return RemoteConfig{}, fmt.Errorf("invalid CHAT_MODE value: %q", mode)
	}

	return RemoteConfig{
		BaseURL:      strings.TrimRight(getEnvOrDefault("CHAT_API_BASE", "http://localhost:8000"), "/"),
		Mode:         mode,
		Timeout:      time.Duration(timeoutSeconds) * time.Second,
		AllowedBases: parseListEnv("ALLOWED_API_BASES"),
	}, nil
}

// parseListEnv splits a comma separated URL list, dropping blanks and
// trailing slashes.
func parseListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimRight(strings.TrimSpace(item), "/"); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ChatConfig holds conversation tuning knobs.
type ChatConfig struct {
	SessionTTL    time.Duration
	HistoryWindow int
	VoiceLanguage string
}

func loadChatConfig() (ChatConfig, error) {
	ttl := 20
	if override, err := parseOptionalIntEnv("SESSION_TTL_MINUTES"); err != nil {
		return ChatConfig{}, err
	} else if override != nil && *override > 0 {
		ttl = *override
	}

	window := 6
	if override, err := parseOptionalIntEnv("HISTORY_WINDOW"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 1 {
			window = 1
		} else {
			window = *override
		}
	}

	return ChatConfig{
		SessionTTL:    time.Duration(ttl) * time.Minute,
		HistoryWindow: window,
		VoiceLanguage: getEnvOrDefault("VOICE_LANGUAGE", "fa-IR"),
	}, nil
}

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// StorageConfig selects and configures the key-value backend.
type StorageConfig struct {
	Driver        string
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyTTL        time.Duration
}

func loadStorageConfig() (StorageConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORAGE_DRIVER", DriverMemory))
	switch driver {
	case DriverMemory, DriverRedis, DriverSQLite:
	default:
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_DRIVER value: %q", driver)
	}

	db, err := parseOptionalIntEnv("REDIS_DB")
	if err != nil {
		return StorageConfig{}, err
	}
	redisDB := 0
	if db != nil {
		redisDB = *db
	}

	ttlHours, err := parseOptionalIntEnv("STORAGE_KEY_TTL_HOURS")
	if err != nil {
		return StorageConfig{}, err
	}
	var keyTTL time.Duration
	if ttlHours != nil && *ttlHours > 0 {
		keyTTL = time.Duration(*ttlHours) * time.Hour
	}

	return StorageConfig{
		Driver:        driver,
		DSN:           getEnvOrDefault("STORAGE_DSN", "citychat.db"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		RedisDB:       redisDB,
		KeyTTL:        keyTTL,
	}, nil
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string
	Development bool
}

func loadLogConfig() (LogConfig, error) {
	dev, err := parseBoolEnv("LOG_DEVELOPMENT", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Level:       strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Development: dev,
	}, nil
}

// AIConfig describes the direct LLM mode.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the credentials required by direct mode are set.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds an Ark chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY and Model, or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
