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

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Bus       BusConfig
	RateLimit RateLimitConfig
	Session    SessionConfig
	Transcript TranscriptConfig
	AI         AIConfig
	Log        LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	bus, err := loadBusConfig()
	if err != nil {
		return nil, err
	}

	rateLimit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	transcript, err := loadTranscriptConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		Redis:      RedisConfig{URL: getEnvOrDefault("REDIS_URL", "redis://localhost:6379")},
		Bus:        bus,
		RateLimit:  rateLimit,
		Session:    session,
		Transcript: transcript,
		AI:         ai,
		Log: LogConfig{
			Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "console")),
		},
	}, nil
}

// ServerConfig 描述 HTTP / WebSocket 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	SendBuffer     int
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	addr, err := parseAddr(strings.TrimSpace(os.Getenv("PORT")))
	if err != nil {
		return ServerConfig{}, err
	}

	sendBuffer, err := parseIntEnv("WS_SEND_BUFFER", 256)
	if err != nil {
		return ServerConfig{}, err
	}
	if sendBuffer < 1 {
		return ServerConfig{}, fmt.Errorf("invalid WS_SEND_BUFFER value %d: must be positive", sendBuffer)
	}

	return ServerConfig{
		Addr:           addr,
		AllowedOrigins: splitList(os.Getenv("CORS_ORIGINS")),
		SendBuffer:     sendBuffer,
	}, nil
}

func parseAddr(port string) (string, error) {
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// RedisConfig 描述临时存储 (presence / rate limit / session) 的连接。
type RedisConfig struct {
	URL string
}

// Bus drivers understood by the fanout bus factory.
const (
	BusDriverRedis       = "redis"
	BusDriverRedisStream = "redisstream"
	BusDriverNATS        = "nats"
	BusDriverMemory      = "memory"
)

// BusConfig 描述跨实例广播总线。
type BusConfig struct {
	Driver     string
	NATSURL    string
	InstanceID string
}

func loadBusConfig() (BusConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("BUS_DRIVER", BusDriverRedis))
	if err := ValidateBusDriver(driver); err != nil {
		return BusConfig{}, err
	}

	return BusConfig{
		Driver:     driver,
		NATSURL:    getEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		InstanceID: strings.TrimSpace(os.Getenv("INSTANCE_ID")),
	}, nil
}

// ValidateBusDriver rejects unknown bus driver names.
func ValidateBusDriver(driver string) error {
	switch driver {
	case BusDriverRedis, BusDriverRedisStream, BusDriverNATS, BusDriverMemory:
		return nil
	default:
		return fmt.Errorf("invalid BUS_DRIVER value %q", driver)
	}
}

// RateLimitConfig 描述访客消息频率限制。
type RateLimitConfig struct {
	Messages int
	Window   time.Duration
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	limit, err := parseIntEnv("RATE_LIMIT_MESSAGES", 20)
	if err != nil {
		return RateLimitConfig{}, err
	}

	window, err := parseIntEnv("RATE_LIMIT_WINDOW_SECONDS", 60)
	if err != nil {
		return RateLimitConfig{}, err
	}
	if window < 1 {
		window = 1
	}

	return RateLimitConfig{Messages: limit, Window: time.Duration(window) * time.Second}, nil
}

// SessionConfig 描述访客会话的保存时长。
type SessionConfig struct {
	TTL time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	ttl, err := parseIntEnv("SESSION_TTL_SECONDS", 3600)
	if err != nil {
		return SessionConfig{}, err
	}
	if ttl < 1 {
		ttl = 3600
	}
	return SessionConfig{TTL: time.Duration(ttl) * time.Second}, nil
}

// TranscriptConfig 描述内存中对话记录的保留上限。
type TranscriptConfig struct {
	Retention        int
	MaxConversations int
}

func loadTranscriptConfig() (TranscriptConfig, error) {
	retention, err := parseIntEnv("TRANSCRIPT_RETENTION", 200)
	if err != nil {
		return TranscriptConfig{}, err
	}

	maxConversations, err := parseIntEnv("TRANSCRIPT_MAX_CONVERSATIONS", 10000)
	if err != nil {
		return TranscriptConfig{}, err
	}

	return TranscriptConfig{Retention: retention, MaxConversations: maxConversations}, nil
}

// LogConfig 描述日志级别与输出格式。
type LogConfig struct {
	Level  string
	Format string
}

// AI providers.
const (
	ProviderArk  = "ark"
	ProviderEcho = "echo"
)

// DefaultSystemPrompt is the fixed instruction sent with every generation.
const DefaultSystemPrompt = "You are a helpful customer support assistant. Be concise, friendly, and helpful."

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider     string
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    int
	SystemPrompt string
	Timeout      time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
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

	maxTokens := c.MaxTokens

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   &maxTokens,
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

	maxTokens, err := parseIntEnv("ARK_MAX_TOKENS", 500)
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseIntEnv("AI_TIMEOUT_SECONDS", 60)
	if err != nil {
		return AIConfig{}, err
	}

	cfg := AIConfig{
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        strings.TrimSpace(os.Getenv("Model")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		SystemPrompt: getEnvOrDefault("AI_SYSTEM_PROMPT", DefaultSystemPrompt),
	}
	if timeout > 0 {
		cfg.Timeout = time.Duration(timeout) * time.Second
	}

	// 未显式指定时，有凭证则使用 Ark，否则退回离线 echo。
	cfg.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("AI_PROVIDER")))
	switch cfg.Provider {
	case "":
		cfg.Provider = ProviderEcho
		if cfg.Enabled() {
			cfg.Provider = ProviderArk
		}
	case ProviderArk, ProviderEcho:
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", cfg.Provider)
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
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
