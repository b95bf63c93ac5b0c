package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"google.golang.org/genai"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	AI        AIConfig
	Gemini    GeminiConfig
	Session   SessionConfig
	WebSocket WebSocketConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	gemini := loadGeminiConfig()

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	ws, err := loadWebSocketConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:    server,
		Log:       logCfg,
		AI:        ai,
		Gemini:    gemini,
		Session:   session,
		WebSocket: ws,
	}
	if err := cfg.resolveProvider(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
	StaticDir   string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3000"
	}

	cfg := ServerConfig{
		CORSOrigins: parseListEnv("CORS_ORIGINS", []string{"*"}),
		StaticDir:   strings.TrimSpace(os.Getenv("STATIC_DIR")),
	}

	if strings.Contains(port, ":") {
		// 允许直接传入 ":3000" 或 "127.0.0.1:3000"。
		cfg.Addr = port
		return cfg, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	cfg.Addr = ":" + port
	return cfg, nil
}

// LogConfig 日志输出配置
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() (LogConfig, error) {
	level := strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q", level)
	}

	format := strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text"))
	if format != "text" && format != "json" {
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value %q", format)
	}

	return LogConfig{Level: level, Format: format}, nil
}

// 回复模型提供方
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider     string
	PersonaID    string
	HistoryLimit int

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

// ArkEnabled 表示是否提供了 Ark 必需的密钥。
func (c AIConfig) ArkEnabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewArkChatModel 使用配置创建 Ark 模型实例。
func (c AIConfig) NewArkChatModel(ctx context.Context) (*ark.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + ARK_MODEL or an AK/SK pair")
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

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
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

	historyLimit := 10
	if override, err := parseOptionalIntEnv("AI_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 0 {
			historyLimit = 0
		} else {
			historyLimit = *override
		}
	}

	provider := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))
	switch provider {
	case "", ProviderGemini, ProviderArk:
	default:
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	return AIConfig{
		Provider:     provider,
		PersonaID:    getEnvOrDefault("ASSISTANT_PERSONA", "rev"),
		HistoryLimit: historyLimit,
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
	}, nil
}

// GeminiConfig 描述 Gemini 相关配置，语音识别与合成始终走 Gemini。
type GeminiConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	TranscribeModel string
	TTSModel        string
	TTSVoice        string
}

// Enabled 表示是否提供了 API Key。
func (c GeminiConfig) Enabled() bool {
	return c.APIKey != ""
}

// NewClient 创建 Gemini API 客户端。
func (c GeminiConfig) NewClient(ctx context.Context) (*genai.Client, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("gemini api key missing: set GEMINI_API_KEY")
	}
	cc := &genai.ClientConfig{
		APIKey:  c.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if c.BaseURL != "" {
		cc.HTTPOptions.BaseURL = c.BaseURL
	}
	return genai.NewClient(ctx, cc)
}

func loadGeminiConfig() GeminiConfig {
	model := getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash")
	return GeminiConfig{
		APIKey:          strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		BaseURL:         strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")),
		Model:           model,
		TranscribeModel: getEnvOrDefault("GEMINI_TRANSCRIBE_MODEL", model),
		TTSModel:        getEnvOrDefault("GEMINI_TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		TTSVoice:        getEnvOrDefault("GEMINI_TTS_VOICE", ""),
	}
}

// SessionConfig 会话生命周期配置
type SessionConfig struct {
	IdleTimeout       time.Duration
	ReapInterval      time.Duration
	TurnTimeout       time.Duration
	MaxUtteranceBytes int
}

func loadSessionConfig() (SessionConfig, error) {
	idle, err := parseDurationEnv("SESSION_IDLE_TIMEOUT", 2*time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}
	reap, err := parseDurationEnv("SESSION_REAP_INTERVAL", 15*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}
	turn, err := parseDurationEnv("SESSION_TURN_TIMEOUT", 45*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}
	maxBytes, err := parseIntEnv("SESSION_MAX_UTTERANCE_BYTES", 10<<20)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		IdleTimeout:       idle,
		ReapInterval:      reap,
		TurnTimeout:       turn,
		MaxUtteranceBytes: maxBytes,
	}, nil
}

// WebSocketConfig 长连接传输配置
type WebSocketConfig struct {
	MaxMessageBytes        int64
	ReadTimeout            time.Duration
	WriteTimeout           time.Duration
	PingInterval           time.Duration
	MaxAudioFPS            float64
	MaxAudioBytesPerSecond int64
	OutboundQueue          int
}

func loadWebSocketConfig() (WebSocketConfig, error) {
	maxMessage, err := parseIntEnv("WS_MAX_MESSAGE_BYTES", 1<<20)
	if err != nil {
		return WebSocketConfig{}, err
	}
	readTimeout, err := parseDurationEnv("WS_READ_TIMEOUT", 60*time.Second)
	if err != nil {
		return WebSocketConfig{}, err
	}
	writeTimeout, err := parseDurationEnv("WS_WRITE_TIMEOUT", 5*time.Second)
	if err != nil {
		return WebSocketConfig{}, err
	}
	pingInterval, err := parseDurationEnv("WS_PING_INTERVAL", 20*time.Second)
	if err != nil {
		return WebSocketConfig{}, err
	}
	if readTimeout > 0 && pingInterval >= readTimeout {
		return WebSocketConfig{}, fmt.Errorf("WS_PING_INTERVAL (%s) must be shorter than WS_READ_TIMEOUT (%s)", pingInterval, readTimeout)
	}

	fps := 60.0
	if override, err := parseOptionalFloatEnv("WS_MAX_AUDIO_FPS"); err != nil {
		return WebSocketConfig{}, err
	} else if override != nil {
		fps = *override
	}
	bps, err := parseIntEnv("WS_MAX_AUDIO_BYTES_PER_SECOND", 512<<10)
	if err != nil {
		return WebSocketConfig{}, err
	}
	queue, err := parseIntEnv("WS_OUTBOUND_QUEUE", 64)
	if err != nil {
		return WebSocketConfig{}, err
	}
	if queue < 1 {
		queue = 1
	}

	return WebSocketConfig{
		MaxMessageBytes:        int64(maxMessage),
		ReadTimeout:            readTimeout,
		WriteTimeout:           writeTimeout,
		PingInterval:           pingInterval,
		MaxAudioFPS:            fps,
		MaxAudioBytesPerSecond: int64(bps),
		OutboundQueue:          queue,
	}, nil
}

// resolveProvider 未显式指定时优先 Gemini，其次 Ark。
func (c *Config) resolveProvider() error {
	switch c.AI.Provider {
	case ProviderGemini:
		if !c.Gemini.Enabled() {
			return fmt.Errorf("LLM_PROVIDER=gemini requires GEMINI_API_KEY")
		}
	case ProviderArk:
		if !c.AI.ArkEnabled() {
			return fmt.Errorf("LLM_PROVIDER=ark requires ARK_MODEL and credentials")
		}
	default:
		switch {
		case c.Gemini.Enabled():
			c.AI.Provider = ProviderGemini
		case c.AI.ArkEnabled():
			c.AI.Provider = ProviderArk
		}
	}
	return nil
}

// VoiceEnabled 表示语音链路（识别、回复、合成）是否可用。
func (c *Config) VoiceEnabled() bool {
	return c.Gemini.Enabled() && c.AI.Provider != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val < 0 {
		return 0, fmt.Errorf("invalid %s value %d: must not be negative", key, *val)
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
