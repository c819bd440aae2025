package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location; STUPIFY_CONFIG overrides it.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port              string   `yaml:"port"`
	LogLevel          string   `yaml:"logLevel"`
	DatabaseURL       string   `yaml:"databaseURL"`
	DBMaxOpenConns    int      `yaml:"dbMaxOpenConns"`
	DBSlowThreshold   string   `yaml:"dbSlowThreshold"`
	RedisAddr         string   `yaml:"redisAddr"`
	RedisPassword     string   `yaml:"redisPassword"`
	RedisTLS          bool     `yaml:"redisTLS"`
	AllowedOrigins    []string `yaml:"allowedOrigins"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`

	SupabaseURL       string `yaml:"supabaseURL"`
	SupabaseAnonKey   string `yaml:"supabaseAnonKey"`
	SupabaseJWTSecret string `yaml:"supabaseJwtSecret"`
	SupabaseJWKSURL   string `yaml:"supabaseJwksURL"`
	JWTIssuer         string `yaml:"jwtIssuer"`
	JWTLeeway         string `yaml:"jwtLeeway"`

	LLMProvider      string `yaml:"llmProvider"`
	OpenAIAPIKey     string `yaml:"openaiAPIKey"`
	OpenAIBaseURL    string `yaml:"openaiBaseURL"`
	OpenAIModel      string `yaml:"openaiModel"`
	WhisperModel     string `yaml:"whisperModel"`
	AnthropicAPIKey  string `yaml:"anthropicAPIKey"`
	AnthropicBaseURL string `yaml:"anthropicBaseURL"`
	AnthropicModel   string `yaml:"anthropicModel"`
	MaxAnswerTokens  int    `yaml:"maxAnswerTokens"`
	BreakerFailures  int    `yaml:"breakerFailures"`
	BreakerTimeout   string `yaml:"breakerTimeout"`
	CompanionTimeout string `yaml:"companionTimeout"`

	FreeDailyLimit      int `yaml:"freeDailyLimit"`
	StarterMonthlyLimit int `yaml:"starterMonthlyLimit"`

	ChatRateLimitPerMinute       int `yaml:"chatRateLimitPerMinute"`
	TranscribeRateLimitPerMinute int `yaml:"transcribeRateLimitPerMinute"`
	ShareRateLimitPerMinute      int `yaml:"shareRateLimitPerMinute"`
	TriggerRateLimitPerMinute    int `yaml:"triggerRateLimitPerMinute"`

	AnswerCacheTTL      string `yaml:"answerCacheTTL"`
	CompanionMessageTTL string `yaml:"companionMessageTTL"`
	CompanionMaxPending int    `yaml:"companionMaxPending"`
	MaxAudioBytes       int64  `yaml:"maxAudioBytes"`

	StripeSecretKey       string `yaml:"stripeSecretKey"`
	StripeWebhookSecret   string `yaml:"stripeWebhookSecret"`
	StripeStarterPriceID  string `yaml:"stripeStarterPriceID"`
	StripePremiumPriceID  string `yaml:"stripePremiumPriceID"`
	StripeSuccessURL      string `yaml:"stripeSuccessURL"`
	StripeCancelURL       string `yaml:"stripeCancelURL"`
	StripePortalReturnURL string `yaml:"stripePortalReturnURL"`
	StripeAPIURL          string `yaml:"stripeAPIURL"`
}

// Load reads config from path (defaults to STUPIFY_CONFIG, then config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("STUPIFY_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.DBMaxOpenConns = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("REDIS_TLS"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.RedisTLS = b
		}
	}
	if v := os.Getenv("STUPIFY_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("STUPIFY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.SupabaseURL = v
	}
	if v := os.Getenv("SUPABASE_ANON_KEY"); v != "" {
		cfg.SupabaseAnonKey = v
	}
	if v := os.Getenv("SUPABASE_JWT_SECRET"); v != "" {
		cfg.SupabaseJWTSecret = v
	}
	if v := os.Getenv("SUPABASE_JWKS_URL"); v != "" {
		cfg.SupabaseJWKSURL = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("STUPIFY_LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.AnthropicAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		cfg.AnthropicModel = v
	}
	if v := os.Getenv("STUPIFY_FREE_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FreeDailyLimit = n
		}
	}
	if v := os.Getenv("STUPIFY_STARTER_MONTHLY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StarterMonthlyLimit = n
		}
	}
	if v := os.Getenv("STUPIFY_CHAT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChatRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("STUPIFY_MAX_AUDIO_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxAudioBytes = n
		}
	}
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		cfg.StripeSecretKey = v
	}
	if v := os.Getenv("STRIPE_WEBHOOK_SECRET"); v != "" {
		cfg.StripeWebhookSecret = v
	}
	if v := os.Getenv("STRIPE_STARTER_PRICE_ID"); v != "" {
		cfg.StripeStarterPriceID = v
	}
	if v := os.Getenv("STRIPE_PREMIUM_PRICE_ID"); v != "" {
		cfg.StripePremiumPriceID = v
	}
	if v := os.Getenv("STRIPE_API_URL"); v != "" {
		cfg.StripeAPIURL = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting and the companion queue")
	}
	hasLocal := strings.TrimSpace(cfg.SupabaseJWTSecret) != "" || strings.TrimSpace(cfg.SupabaseJWKSURL) != ""
	hasRemote := strings.TrimSpace(cfg.SupabaseURL) != "" && strings.TrimSpace(cfg.SupabaseAnonKey) != ""
	if !hasLocal && !hasRemote {
		return errors.New("config: auth requires SUPABASE_JWT_SECRET, SUPABASE_JWKS_URL or SUPABASE_URL + SUPABASE_ANON_KEY")
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return errors.New("config: openaiAPIKey is required for chat and transcription (set in config.yaml or OPENAI_API_KEY)")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.LLMProvider)) {
	case "", "openai":
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return errors.New("config: anthropicAPIKey is required when llmProvider=anthropic")
		}
	default:
		return fmt.Errorf("config: unknown llmProvider %q (openai or anthropic)", cfg.LLMProvider)
	}
	if strings.TrimSpace(cfg.StripeSecretKey) == "" || strings.TrimSpace(cfg.StripeWebhookSecret) == "" {
		return errors.New("config: billing requires STRIPE_SECRET_KEY + STRIPE_WEBHOOK_SECRET")
	}
	if cfg.FreeDailyLimit < 0 || cfg.StarterMonthlyLimit < 0 {
		return errors.New("config: tier limits must be >= 0")
	}
	if cfg.ChatRateLimitPerMinute < 0 || cfg.TranscribeRateLimitPerMinute < 0 || cfg.ShareRateLimitPerMinute < 0 || cfg.TriggerRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.DBMaxOpenConns < 0 {
		return errors.New("config: dbMaxOpenConns must be >= 0")
	}
	if cfg.MaxAudioBytes < 0 {
		return errors.New("config: maxAudioBytes must be >= 0")
	}
	for name, raw := range map[string]string{
		"jwtLeeway":           cfg.JWTLeeway,
		"dbSlowThreshold":     cfg.DBSlowThreshold,
		"breakerTimeout":      cfg.BreakerTimeout,
		"companionTimeout":    cfg.CompanionTimeout,
		"answerCacheTTL":      cfg.AnswerCacheTTL,
		"companionMessageTTL": cfg.CompanionMessageTTL,
	} {
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration string; empty means zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid duration %q: must be >= 0", raw)
	}
	return dur, nil
}
