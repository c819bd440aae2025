package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"stupify/internal/metrics"
	"stupify/internal/usertoken"
	"stupify/internal/util"
	"stupify/pkg/ai"
	"stupify/pkg/billing"
	"stupify/pkg/cache"
	"stupify/pkg/queue"
	"stupify/pkg/store"
	"stupify/pkg/usage"
	"stupify/services/api/internal/app"
	"stupify/services/api/internal/config"
	"stupify/services/api/internal/server"
)

func main() {
	// A local .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, "api")

	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	collector := metrics.New("stupify")

	chat, companion, openaiClient, err := buildProviders(cfg, collector)
	if err != nil {
		util.Fatal("failed to init llm provider", "err", err)
	}

	answerCacheTTL := duration(cfg.AnswerCacheTTL)
	answerCache, err := cache.NewAnswerCache(redisClient, "", answerCacheTTL)
	if err != nil {
		util.Fatal("failed to init answer cache", "err", err)
	}
	messages, err := queue.NewRedisMessageQueue(redisClient, queue.MessageQueueConfig{
		TTL:        duration(cfg.CompanionMessageTTL),
		MaxPending: cfg.CompanionMaxPending,
	})
	if err != nil {
		util.Fatal("failed to init companion queue", "err", err)
	}
	sessions, err := queue.NewRedisSessionStore(redisClient, "", 0)
	if err != nil {
		util.Fatal("failed to init session store", "err", err)
	}
	revoker, err := store.NewRedisTokenRevoker(redisClient, 0)
	if err != nil {
		util.Fatal("failed to init token revoker", "err", err)
	}
	payments, err := billing.New(billing.Config{
		SecretKey:       cfg.StripeSecretKey,
		WebhookSecret:   cfg.StripeWebhookSecret,
		StarterPriceID:  cfg.StripeStarterPriceID,
		PremiumPriceID:  cfg.StripePremiumPriceID,
		SuccessURL:      cfg.StripeSuccessURL,
		CancelURL:       cfg.StripeCancelURL,
		PortalReturnURL: cfg.StripePortalReturnURL,
		APIURL:          cfg.StripeAPIURL,
	})
	if err != nil {
		util.Fatal("failed to init billing", "err", err)
	}

	dbOptions := []store.GormStoreOption{store.WithMaxOpenConns(cfg.DBMaxOpenConns)}
	if slow := duration(cfg.DBSlowThreshold); slow > 0 {
		dbOptions = append(dbOptions, store.WithSlowThreshold(slow))
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:     cfg.DatabaseURL,
		DatabaseOptions: dbOptions,
		Chat:            chat,
		Companion:       companion,
		Transcriber:     openaiClient,
		Cache:           answerCache,
		Queue:           messages,
		Sessions:        sessions,
		Revoker:         revoker,
		Billing:         payments,
		Metrics:         collector,
		Limits: usage.Limits{
			FreeDaily:      cfg.FreeDailyLimit,
			StarterMonthly: cfg.StarterMonthlyLimit,
		},
		CompanionTimeout: duration(cfg.CompanionTimeout),
		MaxAnswerTokens:  cfg.MaxAnswerTokens,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	authenticator, err := buildAuthenticator(cfg)
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trusted proxy cidrs", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:                          appCore,
		Authenticator:                authenticator,
		Redis:                        redisClient,
		Metrics:                      collector,
		AllowedOrigins:               cfg.AllowedOrigins,
		TrustedProxies:               proxies,
		ChatRateLimitPerMinute:       cfg.ChatRateLimitPerMinute,
		TranscribeRateLimitPerMinute: cfg.TranscribeRateLimitPerMinute,
		ShareRateLimitPerMinute:      cfg.ShareRateLimitPerMinute,
		TriggerRateLimitPerMinute:    cfg.TriggerRateLimitPerMinute,
		MaxAudioBytes:                cfg.MaxAudioBytes,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "err", err)
		}
	}()

	slog.Info("api server listening", "addr", addr, "provider", chat.Name())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("api server stopped")
}

// buildProviders wires OpenAI and, when configured, Anthropic behind two
// failover providers with llmProvider first: one for chat answers and one for
// companion messages, so companion timeouts never open the chat breakers.
// OpenAI always backs transcription.
func buildProviders(cfg config.FileConfig, collector *metrics.Collector) (chat, companion *ai.FailoverProvider, transcriber *ai.OpenAIClient, err error) {
	openaiClient, err := ai.NewOpenAIClient(ai.OpenAIConfig{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		Model:           cfg.OpenAIModel,
		TranscribeModel: cfg.WhisperModel,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	providers := []ai.Provider{openaiClient}
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		anthropicClient, err := ai.NewAnthropicClient(ai.AnthropicConfig{
			APIKey:    cfg.AnthropicAPIKey,
			BaseURL:   cfg.AnthropicBaseURL,
			Model:     cfg.AnthropicModel,
			MaxTokens: cfg.MaxAnswerTokens,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		if strings.EqualFold(strings.TrimSpace(cfg.LLMProvider), "anthropic") {
			providers = []ai.Provider{anthropicClient, openaiClient}
		} else {
			providers = append(providers, anthropicClient)
		}
	}
	var maxFailures uint32
	if cfg.BreakerFailures > 0 {
		maxFailures = uint32(cfg.BreakerFailures)
	}
	failoverConfig := ai.FailoverConfig{
		MaxFailures: maxFailures,
		OpenTimeout: duration(cfg.BreakerTimeout),
		OnFailure: func(provider string, err error) {
			collector.ProviderFailures.WithLabelValues(provider).Inc()
			slog.Warn("llm provider failed", "provider", provider, "err", err)
		},
	}
	if chat, err = ai.NewFailoverProvider(failoverConfig, providers...); err != nil {
		return nil, nil, nil, err
	}
	if companion, err = ai.NewFailoverProvider(failoverConfig, providers...); err != nil {
		return nil, nil, nil, err
	}
	return chat, companion, openaiClient, nil
}

// buildAuthenticator prefers local JWT verification and falls back to the
// Supabase Auth API when a project URL and anon key are set.
func buildAuthenticator(cfg config.FileConfig) (usertoken.Authenticator, error) {
	var chain usertoken.Chain
	if strings.TrimSpace(cfg.SupabaseJWTSecret) != "" || strings.TrimSpace(cfg.SupabaseJWKSURL) != "" {
		verifier, err := usertoken.NewVerifier(usertoken.Config{
			JWTSecret:  cfg.SupabaseJWTSecret,
			JWKSURL:    cfg.SupabaseJWKSURL,
			Issuer:     cfg.JWTIssuer,
			Leeway:     duration(cfg.JWTLeeway),
			HTTPClient: &http.Client{Timeout: 5 * time.Second},
		})
		if err != nil {
			return nil, err
		}
		chain = append(chain, verifier)
	}
	if strings.TrimSpace(cfg.SupabaseURL) != "" && strings.TrimSpace(cfg.SupabaseAnonKey) != "" {
		remote, err := usertoken.NewRemoteVerifier(cfg.SupabaseURL, cfg.SupabaseAnonKey)
		if err != nil {
			return nil, err
		}
		chain = append(chain, remote)
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}

// duration parses a value config.Load already validated.
func duration(raw string) time.Duration {
	d, _ := config.ParseDuration(raw)
	return d
}
