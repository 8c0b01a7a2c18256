// Package app holds the wiring shared by the payflow binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"payflow.app/resolver/common/llm"
	"payflow.app/resolver/core/config"
	"payflow.app/resolver/internal/ai"
	"payflow.app/resolver/internal/decision"
	"payflow.app/resolver/internal/queue"
	"payflow.app/resolver/internal/rules"
)

func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// NewQueue opens the named queue with the configured retry policy.
func NewQueue(client *redis.Client, cfg config.Config, name string) *queue.Queue {
	return queue.New(client, queue.Config{
		Name:         name,
		Prefix:       cfg.Redis.Prefix,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		BackoffBase:  cfg.Queue.BackoffBase,
		StallTimeout: cfg.Queue.StallTimeout,
	})
}

// NewDecisionRouter builds the rules engine and, in ai mode, the AI engine
// with its provider client.
func NewDecisionRouter(cfg config.Config) (*decision.Router, error) {
	rulesEngine := rules.NewEngine()
	if cfg.Decision.Mode != config.EngineModeAI {
		return decision.NewRouter(config.EngineModeRules, rulesEngine, nil), nil
	}

	client, err := llm.New(llm.Config{
		Provider:  cfg.AILLM.Provider,
		APIKey:    cfg.AILLM.APIKey,
		BaseURL:   cfg.AILLM.BaseURL,
		Model:     cfg.AILLM.Model,
		MaxTokens: cfg.AILLM.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}

	policies, err := ai.NewPolicyRegistry()
	if err != nil {
		return nil, fmt.Errorf("loading ai policies: %w", err)
	}

	engine := ai.NewEngine(client, policies, ai.Thresholds{
		AutoResolve: cfg.Decision.AIAutoResolveThreshold,
		HumanReview: cfg.Decision.AIHumanReviewThreshold,
	}, cfg.Decision.AITimeout)

	slog.Info("ai decision engine enabled",
		"provider", cfg.AILLM.Provider,
		"model", client.Model())
	return decision.NewRouter(config.EngineModeAI, rulesEngine, engine), nil
}
