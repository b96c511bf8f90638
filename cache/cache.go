// Package cache provides a Redis-backed cache for final answers, keyed by
// the normalized question. A miss is a sentinel condition, never an error
// the caller should abort on.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss reports that no cached answer exists for the question.
var ErrCacheMiss = errors.New("cache miss")

// Config configures the answer cache.
type Config struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// DefaultConfig returns sensible cache defaults.
func DefaultConfig() Config {
	return Config{
		Addr: "localhost:6379",
		TTL:  time.Hour,
	}
}

// Answer is the cached payload: the generated text plus the provenance it
// was built from, so replays look identical to fresh answers.
type Answer struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources,omitempty"`
}

// AnswerCache stores answers in Redis.
type AnswerCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(cfg Config, logger *zap.Logger) (*AnswerCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &AnswerCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger.With(zap.String("component", "answer_cache")),
	}, nil
}

// Key derives the cache key from the normalized question, so incidental
// whitespace and case differences share one entry.
func Key(question string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha1.Sum([]byte(normalized))
	return "docnorm:answer:" + hex.EncodeToString(sum[:])
}

// Get returns the cached answer or ErrCacheMiss.
func (c *AnswerCache) Get(ctx context.Context, question string) (*Answer, error) {
	raw, err := c.client.Get(ctx, Key(question)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var answer Answer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, fmt.Errorf("decode cached answer: %w", err)
	}

	c.logger.Debug("cache hit", zap.String("key", Key(question)))
	return &answer, nil
}

// Set stores the answer under the cache TTL.
func (c *AnswerCache) Set(ctx context.Context, question string, answer *Answer) error {
	raw, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	if err := c.client.Set(ctx, Key(question), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *AnswerCache) Close() error {
	return c.client.Close()
}
