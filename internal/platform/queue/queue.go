// Package queue reads sequence jobs from a visibility-timeout queue and
// acknowledges them once the engine has decided their fate.
//
// A message that is read but neither deleted nor retained becomes visible
// again when its visibility timeout lapses; that is the redelivery path for
// crashed workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaycrm/relay-go/internal/platform/env"
)

type Backend string

const (
	BackendPGMQ  Backend = "pgmq"
	BackendRedis Backend = "redis"
)

type Message struct {
	ID         int64
	ReadCount  int
	EnqueuedAt time.Time
	Body       json.RawMessage
}

type Queue interface {
	Read(ctx context.Context, n int, visibility time.Duration) ([]Message, error)
	Send(ctx context.Context, body []byte, delay time.Duration) (int64, error)
	// Delete removes a message for good. Deleting a missing message is not
	// an error.
	Delete(ctx context.Context, id int64) error
	// Retain keeps a message and hides it for delay.
	Retain(ctx context.Context, id int64, delay time.Duration) error
	Check(ctx context.Context) error
}

type Config struct {
	Backend           Backend
	Name              string
	VisibilityTimeout time.Duration
	RedisAddr         string
	RedisDB           int
	RedisPassword     string
}

func ConfigFromEnv() (Config, error) {
	visibility, err := env.Duration("SEQUENCE_ENGINE_QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	redisDB, err := env.Int("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Backend:           Backend(strings.ToLower(env.String("SEQUENCE_ENGINE_QUEUE_BACKEND", string(BackendPGMQ)))),
		Name:              env.String("SEQUENCE_ENGINE_QUEUE_NAME", "sequence_jobs"),
		VisibilityTimeout: visibility,
		RedisAddr:         env.String("REDIS_ADDR", "localhost:6379"),
		RedisDB:           redisDB,
		RedisPassword:     env.String("REDIS_PASSWORD", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendPGMQ:
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("REDIS_ADDR is required when SEQUENCE_ENGINE_QUEUE_BACKEND=redis")
		}
		if c.RedisDB < 0 {
			return errors.New("REDIS_DB must be >= 0")
		}
	default:
		return fmt.Errorf("SEQUENCE_ENGINE_QUEUE_BACKEND must be one of: pgmq, redis (got %q)", c.Backend)
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("SEQUENCE_ENGINE_QUEUE_NAME is required")
	}
	if c.VisibilityTimeout < time.Second {
		return errors.New("SEQUENCE_ENGINE_QUEUE_VISIBILITY_TIMEOUT must be at least 1s")
	}
	return nil
}

// seconds rounds up so a sub-second delay still hides the message.
func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}
