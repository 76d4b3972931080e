// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/eventkiosk/cardforge/internal/config"
)

// Config selects and parameterizes a queue backend.
type Config struct {
	Backend    string
	Name       string
	URL        string // SQS
	Region     string // SQS
	Visibility time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New builds the queue backend named in cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (Queue, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryQueue(cfg.Visibility, opts...), nil
	case config.BackendRedis:
		return NewRedisQueue(RedisConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			Name:       cfg.Name,
			Visibility: cfg.Visibility,
		}, opts...)
	case config.BackendSQS:
		return NewSQSQueue(ctx, SQSConfig{
			URL:        cfg.URL,
			Region:     cfg.Region,
			Visibility: cfg.Visibility,
		})
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
