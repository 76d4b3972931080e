// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/eventkiosk/cardforge/internal/log"
)

// RedisQueue implements Queue on a redis instance using three structures per
// queue: a ready list (LPUSH/RPOP for FIFO), a message hash holding the
// payload envelopes, and a deadline zset tracking in-flight deliveries.
// Expired deliveries are reaped back onto the serving end of the ready list,
// so a redelivered message keeps its place at the head of the queue.
type RedisQueue struct {
	client     *redis.Client
	name       string
	visibility time.Duration
	clock      func() time.Time
}

// RedisConfig holds redis connection and queue configuration.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Name       string
	Visibility time.Duration
}

type redisEnvelope struct {
	ID           string `json:"id"`
	Body         []byte `json:"body"`
	ReceiveCount int    `json:"receive_count"`
	Receipt      string `json:"receipt,omitempty"`
}

// NewRedisQueue connects to redis and verifies the connection with a ping.
func NewRedisQueue(cfg RedisConfig, opts ...Option) (*RedisQueue, error) {
	o := buildOptions(opts)
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	visibility := cfg.Visibility
	if visibility <= 0 {
		visibility = 90 * time.Second
	}

	logger := log.WithComponent("queue")
	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Str("queue", cfg.Name).
		Dur("visibility", visibility).
		Msg("connected to redis queue")

	return &RedisQueue{
		client:     client,
		name:       cfg.Name,
		visibility: visibility,
		clock:      o.clock,
	}, nil
}

func (q *RedisQueue) readyKey() string    { return "cardforge:q:" + q.name + ":ready" }
func (q *RedisQueue) messagesKey() string { return "cardforge:q:" + q.name + ":messages" }
func (q *RedisQueue) inflightKey() string { return "cardforge:q:" + q.name + ":inflight" }
func (q *RedisQueue) receiptsKey() string { return "cardforge:q:" + q.name + ":receipts" }

func (q *RedisQueue) Send(ctx context.Context, body []byte, groupID, dedupID string) (string, error) {
	env := redisEnvelope{
		ID:   uuid.NewString(),
		Body: body,
	}
	buf, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.messagesKey(), env.ID, buf)
	pipe.LPush(ctx, q.readyKey(), env.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redis send: %w", err)
	}
	return env.ID, nil
}

// reap moves expired in-flight deliveries back to the serving end of the
// ready list. ZREM is the ownership gate: whichever caller removes the id
// from the deadline zset performs the requeue, so concurrent reapers cannot
// duplicate a message.
func (q *RedisQueue) reap(ctx context.Context) error {
	now := q.clock()
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.inflightKey(), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another consumer owns this requeue
		}
		raw, err := q.client.HGet(ctx, q.messagesKey(), id).Result()
		if err == redis.Nil {
			continue // deleted while expiring
		}
		if err != nil {
			return err
		}
		var env redisEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			logger := log.WithComponent("queue")
			logger.Warn().Err(err).Str("message_id", id).Msg("dropping undecodable envelope")
			q.client.HDel(ctx, q.messagesKey(), id)
			continue
		}
		pipe := q.client.TxPipeline()
		if env.Receipt != "" {
			pipe.HDel(ctx, q.receiptsKey(), env.Receipt)
			env.Receipt = ""
			buf, _ := json.Marshal(env)
			pipe.HSet(ctx, q.messagesKey(), id, buf)
		}
		// RPUSH lands next to RPOP: the expired message is served next,
		// preserving its original queue position.
		pipe.RPush(ctx, q.readyKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max < 1 {
		max = 1
	}
	deadline := q.clock().Add(wait)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := q.reap(ctx); err != nil {
			return nil, fmt.Errorf("redis reap: %w", err)
		}
		msgs, err := q.receiveBatch(ctx, max)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 || wait <= 0 || !q.clock().Before(deadline) {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (q *RedisQueue) receiveBatch(ctx context.Context, max int) ([]Message, error) {
	var out []Message
	for len(out) < max {
		id, err := q.client.RPop(ctx, q.readyKey()).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("redis receive: %w", err)
		}
		raw, err := q.client.HGet(ctx, q.messagesKey(), id).Result()
		if err == redis.Nil {
			continue // deleted while queued
		}
		if err != nil {
			return nil, fmt.Errorf("redis receive: %w", err)
		}
		var env redisEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			logger := log.WithComponent("queue")
			logger.Warn().Err(err).Str("message_id", id).Msg("dropping undecodable envelope")
			q.client.HDel(ctx, q.messagesKey(), id)
			continue
		}

		env.ReceiveCount++
		env.Receipt = uuid.NewString()
		buf, err := json.Marshal(env)
		if err != nil {
			return nil, err
		}
		deadline := q.clock().Add(q.visibility).UnixMilli()
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, q.messagesKey(), id, buf)
		pipe.HSet(ctx, q.receiptsKey(), env.Receipt, id)
		pipe.ZAdd(ctx, q.inflightKey(), redis.Z{Score: float64(deadline), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("redis receive: %w", err)
		}

		out = append(out, Message{
			ID:            id,
			Body:          env.Body,
			ReceiptHandle: env.Receipt,
			ReceiveCount:  env.ReceiveCount,
		})
	}
	return out, nil
}

func (q *RedisQueue) Delete(ctx context.Context, receiptHandle string) error {
	id, err := q.client.HGet(ctx, q.receiptsKey(), receiptHandle).Result()
	if err == redis.Nil {
		return ErrUnknownReceipt
	}
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.receiptsKey(), receiptHandle)
	pipe.HDel(ctx, q.messagesKey(), id)
	pipe.ZRem(ctx, q.inflightKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Len returns the number of live messages, visible or in flight.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.HLen(ctx, q.messagesKey()).Result()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
