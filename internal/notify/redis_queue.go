package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const payloadField = "email"

// RedisQueueConfig names the stream and consumer group used by RedisQueue.
type RedisQueueConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Logger   *logrus.Logger
}

// StreamClient is the subset of *redis.Client used by RedisQueue.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	Close() error
}

// RedisQueue carries emails over a Redis stream consumer group so that
// several server instances can share one outbound mail queue. Entries are
// acknowledged once a worker accepts them; entries left pending by a previous
// run of the same consumer are replayed when Consume starts.
type RedisQueue struct {
	rdb StreamClient
	cfg RedisQueueConfig
}

func NewRedisQueue(rdb StreamClient, cfg RedisQueueConfig) *RedisQueue {
	if cfg.Stream == "" {
		cfg.Stream = "registry:emails"
	}
	if cfg.Group == "" {
		cfg.Group = "registry_mailers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "mailer_1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &RedisQueue{rdb: rdb, cfg: cfg}
}

func (q *RedisQueue) Publish(ctx context.Context, email Email) error {
	payload, err := encodeEmail(email)
	if err != nil {
		return err
	}
	err = q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish email: %w", err)
	}
	return nil
}

func (q *RedisQueue) Consume(ctx context.Context, handle func(Email) error) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	logger := q.cfg.Logger.WithFields(logrus.Fields{"stream": q.cfg.Stream, "consumer": q.cfg.Consumer})
	if err := q.replayPending(ctx, logger, handle); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    10,
			Block:    q.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			logger.Errorf("read stream: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if !q.process(ctx, logger, msg, handle) {
					return nil
				}
			}
		}
	}
}

// replayPending walks the entries delivered to this consumer but never
// acknowledged, oldest first.
func (q *RedisQueue) replayPending(ctx context.Context, logger *logrus.Entry, handle func(Email) error) error {
	start := "0"
	replayed := 0
	for ctx.Err() == nil {
		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, start},
			Count:    10,
			Block:    -1,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				break
			}
			return fmt.Errorf("read pending entries: %w", err)
		}

		read := 0
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				read++
				start = msg.ID
				if !q.process(ctx, logger, msg, handle) {
					return nil
				}
			}
		}
		if read == 0 {
			break
		}
		replayed += read
	}
	if replayed > 0 {
		logger.Infof("replayed %d pending emails", replayed)
	}
	return nil
}

// process hands one entry to handle and acknowledges it unless the handler
// refused it. It reports false when consumption should stop.
func (q *RedisQueue) process(ctx context.Context, logger *logrus.Entry, msg redis.XMessage, handle func(Email) error) bool {
	entry := logger.WithField("message_id", msg.ID)
	email, err := decodeEmail(msg.Values)
	if err != nil {
		entry.Errorf("drop malformed email: %v", err)
	} else if err := handle(email); err != nil {
		entry.Infof("email left pending: %v", err)
		return false
	}
	// the consumer ctx may be cancelled by now; the ack must still land
	if err := q.rdb.XAck(context.WithoutCancel(ctx), q.cfg.Stream, q.cfg.Group, msg.ID).Err(); err != nil {
		entry.Warnf("ack failed: %v", err)
	}
	return true
}

// Close releases the Redis client.
func (q *RedisQueue) Close() error {
	if err := q.rdb.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

func encodeEmail(email Email) (string, error) {
	raw, err := json.Marshal(email)
	if err != nil {
		return "", fmt.Errorf("encode email: %w", err)
	}
	return string(raw), nil
}

func decodeEmail(values map[string]any) (Email, error) {
	raw, ok := values[payloadField].(string)
	if !ok {
		return Email{}, fmt.Errorf("missing %q field", payloadField)
	}
	var email Email
	if err := json.Unmarshal([]byte(raw), &email); err != nil {
		return Email{}, fmt.Errorf("decode email: %w", err)
	}
	return email, nil
}

var _ Queue = (*RedisQueue)(nil)
