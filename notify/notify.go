/*
Package notify delivers redemption events outside the process.

PURPOSE:
  rewards.Service emits an event after every committed transition. The
  notifiers here fan those events out to logs and to Redis pub/sub, where
  animator and partner apps subscribe.

NOTIFIERS:
  Log:    one structured log line per event
  Redis:  PUBLISH of the JSON event on a channel
  Multi:  sends to every child, joins their errors

DELIVERY:
  At most once. A failed publish is returned to the dispatcher, which logs
  it; the transition stays committed.

SEE ALSO:
  - rewards/notify.go: Event and Notifier definitions
*/
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/troopkit/redemption-engine/rewards"
)

// DefaultChannel is the pub/sub channel events are published on.
const DefaultChannel = "redemption-events"

// =============================================================================
// LOG NOTIFIER
// =============================================================================

type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, ev rewards.Event) error {
	attrs := []any{
		"redemption_id", ev.RedemptionID,
		"unit_id", ev.UnitID,
		"offer_id", ev.OfferID,
		"status", ev.Status,
		"approvals", fmt.Sprintf("%d/%d", ev.Approvals, ev.RequiredApprovals),
	}
	if ev.Actor != "" {
		attrs = append(attrs, "actor", ev.Actor)
	}
	if ev.Code != "" {
		attrs = append(attrs, "code", ev.Code)
	}
	if ev.Reason != "" {
		attrs = append(attrs, "reason", ev.Reason)
	}
	l.logger.InfoContext(ctx, string(ev.Type), attrs...)
	return nil
}

// =============================================================================
// REDIS NOTIFIER
// =============================================================================

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Redis publishes events to a Redis channel.
type Redis struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

// NewRedis connects to Redis and checks the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisWithClient(client, cfg.Channel), nil
}

// NewRedisWithClient wraps an existing client. An empty channel selects
// DefaultChannel.
func NewRedisWithClient(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel, timeout: 2 * time.Second}
}

func (r *Redis) Notify(ctx context.Context, ev rewards.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.Type, r.channel, err)
	}
	return nil
}

func (r *Redis) Channel() string { return r.channel }

func (r *Redis) Close() error {
	return r.client.Close()
}

// =============================================================================
// MULTI
// =============================================================================

// Multi sends every event to each notifier in order.
type Multi []rewards.Notifier

func (m Multi) Notify(ctx context.Context, ev rewards.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
