package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troopkit/redemption-engine/notify"
	"github.com/troopkit/redemption-engine/rewards"
)

func activatedEvent() rewards.Event {
	expires := time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC)
	return rewards.Event{
		Type:              rewards.EventActivated,
		RedemptionID:      "r-1",
		UnitID:            "unit-wolves",
		OfferID:           "pizza",
		PartnerID:         "partner-pizza",
		Actor:             "anim-3",
		Status:            rewards.StatusActive,
		Approvals:         3,
		RequiredApprovals: 3,
		Code:              "SCOUT-ABC234",
		ExpiresAt:         &expires,
		At:                time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestLog_WritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	require.NoError(t, notify.NewLog(logger).Notify(context.Background(), activatedEvent()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "redemption.activated", line["msg"])
	assert.Equal(t, "SCOUT-ABC234", line["code"])
	assert.Equal(t, "3/3", line["approvals"])
	assert.NotContains(t, line, "reason")
}

type failing struct{ err error }

func (f failing) Notify(context.Context, rewards.Event) error { return f.err }

type counting struct{ n int }

func (c *counting) Notify(context.Context, rewards.Event) error { c.n++; return nil }

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	// GIVEN: A failing notifier between two working ones
	// WHEN: An event is sent
	// THEN: Both working notifiers receive it and the failure is reported
	boom := errors.New("boom")
	first, last := &counting{}, &counting{}
	m := notify.Multi{first, failing{err: boom}, last}

	err := m.Notify(context.Background(), activatedEvent())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, first.n)
	assert.Equal(t, 1, last.n)
}

func TestMulti_EmptyIsNoop(t *testing.T) {
	assert.NoError(t, notify.Multi{}.Notify(context.Background(), activatedEvent()))
}

// Needs a Redis server: REDEMPTION_TEST_REDIS_ADDR=localhost:6379
func TestRedis_PublishesJSONEvent(t *testing.T) {
	addr := os.Getenv("REDEMPTION_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("REDEMPTION_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	channel := "redemption-events-test-" + time.Now().Format("150405.000000")
	n, err := notify.NewRedis(ctx, notify.RedisConfig{Addr: addr, Channel: channel})
	require.NoError(t, err)
	defer n.Close()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, n.Notify(ctx, activatedEvent()))

	select {
	case msg := <-sub.Channel():
		var got rewards.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, rewards.EventActivated, got.Type)
		assert.Equal(t, "SCOUT-ABC234", got.Code)
		require.NotNil(t, got.ExpiresAt)
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRedis_UnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := notify.NewRedis(ctx, notify.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
