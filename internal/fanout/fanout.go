// Package fanout optionally republishes NOPING notifications to a Redis
// Pub/Sub channel, so external tooling (dashboards, alert routers) can
// subscribe without needing a connection to the control socket. It is
// purely additive: the Unix-socket protocol remains the canonical delivery
// path and behaves identically whether or not fanout is configured.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is used when no channel name is configured.
const DefaultChannel = "nopingd:noping"

// Message is the payload published for each NOPING event.
type Message struct {
	HostID   uint64    `json:"host_id"`
	HostName string    `json:"host_name"`
	At       time.Time `json:"at"`
}

// Fanout publishes NOPING events to a Redis Pub/Sub channel.
type Fanout struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// New connects to Redis and returns a Fanout publishing to channel. If
// channel is empty, DefaultChannel is used.
func New(addr, password string, db int, channel string, logger *slog.Logger) (*Fanout, error) {
	if channel == "" {
		channel = DefaultChannel
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Fanout{
		client:  client,
		channel: channel,
		logger:  logger,
	}, nil
}

// Publish broadcasts one NOPING event. It is best-effort: a Redis error is
// logged and swallowed, matching the Notifier's no-retransmission contract
// for local controllers.
func (f *Fanout) Publish(ctx context.Context, hostID uint64, hostName string) {
	if f == nil {
		return
	}

	msg := Message{HostID: hostID, HostName: hostName, At: time.Now()}
	data, err := json.Marshal(msg)
	if err != nil {
		f.logger.Error("marshaling fanout message", "error", err)
		return
	}

	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		f.logger.Warn("publishing fanout message failed", "host_id", hostID, "error", err)
	}
}

// Close closes the Redis connection.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	return f.client.Close()
}
