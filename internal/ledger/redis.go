package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/palpite/clob-engine/internal/model"
)

// Pub/Sub channels consumed by the external balance ledger.
const (
	FillsChannel       = "ledger:fills"
	ResolutionsChannel = "ledger:resolutions"
)

// RedisNotifier publishes ledger events as JSON on Redis Pub/Sub channels.
type RedisNotifier struct {
	rdb *redis.Client
}

// NewRedisNotifier creates a notifier backed by the given Redis client.
func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) FillExecuted(ctx context.Context, f *model.Fill) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal fill %s: %w", f.ID, err)
	}
	if err := n.rdb.Publish(ctx, FillsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish fill %s: %w", f.ID, err)
	}
	return nil
}

func (n *RedisNotifier) MarketResolved(ctx context.Context, r *Resolution) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal resolution %s: %w", r.Market.ID, err)
	}
	if err := n.rdb.Publish(ctx, ResolutionsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish resolution %s: %w", r.Market.ID, err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ Notifier = (*RedisNotifier)(nil)
	_ Notifier = LogNotifier{}
)
