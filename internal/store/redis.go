package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/palpite/clob-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Invalidation on every
// market mutation is what keeps presentation-layer price/orderbook reads
// from serving stale state after a fill.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.UpdateMarket(ctx, m); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, marketKey(m.ID))
	return nil
}

func (s *CachedStore) SaveOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.SaveOrder(ctx, o); err != nil {
		return err
	}
	s.rdb.Del(ctx, userOrdersKey(o.UserID))
	return nil
}

func (s *CachedStore) InsertFill(ctx context.Context, f *model.Fill) error {
	if err := s.primary.InsertFill(ctx, f); err != nil {
		return err
	}
	s.rdb.Del(ctx, recentFillsKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	data, err := s.rdb.Get(ctx, userOrdersKey(userID)).Bytes()
	if err == nil {
		var orders []model.Order
		if json.Unmarshal(data, &orders) == nil {
			return orders, nil
		}
	}

	orders, err := s.primary.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(orders); err == nil {
		s.rdb.Set(ctx, userOrdersKey(userID), data, s.ttl)
	}
	return orders, nil
}

func (s *CachedStore) ListRecentFills(ctx context.Context, limit int) ([]model.Fill, error) {
	// Only the default page is cached: an entry written from a shorter read
	// must never satisfy a larger request.
	if !cacheableFillLimit(limit) {
		return s.primary.ListRecentFills(ctx, limit)
	}

	data, err := s.rdb.Get(ctx, recentFillsKey).Bytes()
	if err == nil {
		var fills []model.Fill
		if json.Unmarshal(data, &fills) == nil {
			return fills, nil
		}
	}

	fills, err := s.primary.ListRecentFills(ctx, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(fills); err == nil {
		s.rdb.Set(ctx, recentFillsKey, data, s.ttl)
	}
	return fills, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) ListOpenOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	return s.primary.ListOpenOrdersByMarket(ctx, marketID)
}

func (s *CachedStore) ListFillsByMarket(ctx context.Context, marketID string, limit int) ([]model.Fill, error) {
	return s.primary.ListFillsByMarket(ctx, marketID, limit)
}

func (s *CachedStore) ListAllFillsByMarket(ctx context.Context, marketID string) ([]model.Fill, error) {
	return s.primary.ListAllFillsByMarket(ctx, marketID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

const recentFillsKey = "fills:recent"

// cacheableFillLimit reports whether a recent-fills request resolves to the
// default page, the only slice the cache holds.
func cacheableFillLimit(limit int) bool {
	return limitOrDefault(limit) == defaultFillPage
}

func marketKey(id string) string      { return fmt.Sprintf("market:%s", id) }
func userOrdersKey(uid string) string { return fmt.Sprintf("orders:user:%s", uid) }
