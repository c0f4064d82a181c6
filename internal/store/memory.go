package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/palpite/clob-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	markets map[string]*model.Market
	orders  map[string]*model.Order
	fills   []model.Fill
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*model.Market),
		orders:  make(map[string]*model.Order),
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return fmt.Errorf("market %s already exists", m.ID)
	}

	// Store a copy to avoid external mutation.
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrMarketNotFound, id)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) UpdateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; !ok {
		return fmt.Errorf("%w: %s", model.ErrMarketNotFound, m.ID)
	}
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) SaveOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrOrderNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			result = append(result, *o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq > result[j].Seq
	})
	return result, nil
}

func (s *MemoryStore) ListOpenOrdersByMarket(_ context.Context, marketID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if o.MarketID == marketID && !o.Status.Terminal() {
			result = append(result, *o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}

func (s *MemoryStore) InsertFill(_ context.Context, f *model.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fills = append(s.fills, *f)
	return nil
}

func (s *MemoryStore) ListFillsByMarket(_ context.Context, marketID string, limit int) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = limitOrDefault(limit)
	var result []model.Fill
	for i := len(s.fills) - 1; i >= 0; i-- {
		if s.fills[i].MarketID != marketID {
			continue
		}
		result = append(result, s.fills[i])
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) ListAllFillsByMarket(_ context.Context, marketID string) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Fill
	for _, f := range s.fills {
		if f.MarketID == marketID {
			result = append(result, f)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListRecentFills(_ context.Context, limit int) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = limitOrDefault(limit)
	var result []model.Fill
	for i := len(s.fills) - 1; i >= 0; i-- {
		result = append(result, s.fills[i])
		if len(result) == limit {
			break
		}
	}
	return result, nil
}
