// Package store defines the persistence interface for the engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/palpite/clob-engine/internal/model"
)

// Store is the persistence interface. Monetary and share fields persist as
// exact decimal strings, never binary floats.
type Store interface {
	// --- Markets ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarket persists reserves, volume, status, and resolution.
	UpdateMarket(ctx context.Context, m *model.Market) error

	// --- Orders ---

	// SaveOrder inserts or updates an order.
	SaveOrder(ctx context.Context, o *model.Order) error

	// GetOrder retrieves an order by ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListOrdersByUser returns all orders placed by a user, newest first.
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)

	// ListOpenOrdersByMarket returns the market's resting orders (open or
	// partially filled) in sequence order. Used to rebuild books on startup.
	ListOpenOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error)

	// --- Immutable fill ledger ---

	// InsertFill appends an immutable fill record.
	InsertFill(ctx context.Context, f *model.Fill) error

	// ListFillsByMarket returns a market's fills, newest first. A limit of
	// zero or less applies the default page size.
	ListFillsByMarket(ctx context.Context, marketID string, limit int) ([]model.Fill, error)

	// ListAllFillsByMarket returns every fill of a market in execution
	// order. Used at resolution to compute redemptions.
	ListAllFillsByMarket(ctx context.Context, marketID string) ([]model.Fill, error)

	// ListRecentFills returns the most recent fills across all markets.
	ListRecentFills(ctx context.Context, limit int) ([]model.Fill, error)
}
