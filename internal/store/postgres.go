package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/palpite/clob-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, title, category, yes_reserve, no_reserve, total_volume, spread_bps, status, resolution, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10)`,
		m.ID, m.Title, m.Category,
		m.YesReserve.String(), m.NoReserve.String(), m.TotalVolume.String(),
		m.SpreadBps, m.Status, resolutionValue(m.Resolution), m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, title, category,
		        yes_reserve::TEXT, no_reserve::TEXT, total_volume::TEXT,
		        spread_bps, status, resolution, created_at
		 FROM markets WHERE id = $1`, id)

	m, err := scanMarket(row)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrMarketNotFound, id)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, category,
		        yes_reserve::TEXT, no_reserve::TEXT, total_volume::TEXT,
		        spread_bps, status, resolution, created_at
		 FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET yes_reserve = $2::NUMERIC, no_reserve = $3::NUMERIC,
		     total_volume = $4::NUMERIC, spread_bps = $5,
		     status = $6, resolution = $7
		 WHERE id = $1`,
		m.ID, m.YesReserve.String(), m.NoReserve.String(),
		m.TotalVolume.String(), m.SpreadBps, m.Status, resolutionValue(m.Resolution),
	)
	return err
}

func (s *PostgresStore) SaveOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, market_id, side, outcome, quantity, price, filled, status, seq, cancel_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE
		 SET filled = EXCLUDED.filled, status = EXCLUDED.status, cancel_reason = EXCLUDED.cancel_reason`,
		o.ID, o.UserID, o.MarketID, o.Side, o.Outcome,
		o.Quantity.String(), o.Price.String(), o.Filled.String(),
		o.Status, int64(o.Seq), o.CancelReason, o.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, market_id, side, outcome,
		        quantity::TEXT, price::TEXT, filled::TEXT,
		        status, seq, cancel_reason, created_at
		 FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrOrderNotFound, id)
	}
	return o, nil
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, market_id, side, outcome,
		        quantity::TEXT, price::TEXT, filled::TEXT,
		        status, seq, cancel_reason, created_at
		 FROM orders WHERE user_id = $1 ORDER BY seq DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

func (s *PostgresStore) ListOpenOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, market_id, side, outcome,
		        quantity::TEXT, price::TEXT, filled::TEXT,
		        status, seq, cancel_reason, created_at
		 FROM orders
		 WHERE market_id = $1 AND status IN ('open', 'partially_filled')
		 ORDER BY seq`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

func (s *PostgresStore) InsertFill(ctx context.Context, f *model.Fill) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fills (id, market_id, taker_order_id, maker_order_id, taker_user_id, maker_user_id, kind, side, outcome, quantity, price, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::NUMERIC, $11::NUMERIC, $12)`,
		f.ID, f.MarketID, f.TakerOrderID, f.MakerOrderID,
		f.TakerUserID, f.MakerUserID, f.Kind, f.Side, f.Outcome,
		f.Quantity.String(), f.Price.String(), f.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListFillsByMarket(ctx context.Context, marketID string, limit int) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, taker_order_id, maker_order_id, taker_user_id, maker_user_id,
		        kind, side, outcome, quantity::TEXT, price::TEXT, executed_at
		 FROM fills WHERE market_id = $1 ORDER BY executed_at DESC LIMIT $2`,
		marketID, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFills(rows)
}

func (s *PostgresStore) ListAllFillsByMarket(ctx context.Context, marketID string) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, taker_order_id, maker_order_id, taker_user_id, maker_user_id,
		        kind, side, outcome, quantity::TEXT, price::TEXT, executed_at
		 FROM fills WHERE market_id = $1 ORDER BY executed_at ASC`,
		marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFills(rows)
}

func (s *PostgresStore) ListRecentFills(ctx context.Context, limit int) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, taker_order_id, maker_order_id, taker_user_id, maker_user_id,
		        kind, side, outcome, quantity::TEXT, price::TEXT, executed_at
		 FROM fills ORDER BY executed_at DESC LIMIT $1`,
		limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFills(rows)
}

// defaultFillPage bounds fill listings when the caller passes no limit.
const defaultFillPage = 100

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultFillPage
	}
	return limit
}

func resolutionValue(r *model.Outcome) *string {
	if r == nil {
		return nil
	}
	s := string(*r)
	return &s
}

// pgxRow abstracts pgx.Row and pgx.Rows for the scan helpers.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanMarket(row pgxRow) (*model.Market, error) {
	var m model.Market
	var yes, no, vol string
	var resolution *string

	if err := row.Scan(&m.ID, &m.Title, &m.Category,
		&yes, &no, &vol,
		&m.SpreadBps, &m.Status, &resolution, &m.CreatedAt); err != nil {
		return nil, err
	}

	m.YesReserve, _ = decimal.NewFromString(yes)
	m.NoReserve, _ = decimal.NewFromString(no)
	m.TotalVolume, _ = decimal.NewFromString(vol)
	if resolution != nil {
		o := model.Outcome(*resolution)
		m.Resolution = &o
	}
	return &m, nil
}

func scanOrder(row pgxRow) (*model.Order, error) {
	var o model.Order
	var qty, price, filled string
	var seq int64

	if err := row.Scan(&o.ID, &o.UserID, &o.MarketID, &o.Side, &o.Outcome,
		&qty, &price, &filled,
		&o.Status, &seq, &o.CancelReason, &o.CreatedAt); err != nil {
		return nil, err
	}

	o.Quantity, _ = decimal.NewFromString(qty)
	o.Price, _ = decimal.NewFromString(price)
	o.Filled, _ = decimal.NewFromString(filled)
	o.Seq = uint64(seq)
	return &o, nil
}

func scanOrders(rows pgxRows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func scanFills(rows pgxRows) ([]model.Fill, error) {
	var fills []model.Fill
	for rows.Next() {
		var f model.Fill
		var qty, price string

		if err := rows.Scan(&f.ID, &f.MarketID, &f.TakerOrderID, &f.MakerOrderID,
			&f.TakerUserID, &f.MakerUserID,
			&f.Kind, &f.Side, &f.Outcome, &qty, &price, &f.Timestamp); err != nil {
			return nil, err
		}

		f.Quantity, _ = decimal.NewFromString(qty)
		f.Price, _ = decimal.NewFromString(price)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}
