package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

const (
	pgUniqueViolation      = "23505"
	openPerTokenConstraint = "positions_one_open_per_token"
)

// PositionStore implements domain.PositionStore using PostgreSQL. The
// one-OPEN-per-token rule is enforced by a partial unique index, so the
// existence check and insert are a single statement.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, token_address, chain_id, symbol, coin_id,
	buy_price_usd, current_price_usd, highest_price_ever, profit_floor,
	amount_token, amount_usd_invested, status, buy_tx_ref,
	COALESCE(sell_tx_ref, ''), pnl, pnl_percentage,
	created_at, updated_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string
	err := row.Scan(
		&p.ID, &p.TokenAddress, &p.ChainID, &p.Symbol, &p.CoinID,
		&p.BuyPriceUSD, &p.CurrentPriceUSD, &p.HighestPriceEver, &p.ProfitFloor,
		&p.AmountToken, &p.AmountUSDInvested, &status, &p.BuyTxRef,
		&p.SellTxRef, &p.PnL, &p.PnLPercentage,
		&p.CreatedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new OPEN position. The highest price starts at the buy price.
func (s *PositionStore) Create(ctx context.Context, params domain.CreatePositionParams) (domain.Position, error) {
	const query = `
		INSERT INTO positions (
			id, token_address, chain_id, symbol, coin_id,
			buy_price_usd, current_price_usd, highest_price_ever,
			amount_token, amount_usd_invested, status, buy_tx_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $6, $6, $7, $8, 'OPEN', $9)
		RETURNING ` + positionSelectCols

	id := uuid.NewString()
	p, err := scanPosition(s.pool.QueryRow(ctx, query,
		id, params.TokenAddress, params.ChainID, params.Symbol, params.CoinID,
		params.BuyPriceUSD, params.AmountToken, params.AmountUSDInvested, params.BuyTxRef,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == openPerTokenConstraint {
			return domain.Position{}, fmt.Errorf("postgres: create position %s/%d: %w",
				params.TokenAddress, params.ChainID, domain.ErrAlreadyOpen)
		}
		return domain.Position{}, fmt.Errorf("postgres: create position %s/%d: %w",
			params.TokenAddress, params.ChainID, err)
	}
	return p, nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrPositionNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpenByToken returns the OPEN position for a token on a chain.
func (s *PositionStore) GetOpenByToken(ctx context.Context, tokenAddress string, chainID int64) (domain.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE token_address = $1 AND chain_id = $2 AND status = 'OPEN'`,
		tokenAddress, chainID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrPositionNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get open position %s/%d: %w", tokenAddress, chainID, err)
	}
	return p, nil
}

// GetByBuyTxRef finds the position opened by a buy transaction.
func (s *PositionStore) GetByBuyTxRef(ctx context.Context, chainID int64, txRef string) (domain.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE buy_tx_ref = $1 AND chain_id = $2
		 ORDER BY created_at LIMIT 1`,
		txRef, chainID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrPositionNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position by buy tx %s: %w", txRef, err)
	}
	return p, nil
}

// ListOpen returns all OPEN positions, optionally restricted to one chain.
func (s *PositionStore) ListOpen(ctx context.Context, chainID *int64) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'OPEN'`
	var args []any
	if chainID != nil {
		query += ` AND chain_id = $1`
		args = append(args, *chainID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListHistory returns positions of any status, newest first, with pagination
// and optional creation-time filtering.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns CLOSED positions whose closed_at precedes before.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'CLOSED' AND closed_at < $1
		 ORDER BY closed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// UpdatePrices persists current price, peak and floor in one write. Peak and
// floor are combined with GREATEST so a stale writer can lower neither; a
// NULL floor leaves the stored one in place.
func (s *PositionStore) UpdatePrices(ctx context.Context, id string, upd domain.PriceUpdate) (domain.Position, error) {
	const query = `
		UPDATE positions SET
			current_price_usd  = $2,
			highest_price_ever = GREATEST(highest_price_ever, $3),
			profit_floor       = GREATEST(profit_floor, $4::numeric),
			updated_at         = NOW()
		WHERE id = $1 AND status = 'OPEN'
		RETURNING ` + positionSelectCols

	p, err := scanPosition(s.pool.QueryRow(ctx, query,
		id, upd.CurrentPriceUSD, upd.HighestPriceEver, upd.ProfitFloor))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, s.notOpenError(ctx, id)
		}
		return domain.Position{}, fmt.Errorf("postgres: update prices %s: %w", id, err)
	}
	return p, nil
}

// Close performs the OPEN -> CLOSED transition, writing every sell field in
// the same statement.
func (s *PositionStore) Close(ctx context.Context, id string, fields domain.CloseFields) (domain.Position, error) {
	const query = `
		UPDATE positions SET
			status         = 'CLOSED',
			sell_tx_ref    = $2,
			pnl            = $3,
			pnl_percentage = $4,
			closed_at      = $5,
			updated_at     = NOW()
		WHERE id = $1 AND status = 'OPEN'
		RETURNING ` + positionSelectCols

	p, err := scanPosition(s.pool.QueryRow(ctx, query,
		id, fields.SellTxRef, fields.PnL, fields.PnLPercentage, fields.ClosedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, s.notOpenError(ctx, id)
		}
		return domain.Position{}, fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	return p, nil
}

// notOpenError tells a missing row apart from a CLOSED one after a guarded
// update matched nothing.
func (s *PositionStore) notOpenError(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM positions WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrPositionNotFound
	case err != nil:
		return fmt.Errorf("postgres: lookup position %s: %w", id, err)
	default:
		return fmt.Errorf("postgres: position %s: %w", id, domain.ErrAlreadyClosed)
	}
}
