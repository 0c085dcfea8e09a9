// Package memory provides in-memory implementations of the domain stores,
// used by tests and by the dry-run backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

type pairKey struct {
	token string
	chain int64
}

// PositionStore is an in-memory implementation of domain.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by id
	open map[pairKey]string          // OPEN position id per (token, chain)
	now  func() time.Time
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
		open: make(map[pairKey]string),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func clonePosition(p *domain.Position) domain.Position {
	c := *p
	if p.CoinID != nil {
		v := *p.CoinID
		c.CoinID = &v
	}
	if p.ClosedAt != nil {
		v := *p.ClosedAt
		c.ClosedAt = &v
	}
	return c
}

// Create inserts an OPEN position. Returns ErrAlreadyOpen if the pair already
// has one.
func (s *PositionStore) Create(_ context.Context, params domain.CreatePositionParams) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{params.TokenAddress, params.ChainID}
	if _, exists := s.open[key]; exists {
		return domain.Position{}, fmt.Errorf("memory: create position %s/%d: %w",
			params.TokenAddress, params.ChainID, domain.ErrAlreadyOpen)
	}

	now := s.now()
	p := &domain.Position{
		ID:                uuid.NewString(),
		TokenAddress:      params.TokenAddress,
		ChainID:           params.ChainID,
		Symbol:            params.Symbol,
		CoinID:            params.CoinID,
		BuyPriceUSD:       params.BuyPriceUSD,
		CurrentPriceUSD:   decimal.NewNullDecimal(params.BuyPriceUSD),
		HighestPriceEver:  params.BuyPriceUSD,
		AmountToken:       params.AmountToken,
		AmountUSDInvested: params.AmountUSDInvested,
		Status:            domain.PositionStatusOpen,
		BuyTxRef:          params.BuyTxRef,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.data[p.ID] = p
	s.open[key] = p.ID
	return clonePosition(p), nil
}

// GetByID retrieves a position by its ID.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[id]
	if !ok {
		return domain.Position{}, domain.ErrPositionNotFound
	}
	return clonePosition(p), nil
}

// GetOpenByToken returns the OPEN position for the pair.
func (s *PositionStore) GetOpenByToken(_ context.Context, tokenAddress string, chainID int64) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.open[pairKey{tokenAddress, chainID}]
	if !ok {
		return domain.Position{}, domain.ErrPositionNotFound
	}
	return clonePosition(s.data[id]), nil
}

// GetByBuyTxRef finds the position opened by a buy transaction.
func (s *PositionStore) GetByBuyTxRef(_ context.Context, chainID int64, txRef string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.data {
		if p.ChainID == chainID && p.BuyTxRef == txRef {
			return clonePosition(p), nil
		}
	}
	return domain.Position{}, domain.ErrPositionNotFound
}

// ListOpen returns OPEN positions ordered by creation time.
func (s *PositionStore) ListOpen(_ context.Context, chainID *int64) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Position
	for _, id := range s.open {
		p := s.data[id]
		if chainID != nil && p.ChainID != *chainID {
			continue
		}
		result = append(result, clonePosition(p))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ListHistory returns all positions newest first.
func (s *PositionStore) ListHistory(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.RLock()
	var result []domain.Position
	for _, p := range s.data {
		if opts.Since != nil && p.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && p.CreatedAt.After(*opts.Until) {
			continue
		}
		result = append(result, clonePosition(p))
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ListClosedBefore returns CLOSED positions closed before the given time.
func (s *PositionStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Position
	for _, p := range s.data {
		if p.Status == domain.PositionStatusClosed && p.ClosedAt != nil && p.ClosedAt.Before(before) {
			result = append(result, clonePosition(p))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ClosedAt.Before(*result[j].ClosedAt)
	})
	return result, nil
}

// openLocked returns the mutable OPEN position. Caller holds s.mu.
func (s *PositionStore) openLocked(id string) (*domain.Position, error) {
	p, ok := s.data[id]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	if !p.IsOpen() {
		return nil, fmt.Errorf("memory: position %s: %w", id, domain.ErrAlreadyClosed)
	}
	return p, nil
}

// UpdatePrices writes current, peak and floor together. Neither the stored
// peak nor the stored floor ever decreases.
func (s *PositionStore) UpdatePrices(_ context.Context, id string, upd domain.PriceUpdate) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.openLocked(id)
	if err != nil {
		return domain.Position{}, err
	}
	p.CurrentPriceUSD = decimal.NewNullDecimal(upd.CurrentPriceUSD)
	if upd.HighestPriceEver.GreaterThan(p.HighestPriceEver) {
		p.HighestPriceEver = upd.HighestPriceEver
	}
	if upd.ProfitFloor.Valid && (!p.ProfitFloor.Valid || upd.ProfitFloor.Decimal.GreaterThan(p.ProfitFloor.Decimal)) {
		p.ProfitFloor = upd.ProfitFloor
	}
	p.UpdatedAt = s.now()
	return clonePosition(p), nil
}

// Close transitions an OPEN position to CLOSED with all sell fields at once.
func (s *PositionStore) Close(_ context.Context, id string, fields domain.CloseFields) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.openLocked(id)
	if err != nil {
		return domain.Position{}, err
	}
	closedAt := fields.ClosedAt
	p.Status = domain.PositionStatusClosed
	p.SellTxRef = fields.SellTxRef
	p.PnL = decimal.NewNullDecimal(fields.PnL)
	p.PnLPercentage = decimal.NewNullDecimal(fields.PnLPercentage)
	p.ClosedAt = &closedAt
	p.UpdatedAt = s.now()
	delete(s.open, pairKey{p.TokenAddress, p.ChainID})
	return clonePosition(p), nil
}
