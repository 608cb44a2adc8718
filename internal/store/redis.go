package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/duskmarket/exchange/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over the hot, high-fan-out read paths — market metadata and user
// positions. Everything transactional (orders, trades, wallets, the event
// log) passes straight through to the primary store: it embeds Store so
// only the cached paths need overriding, the rest fall through untouched.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.Store.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) ResolveMarketTx(ctx context.Context, tx Tx, marketID string, resolvesTo model.Outcome) error {
	if err := s.Store.ResolveMarketTx(ctx, tx, marketID, resolvesTo); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(marketID))
	return nil
}

func (s *CachedStore) PutPosition(ctx context.Context, tx Tx, p model.Position) error {
	if err := s.Store.PutPosition(ctx, tx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(p.MarketID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	if data, err := s.rdb.Get(ctx, marketKey(id)).Bytes(); err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.Store.GetMarket(ctx, id)
	if err != nil || m == nil {
		return m, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMarketBySlug(ctx context.Context, slug string) (*model.Market, error) {
	if marketID, err := s.rdb.Get(ctx, slugKey(slug)).Result(); err == nil {
		return s.GetMarket(ctx, marketID)
	}

	m, err := s.Store.GetMarketBySlug(ctx, slug)
	if err != nil || m == nil {
		return m, err
	}
	s.cacheMarket(ctx, m)
	s.rdb.Set(ctx, slugKey(slug), m.ID, s.ttl)
	return m, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	if data, err := s.rdb.Get(ctx, positionsKey(marketID)).Bytes(); err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.Store.ListPositions(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(marketID), data, s.ttl)
	}
	return positions, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string     { return fmt.Sprintf("market:%s", id) }
func slugKey(slug string) string     { return fmt.Sprintf("market-slug:%s", slug) }
func positionsKey(mid string) string { return fmt.Sprintf("positions:%s", mid) }
