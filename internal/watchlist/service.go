// Package watchlist keeps the set of tickers each owner tracks.
package watchlist

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"line-stock-bot/internal/logging"
	"line-stock-bot/internal/quote"
)

type AddResult int

const (
	Added AddResult = iota
	AlreadyPresent
)

type RemoveResult int

const (
	Removed RemoveResult = iota
	NotPresent
)

// Backend is the durable medium. Each call must be committed before it
// returns; the booleans report whether the row/member actually changed.
type Backend interface {
	AddTicker(ctx context.Context, owner, ticker string) (bool, error)
	RemoveTicker(ctx context.Context, owner, ticker string) (bool, error)
	ListTickers(ctx context.Context, owner string) ([]string, error)
}

// ownerLock is shared by every in-flight call for one owner and dropped
// from the map when the last of them finishes.
type ownerLock struct {
	sync.RWMutex
	refs int
}

// Service serializes access per owner on top of a Backend.
type Service struct {
	backend Backend
	logger  *logging.Logger

	mu    sync.Mutex
	locks map[string]*ownerLock
}

func NewService(backend Backend, logger *logging.Logger) *Service {
	return &Service{
		backend: backend,
		logger:  logger.Component("watchlist"),
		locks:   make(map[string]*ownerLock),
	}
}

func (s *Service) acquire(owner string) *ownerLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[owner]
	if !ok {
		l = &ownerLock{}
		s.locks[owner] = l
	}
	l.refs++
	return l
}

func (s *Service) release(owner string, l *ownerLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, owner)
	}
}

func (s *Service) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// Add stores ticker after trimming it. A code outside the exchange grammar
// is rejected with quote.ErrInvalidTicker and never reaches the backend.
func (s *Service) Add(ctx context.Context, owner, ticker string) (AddResult, error) {
	ticker = quote.Normalize(ticker)
	if !quote.ValidTicker(ticker) {
		return AlreadyPresent, fmt.Errorf("add %q for %s: %w", ticker, owner, quote.ErrInvalidTicker)
	}

	l := s.acquire(owner)
	defer s.release(owner, l)
	l.Lock()
	defer l.Unlock()

	added, err := s.backend.AddTicker(ctx, owner, ticker)
	if err != nil {
		return AlreadyPresent, fmt.Errorf("add %s for %s: %w", ticker, owner, err)
	}
	if !added {
		return AlreadyPresent, nil
	}
	s.logger.Info().Str("owner", owner).Str("ticker", ticker).Msg("ticker added")
	return Added, nil
}

func (s *Service) Remove(ctx context.Context, owner, ticker string) (RemoveResult, error) {
	ticker = quote.Normalize(ticker)

	l := s.acquire(owner)
	defer s.release(owner, l)
	l.Lock()
	defer l.Unlock()

	removed, err := s.backend.RemoveTicker(ctx, owner, ticker)
	if err != nil {
		return NotPresent, fmt.Errorf("remove %s for %s: %w", ticker, owner, err)
	}
	if !removed {
		return NotPresent, nil
	}
	s.logger.Info().Str("owner", owner).Str("ticker", ticker).Msg("ticker removed")
	return Removed, nil
}

// List returns the owner's tickers sorted ascending.
func (s *Service) List(ctx context.Context, owner string) ([]string, error) {
	l := s.acquire(owner)
	defer s.release(owner, l)
	l.RLock()
	defer l.RUnlock()

	tickers, err := s.backend.ListTickers(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list for %s: %w", owner, err)
	}
	out := append([]string(nil), tickers...)
	sort.Strings(out)
	return out, nil
}

// Seed fills an empty watchlist with tickers. A non-empty list is left alone.
// Entries are trimmed; malformed codes are skipped with a warning.
func (s *Service) Seed(ctx context.Context, owner string, tickers []string) (int, error) {
	current, err := s.List(ctx, owner)
	if err != nil {
		return 0, err
	}
	if len(current) > 0 {
		return 0, nil
	}
	n := 0
	for _, t := range tickers {
		t = quote.Normalize(t)
		if !quote.ValidTicker(t) {
			s.logger.Warn().Str("owner", owner).Str("ticker", t).Msg("seed ticker skipped: invalid code")
			continue
		}
		res, err := s.Add(ctx, owner, t)
		if err != nil {
			return n, err
		}
		if res == Added {
			n++
		}
	}
	return n, nil
}
