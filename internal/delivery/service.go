// Package delivery sends text through outbound channels with pacing,
// duplicate suppression and an audit trail.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"line-stock-bot/internal/logging"
	"line-stock-bot/internal/store"
)

type Channel interface {
	Name() string
	Push(ctx context.Context, to, text string) error
}

type Recorder interface {
	InsertDelivery(ctx context.Context, d store.DeliveryRecord) error
}

type Status string

const (
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusSuppressed Status = "suppressed"
)

const (
	KindReply     = "reply"
	KindBroadcast = "broadcast"
)

type Result struct {
	ID     string
	Status Status
	Error  error
}

type Config struct {
	RateLimit   RateLimitConfig
	DedupWindow time.Duration
}

type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

type Service struct {
	cfg      Config
	limiter  *rate.Limiter
	recorder Recorder
	logger   *logging.Logger
	now      func() time.Time

	dedupMu sync.Mutex
	dedup   map[string]time.Time
}

func NewService(recorder Recorder, cfg Config, logger *logging.Logger) *Service {
	return &Service{
		cfg:      cfg,
		limiter:  newLimiter(cfg.RateLimit),
		recorder: recorder,
		logger:   logger.Component("delivery"),
		now:      time.Now,
		dedup:    make(map[string]time.Time),
	}
}

func newLimiter(cfg RateLimitConfig) *rate.Limiter {
	if cfg.PerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.PerMinute
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), burst)
}

// Send pushes text to one target. Identical (channel, target, text) sends
// within the dedup window are suppressed; every attempt is recorded.
func (s *Service) Send(ctx context.Context, ch Channel, to, text, kind string) Result {
	res := Result{ID: uuid.NewString()}
	key := ch.Name() + "\x00" + to + "\x00" + text

	at, ok := s.reserve(key)
	if !ok {
		res.Status = StatusSuppressed
	} else {
		res.Error = s.push(ctx, ch, to, text)
		if res.Error != nil {
			res.Status = StatusFailed
			s.release(key, at)
		} else {
			res.Status = StatusSent
		}
	}

	s.record(ctx, ch.Name(), to, text, kind, res)
	return res
}

func (s *Service) push(ctx context.Context, ch Channel, to, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if err := ch.Push(ctx, to, text); err != nil {
		return fmt.Errorf("%s push: %w", ch.Name(), err)
	}
	return nil
}

// reserve claims key for the dedup window. The check and the claim happen
// under one lock so concurrent identical sends push at most once.
func (s *Service) reserve(key string) (time.Time, bool) {
	now := s.now()
	if s.cfg.DedupWindow <= 0 {
		return now, true
	}
	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()
	if last, ok := s.dedup[key]; ok && now.Sub(last) <= s.cfg.DedupWindow {
		return now, false
	}
	for k, t := range s.dedup {
		if now.Sub(t) > s.cfg.DedupWindow {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now
	return now, true
}

// release drops a reservation whose push failed, unless a later send has
// already replaced it.
func (s *Service) release(key string, at time.Time) {
	if s.cfg.DedupWindow <= 0 {
		return
	}
	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()
	if t, ok := s.dedup[key]; ok && t.Equal(at) {
		delete(s.dedup, key)
	}
}

func (s *Service) record(ctx context.Context, channel, to, text, kind string, res Result) {
	ev := s.logger.Info()
	if res.Error != nil {
		ev = s.logger.Warn().Err(res.Error)
	}
	ev.Str("id", res.ID).Str("channel", channel).Str("target", to).Str("kind", kind).Str("status", string(res.Status)).Msg("delivery")

	if s.recorder == nil {
		return
	}
	now := s.now()
	rec := store.DeliveryRecord{
		ID:        res.ID,
		TS:        now.Unix(),
		Kind:      kind,
		Channel:   channel,
		Target:    to,
		Status:    string(res.Status),
		Payload:   text,
		CreatedAt: now.Format(time.RFC3339),
	}
	if res.Error != nil {
		rec.Error = res.Error.Error()
	}
	if err := s.recorder.InsertDelivery(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error().Err(err).Str("id", res.ID).Msg("insert delivery record")
	}
}
