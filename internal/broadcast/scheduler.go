// Package broadcast pushes every subscriber's watchlist quotes at fixed
// times of day.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"line-stock-bot/internal/config"
	"line-stock-bot/internal/delivery"
	"line-stock-bot/internal/logging"
	"line-stock-bot/internal/quote"
)

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type Watchlist interface {
	List(ctx context.Context, owner string) ([]string, error)
}

type Resolver interface {
	ResolveAll(ctx context.Context, tickers []string) []quote.Result
}

type Sender interface {
	Send(ctx context.Context, ch delivery.Channel, to, text, kind string) delivery.Result
}

// RunClaimer persists fired triggers so a restart cannot repeat one.
type RunClaimer interface {
	ClaimBroadcastRun(ctx context.Context, date, trigger string) (bool, error)
}

type Commentator interface {
	Summarize(ctx context.Context, quotes string) string
}

type Trigger struct {
	Hour   int
	Minute int
}

func (t Trigger) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

type Target struct {
	Channel delivery.Channel
	To      string
	Owner   string
}

type Config struct {
	Triggers     []Trigger
	Location     *time.Location
	TickInterval time.Duration
	Grace        time.Duration
	SendTimeout  time.Duration
}

type State int32

const (
	Idle State = iota
	Triggered
	Sending
)

func (s State) String() string {
	switch s {
	case Triggered:
		return "triggered"
	case Sending:
		return "sending"
	default:
		return "idle"
	}
}

type Summary struct {
	Owners  int `json:"owners"`
	Targets int `json:"targets"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type Deps struct {
	Watchlist  Watchlist
	Resolver   Resolver
	Sender     Sender
	Claimer    RunClaimer
	Commentary Commentator
	Clock      Clock
}

type Scheduler struct {
	cfg     Config
	deps    Deps
	targets []Target
	logger  *logging.Logger

	state atomic.Int32

	mu    sync.Mutex
	fired map[string]bool

	sendMu sync.Mutex
}

func NewScheduler(cfg Config, targets []Target, deps Deps, logger *logging.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("CST", 8*60*60)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 20 * time.Second
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 2 * time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Minute
	}
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	return &Scheduler{
		cfg:     cfg,
		deps:    deps,
		targets: targets,
		logger:  logger.Component("broadcast"),
		fired:   make(map[string]bool),
	}
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Run ticks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().Int("triggers", len(s.cfg.Triggers)).Int("targets", len(s.targets)).Msg("scheduler started")
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-s.deps.Clock.After(s.cfg.TickInterval):
		}
	}
}

// Tick fires every trigger whose window [trigger, trigger+grace) contains
// now and that has not fired for its date. A window that started yesterday
// and runs past midnight still counts. It reports how many fired.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.deps.Clock.Now().In(s.cfg.Location)
	fired := 0
	for _, tr := range s.cfg.Triggers {
		at, ok := s.window(now, tr)
		if !ok {
			continue
		}
		date := at.Format("2006-01-02")
		if !s.markFired(now, date, tr) {
			continue
		}
		s.state.Store(int32(Triggered))
		if s.deps.Claimer != nil {
			ok, err := s.deps.Claimer.ClaimBroadcastRun(ctx, date, tr.String())
			if err != nil {
				s.logger.Error().Err(err).Str("trigger", tr.String()).Msg("claim broadcast run")
			} else if !ok {
				s.logger.Info().Str("date", date).Str("trigger", tr.String()).Msg("broadcast already ran")
				s.state.Store(int32(Idle))
				continue
			}
		}
		sum := s.BroadcastNow(ctx)
		s.logger.Info().Str("trigger", tr.String()).Interface("summary", sum).Msg("broadcast done")
		fired++
	}
	return fired
}

// window returns the trigger instant whose grace window holds now, checking
// today's and yesterday's occurrence.
func (s *Scheduler) window(now time.Time, tr Trigger) (time.Time, bool) {
	for back := 0; back <= 1; back++ {
		day := now.AddDate(0, 0, -back)
		at := time.Date(day.Year(), day.Month(), day.Day(), tr.Hour, tr.Minute, 0, 0, s.cfg.Location)
		if !now.Before(at) && now.Before(at.Add(s.cfg.Grace)) {
			return at, true
		}
	}
	return time.Time{}, false
}

func (s *Scheduler) markFired(now time.Time, date string, tr Trigger) bool {
	key := date + " " + tr.String()
	oldest := now.AddDate(0, 0, -1).Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired[key] {
		return false
	}
	for k := range s.fired {
		if k[:10] < oldest {
			delete(s.fired, k)
		}
	}
	s.fired[key] = true
	return true
}

// BroadcastNow sends one round to every target immediately.
func (s *Scheduler) BroadcastNow(ctx context.Context) Summary {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.state.Store(int32(Sending))
	defer s.state.Store(int32(Idle))

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	stamp := s.deps.Clock.Now().In(s.cfg.Location)
	owners, byOwner := groupByOwner(s.targets)
	sum := Summary{Owners: len(owners), Targets: len(s.targets)}

	for _, owner := range owners {
		targets := byOwner[owner]
		text, ok := s.compose(ctx, owner, stamp)
		if !ok {
			sum.Skipped += len(targets)
			continue
		}
		for _, tg := range targets {
			res := s.deps.Sender.Send(ctx, tg.Channel, tg.To, text, delivery.KindBroadcast)
			switch res.Status {
			case delivery.StatusSent:
				sum.Sent++
			case delivery.StatusSuppressed:
				sum.Skipped++
			default:
				sum.Failed++
			}
		}
	}
	return sum
}

// compose builds the message for one owner; false means nothing to send.
func (s *Scheduler) compose(ctx context.Context, owner string, stamp time.Time) (string, bool) {
	tickers, err := s.deps.Watchlist.List(ctx, owner)
	if err != nil {
		s.logger.Error().Err(err).Str("owner", owner).Msg("read watchlist")
		return "", false
	}
	if len(tickers) == 0 {
		s.logger.Debug().Str("owner", owner).Msg("empty watchlist, skipped")
		return "", false
	}
	body := quote.FormatResults(s.deps.Resolver.ResolveAll(ctx, tickers))
	text := Header(stamp) + "\n\n" + body
	if s.deps.Commentary != nil {
		if line := s.deps.Commentary.Summarize(ctx, body); line != "" {
			text += "\n\n💬 " + line
		}
	}
	return text, true
}

func Header(t time.Time) string {
	return "📈 台股追蹤（" + t.Format("2006-01-02 15:04") + "）"
}

func groupByOwner(targets []Target) ([]string, map[string][]Target) {
	var order []string
	by := make(map[string][]Target)
	for _, t := range targets {
		if _, ok := by[t.Owner]; !ok {
			order = append(order, t.Owner)
		}
		by[t.Owner] = append(by[t.Owner], t)
	}
	return order, by
}

// ParseTriggers converts "HH:MM" strings into triggers.
func ParseTriggers(raw []string) ([]Trigger, error) {
	out := make([]Trigger, 0, len(raw))
	for _, r := range raw {
		h, m, err := config.ParseClock(r)
		if err != nil {
			return nil, err
		}
		out = append(out, Trigger{Hour: h, Minute: m})
	}
	return out, nil
}
