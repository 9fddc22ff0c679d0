package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"liquidation-bot-go/internal/checker"
	"liquidation-bot-go/internal/fetcher"
	"liquidation-bot-go/internal/liquidator"
	"liquidation-bot-go/internal/models"
	"liquidation-bot-go/internal/pipeline"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrStagePanicked wraps a panic recovered from a pipeline stage.
var ErrStagePanicked = errors.New("stage panicked")

// Session is one run of the bot. Its event channel is closed after the
// botStopped event once every stage has returned.
type Session struct {
	id     string
	bot    *Bot
	logger *zap.Logger
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	err    error

	eventsMu sync.Mutex
	events   chan models.Event
	closed   bool
	dropped  atomic.Uint64
}

func newSession(b *Bot, id string) *Session {
	return &Session{
		id:     id,
		bot:    b,
		logger: b.logger.With(zap.String("session", id)),
		now:    time.Now,
		done:   make(chan struct{}),
		events: make(chan models.Event, b.settings.EventBuffer),
	}
}

// ID returns the session identifier attached to every event.
func (s *Session) ID() string {
	return s.id
}

// Events returns the session's event stream.
func (s *Session) Events() <-chan models.Event {
	return s.events
}

// Dropped returns how many events were discarded because nobody drained the
// event channel in time.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// Join waits for the session to end on its own and returns the stage error
// that ended it, if any.
func (s *Session) Join() error {
	<-s.done
	return s.err
}

// Stop cancels every stage and waits for in-flight calls to finish.
func (s *Session) Stop() error {
	if s.bot.beginStop(s) {
		s.logger.Info("Stopping bot session")
		s.cancel()
	}
	<-s.done
	return s.err
}

func (s *Session) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	settings := s.bot.settings
	filters := s.bot.filters()

	f := fetcher.New(s.bot.deps.Source, fetcher.Settings{
		StartBlock:  settings.StartBlock,
		MaxBlocks:   settings.MaxBlocks,
		Interval:    settings.FetchInterval,
		CallTimeout: settings.CallTimeout,
	}, s.logger.Named("fetcher"))
	c := checker.NewChecker(filters, settings.RecheckInterval, s.logger.Named("checker"))
	l := liquidator.New(s.bot.deps.Sender, filters, liquidator.Settings{
		RetryInterval: settings.RetryInterval,
		SettleWindow:  settings.SettleWindow,
		Policy:        settings.Policy,
		CallTimeout:   settings.CallTimeout,
	}, s.logger.Named("liquidator"))

	fetched := make(chan fetcher.Result)
	active := make(chan []models.Trader)
	checked := make(chan checker.Result)
	liquidatable := make(chan []models.Trader)
	liquidated := make(chan liquidator.Result)

	g, gctx := errgroup.WithContext(ctx)
	s.goStage(g, "fetcher", func() error { return f.Run(gctx, fetched) })
	s.goStage(g, "fetch relay", func() error { return s.relayFetched(gctx, fetched, active) })
	s.goStage(g, "checker", func() error { return c.Run(gctx, active, checked) })
	s.goStage(g, "check relay", func() error { return s.relayChecked(gctx, checked, liquidatable) })
	s.goStage(g, "liquidator", func() error { return l.Run(gctx, liquidatable, liquidated) })
	s.goStage(g, "liquidation relay", func() error { return s.relayLiquidated(liquidated) })

	go func() {
		err := g.Wait()
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			err = nil
		}
		cancel()
		s.finish(err)
	}()
}

// goStage runs fn on g, turning a panic into a fatal stage error.
func (s *Session) goStage(g *errgroup.Group, name string, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Stage panic recovered",
					zap.String("stage", name), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = fmt.Errorf("%s: %w: %v", name, ErrStagePanicked, r)
			}
		}()
		return fn()
	})
}

func (s *Session) finish(err error) {
	s.err = err
	if err != nil {
		s.logger.Error("Bot session failed", zap.Error(err))
	} else {
		s.logger.Info("Bot session stopped", zap.Uint64("dropped_events", s.Dropped()))
	}

	s.publish(models.Event{Type: models.EventBotStopped, Err: err})

	s.eventsMu.Lock()
	s.closed = true
	close(s.events)
	s.eventsMu.Unlock()

	s.bot.finish(s)
	close(s.done)
}

func (s *Session) relayFetched(ctx context.Context, in <-chan fetcher.Result, out chan<- []models.Trader) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-in:
			if res.Err != nil {
				s.publish(models.Event{Type: models.EventError, Err: res.Err})
				continue
			}
			s.publish(models.Event{Type: models.EventTradersFetched, Traders: res.Traders})
			if !pipeline.Send(ctx, out, res.Traders) {
				return ctx.Err()
			}
		}
	}
}

func (s *Session) relayChecked(ctx context.Context, in <-chan checker.Result, out chan<- []models.Trader) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-in:
			if res.Err != nil {
				s.publish(models.Event{Type: models.EventError, Err: res.Err})
				continue
			}
			s.publish(models.Event{Type: models.EventTradersChecked, Traders: res.Traders})
			if !pipeline.Send(ctx, out, res.Traders) {
				return ctx.Err()
			}
		}
	}
}

// relayLiquidated runs until the liquidator closes in, so outcomes of an
// attempt that was in flight at stop time are still published.
func (s *Session) relayLiquidated(in <-chan liquidator.Result) error {
	defer func() {
		// Keeps the liquidator from blocking if this relay panics.
		go func() {
			for range in {
			}
		}()
	}()

	for res := range in {
		for _, o := range res.Liquidated {
			s.publish(models.Event{Type: models.EventTraderLiquidated, Trader: o.Trader, Tx: o.Tx})
		}
		for _, err := range res.Errors {
			s.publish(models.Event{Type: models.EventError, Err: err})
		}
	}
	return nil
}

// publish never blocks: when the buffer is full the oldest event is dropped.
func (s *Session) publish(e models.Event) {
	e.Session = s.id
	e.Time = s.now()

	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	if s.closed {
		return
	}
	for {
		select {
		case s.events <- e:
			return
		default:
		}
		select {
		case <-s.events:
			s.dropped.Add(1)
		default:
		}
	}
}
