// Package bot wires the fetcher, checker and liquidator into a running
// session and publishes what they do as events.
package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"liquidation-bot-go/internal/checker"
	"liquidation-bot-go/internal/exchange"
	"liquidation-bot-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("bot is already running")
	ErrNotRunning     = errors.New("bot is not running")
	ErrNoProviders    = errors.New("at least one check provider is required")
)

// State is the lifecycle state of a Bot.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Provider is a named liquidatability checker. The first provider in Deps is
// the primary one.
type Provider struct {
	Name    string
	Checker exchange.LiquidationChecker
}

// Deps are the chain connections a session runs against.
type Deps struct {
	Source    exchange.PositionEventSource
	Sender    exchange.LiquidationSender
	Providers []Provider
}

// Settings holds the timing and sizing of every stage.
type Settings struct {
	StartBlock      uint64
	MaxBlocks       uint64
	FetchInterval   time.Duration
	RecheckInterval time.Duration
	RetryInterval   time.Duration
	SettleWindow    time.Duration
	ChunkSize       int
	CallTimeout     time.Duration
	Policy          checker.CompletionPolicy
	EventBuffer     int
}

// SettingsFromConfig converts the file configuration into Settings.
func SettingsFromConfig(cfg *models.Config) Settings {
	policy := checker.FirstCleanPass
	if cfg.RecheckAwaitAll {
		policy = checker.AwaitAll
	}
	return Settings{
		StartBlock:      cfg.ExchangeLaunchBlock,
		MaxBlocks:       cfg.MaxBlocksPerJSONRPCQuery,
		FetchInterval:   seconds(cfg.FetcherRetryIntervalSec),
		RecheckInterval: seconds(cfg.RecheckIntervalSec),
		RetryInterval:   seconds(cfg.LiquidatorRetryIntervalSec),
		SettleWindow:    seconds(cfg.LiquidationSettleSec),
		ChunkSize:       cfg.MaxTradersPerLiquidationCheck,
		CallTimeout:     seconds(cfg.RPCTimeoutSec),
		Policy:          policy,
		EventBuffer:     cfg.EventBufferSize,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Bot runs at most one session at a time.
type Bot struct {
	deps     Deps
	settings Settings
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	session *Session
}

// New creates an idle bot.
func New(deps Deps, settings Settings, logger *zap.Logger) *Bot {
	if settings.EventBuffer <= 0 {
		settings.EventBuffer = 1
	}
	return &Bot{
		deps:     deps,
		settings: settings,
		logger:   logger,
	}
}

// State returns the current lifecycle state.
func (b *Bot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start launches a new session. The session stops when Stop is called, when
// ctx is done, or when a stage fails.
func (b *Bot) Start(ctx context.Context) (*Session, error) {
	if len(b.deps.Providers) == 0 {
		return nil, ErrNoProviders
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateIdle {
		return nil, ErrAlreadyRunning
	}

	s := newSession(b, uuid.NewString())
	b.state = StateRunning
	b.session = s

	s.start(ctx)
	b.logger.Info("Bot session started",
		zap.String("session", s.id),
		zap.Int("providers", len(b.deps.Providers)),
		zap.Uint64("start_block", b.settings.StartBlock),
		zap.Stringer("recheck_policy", b.settings.Policy))
	return s, nil
}

// Stop stops the running session and waits until every stage has returned.
func (b *Bot) Stop() error {
	b.mu.Lock()
	s := b.session
	b.mu.Unlock()

	if s == nil {
		return ErrNotRunning
	}
	return s.Stop()
}

// beginStop moves a running session into the stopping state. It returns
// false if s is not the running session.
func (b *Bot) beginStop(s *Session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != s || b.state != StateRunning {
		return false
	}
	b.state = StateStopping
	return true
}

func (b *Bot) finish(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == s {
		b.session = nil
		b.state = StateIdle
	}
}

func (b *Bot) filters() []*checker.Filter {
	filters := make([]*checker.Filter, len(b.deps.Providers))
	for i, p := range b.deps.Providers {
		filters[i] = checker.NewFilter(p.Name, p.Checker, b.settings.ChunkSize, b.settings.CallTimeout)
	}
	return filters
}
