package reporter

import (
	"fmt"
	"io"
	"sync"
	"time"

	"liquidation-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

// Summary accumulates what happened during a session.
type Summary struct {
	Session       string
	StartTime     time.Time
	EndTime       time.Time
	FetchRounds   int
	OpenPositions int // size of the latest fetched trader list
	CheckHits     int // traders reported liquidatable, counted per report
	Liquidations  []models.Event
	FetchErrors   int
	CheckErrors   int
	LiqErrors     int
	OtherErrors   int
	Err           error // fatal error that ended the session
}

// Console logs every event and prints a summary table when the session stops.
type Console struct {
	logger *zap.Logger
	out    io.Writer

	mu      sync.Mutex
	summary Summary
}

// NewConsole creates a console reporter writing its summary to out.
func NewConsole(logger *zap.Logger, out io.Writer) *Console {
	return &Console{logger: logger, out: out}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Report(e models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.summary
	if s.Session == "" {
		s.Session = e.Session
		s.StartTime = e.Time
	}
	s.EndTime = e.Time

	switch e.Type {
	case models.EventTradersFetched:
		s.FetchRounds++
		s.OpenPositions = len(e.Traders)
		c.logger.Debug("Traders fetched", zap.Int("open_positions", len(e.Traders)))
	case models.EventTradersChecked:
		s.CheckHits += len(e.Traders)
		c.logger.Info("Liquidatable traders found", zap.Int("count", len(e.Traders)), zap.Stringers("traders", e.Traders))
	case models.EventTraderLiquidated:
		s.Liquidations = append(s.Liquidations, e)
		c.logger.Info("Trader liquidated", zap.Stringer("trader", e.Trader), zap.Stringer("tx", e.Tx))
	case models.EventError:
		c.countError(e.Err)
		c.logger.Warn("Bot error", zap.Error(e.Err))
	case models.EventBotStopped:
		s.Err = e.Err
		c.logger.Info("Bot stopped", zap.String("session", e.Session), zap.Error(e.Err))
		c.render()
	}
}

func (c *Console) countError(err error) {
	switch errorKind(err) {
	case "fetch":
		c.summary.FetchErrors++
	case "check":
		c.summary.CheckErrors++
	case "liquidation":
		c.summary.LiqErrors++
	default:
		c.summary.OtherErrors++
	}
}

// Summary returns a copy of the accumulated summary.
func (c *Console) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.summary
	s.Liquidations = append([]models.Event(nil), c.summary.Liquidations...)
	return s
}

func (c *Console) render() {
	s := c.summary

	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Session %s", s.Session)
	t.AppendRows([]table.Row{
		{"Period", fmt.Sprintf("%s to %s", s.StartTime.Format(time.DateTime), s.EndTime.Format(time.DateTime))},
		{"Fetch rounds", s.FetchRounds},
		{"Open positions", s.OpenPositions},
		{"Liquidatable reports", s.CheckHits},
		{"Liquidations", len(s.Liquidations)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Fetch errors", s.FetchErrors},
		{"Check errors", s.CheckErrors},
		{"Liquidation errors", s.LiqErrors},
		{"Other errors", s.OtherErrors},
	})
	if s.Err != nil {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Fatal error", s.Err.Error()})
	}
	t.Render()

	if len(s.Liquidations) == 0 {
		return
	}
	lt := table.NewWriter()
	lt.SetOutputMirror(c.out)
	lt.SetStyle(table.StyleLight)
	lt.AppendHeader(table.Row{"#", "Time", "Trader", "Tx"})
	for i, e := range s.Liquidations {
		lt.AppendRow(table.Row{i + 1, e.Time.Format(time.DateTime), e.Trader.Hex(), e.Tx.Hex()})
	}
	lt.Render()
}

func (c *Console) Close() error { return nil }
