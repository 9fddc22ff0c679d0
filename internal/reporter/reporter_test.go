package reporter

import (
	"bytes"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"liquidation-bot-go/internal/models"
	"liquidation-bot-go/internal/persistence"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func trader(i int) models.Trader {
	return common.BigToAddress(big.NewInt(int64(i)))
}

// recorder is a Reporter that keeps what it receives. When gate is set every
// Report blocks until it is closed.
type recorder struct {
	name string
	gate chan struct{}

	mu     sync.Mutex
	events []models.Event
	closed bool
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Report(e models.Event) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func sessionEvents() []models.Event {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []models.Event{
		{Type: models.EventTradersFetched, Time: at, Session: "s1", Traders: []models.Trader{trader(1), trader(2)}},
		{Type: models.EventError, Time: at, Session: "s1", Err: &models.CheckError{Traders: []models.Trader{trader(2)}, Total: 2, Err: errors.New("timeout")}},
		{Type: models.EventTradersChecked, Time: at, Session: "s1", Traders: []models.Trader{trader(1)}},
		{Type: models.EventError, Time: at, Session: "s1", Err: &models.LiquidationError{Trader: trader(1), Err: errors.New("reverted")}},
		{Type: models.EventTraderLiquidated, Time: at.Add(time.Minute), Session: "s1", Trader: trader(1), Tx: common.HexToHash("0xabc")},
		{Type: models.EventBotStopped, Time: at.Add(2 * time.Minute), Session: "s1"},
	}
}

func TestFanoutDeliversToEveryReporter(t *testing.T) {
	a := &recorder{name: "a"}
	b := &recorder{name: "b"}
	f := NewFanout(16, zap.NewNop(), a, b)

	events := make(chan models.Event, 16)
	for _, e := range sessionEvents() {
		events <- e
	}
	close(events)
	f.Run(events)

	for _, r := range []*recorder{a, b} {
		assert.Equal(t, len(sessionEvents()), r.count())
		assert.True(t, r.closed)
		assert.Zero(t, f.Dropped(r.name))
	}
}

func TestFanoutDropsForSlowReporter(t *testing.T) {
	slow := &recorder{name: "slow", gate: make(chan struct{})}
	fast := &recorder{name: "fast"}
	f := NewFanout(1, zap.NewNop(), slow, fast)

	events := make(chan models.Event)
	done := make(chan struct{})
	go func() {
		f.Run(events)
		close(done)
	}()

	for i := 1; i <= 5; i++ {
		events <- models.Event{Type: models.EventTraderLiquidated, Trader: trader(i)}
		require.Eventually(t, func() bool { return fast.count() == i }, time.Second, time.Millisecond)
	}
	close(events)
	close(slow.gate)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fanout did not finish")
	}

	dropped := f.Dropped("slow")
	assert.GreaterOrEqual(t, dropped, uint64(3))
	assert.Equal(t, 5-int(dropped), slow.count())
	assert.Zero(t, f.Dropped("fast"))
	assert.Zero(t, f.Dropped("unknown"))
}

func TestConsoleSummary(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(zap.NewNop(), &out)
	for _, e := range sessionEvents() {
		c.Report(e)
	}

	s := c.Summary()
	assert.Equal(t, "s1", s.Session)
	assert.Equal(t, 1, s.FetchRounds)
	assert.Equal(t, 2, s.OpenPositions)
	assert.Equal(t, 1, s.CheckHits)
	assert.Equal(t, 1, s.CheckErrors)
	assert.Equal(t, 1, s.LiqErrors)
	assert.Zero(t, s.FetchErrors)
	require.Len(t, s.Liquidations, 1)
	assert.Equal(t, 2*time.Minute, s.EndTime.Sub(s.StartTime))

	printed := out.String()
	assert.Contains(t, printed, "Session s1")
	assert.Contains(t, printed, trader(1).Hex())
	assert.Contains(t, printed, common.HexToHash("0xabc").Hex())
	assert.NotContains(t, printed, "Fatal error")
}

func TestConsoleReportsFatalError(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(zap.NewNop(), &out)
	c.Report(models.Event{Type: models.EventBotStopped, Session: "s1", Err: errors.New("fetcher: stage panicked")})

	assert.Contains(t, out.String(), "Fatal error")
	assert.Contains(t, out.String(), "fetcher: stage panicked")
}

func TestJournalReporter(t *testing.T) {
	j, err := persistence.NewBadgerJournal("")
	require.NoError(t, err)
	r := NewJournal(j, zap.NewNop())

	for _, e := range sessionEvents() {
		r.Report(e)
	}

	records, err := j.Session("s1")
	require.NoError(t, err)
	require.Len(t, records, len(sessionEvents()))
	assert.Equal(t, models.EventTraderLiquidated, records[4].Type)
	assert.Equal(t, trader(1).Hex(), records[4].Trader)
	assert.Contains(t, records[1].Error, "timeout")

	assert.NoError(t, r.Close())
}
