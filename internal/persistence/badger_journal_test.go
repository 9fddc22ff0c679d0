package persistence

import (
	"testing"
	"time"

	"liquidation-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) EventJournal {
	t.Helper()
	j, err := NewBadgerJournal("")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func record(session string, typ models.EventType, at int) models.EventRecord {
	return models.EventRecord{
		Type:    typ,
		Time:    time.Unix(int64(at), 0).UTC(),
		Session: session,
	}
}

func TestJournalSession(t *testing.T) {
	j := newTestJournal(t)

	require.NoError(t, j.Append(record("a", models.EventTradersFetched, 1)))
	require.NoError(t, j.Append(record("b", models.EventTradersFetched, 2)))
	liquidated := record("a", models.EventTraderLiquidated, 3)
	liquidated.Trader = "0x0000000000000000000000000000000000000001"
	liquidated.Tx = "0x01"
	require.NoError(t, j.Append(liquidated))

	got, err := j.Session("a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.EventTradersFetched, got[0].Type)
	assert.Equal(t, liquidated, got[1])

	got, err = j.Session("missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJournalLast(t *testing.T) {
	j := newTestJournal(t)
	for i := 1; i <= 5; i++ {
		require.NoError(t, j.Append(record("a", models.EventTradersFetched, i)))
	}

	got, err := j.Last(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].Time.Unix())
	assert.Equal(t, int64(5), got[1].Time.Unix())

	got, err = j.Last(10)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, int64(1), got[0].Time.Unix())

	got, err = j.Last(0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestJournalKeysSortInAppendOrder(t *testing.T) {
	assert.Less(t, string(eventKey(255)), string(eventKey(256)))
	assert.Less(t, string(eventKey(1)), string(eventKey(1<<40)))
}
