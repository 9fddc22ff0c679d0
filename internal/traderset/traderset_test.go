package traderset

import (
	"context"
	"math/big"
	"testing"
	"time"

	"liquidation-bot-go/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trader(i int) models.Trader {
	return common.BigToAddress(big.NewInt(int64(i)))
}

func TestActiveReplaceCarriesTimestamps(t *testing.T) {
	s := NewActive()
	s.Replace([]models.Trader{trader(1), trader(2)})

	t0 := time.Unix(1000, 0)
	require.True(t, s.MarkChecked(trader(1), t0))
	require.True(t, s.MarkChecked(trader(2), t0))

	// trader 2 closes, trader 3 opens
	s.Replace([]models.Trader{trader(1), trader(3)})

	at, ok := s.LastChecked(trader(1))
	require.True(t, ok)
	assert.Equal(t, t0, at, "surviving trader keeps its timestamp")

	_, ok = s.LastChecked(trader(2))
	assert.False(t, ok, "removed trader is dropped")

	at, ok = s.LastChecked(trader(3))
	require.True(t, ok)
	assert.True(t, at.IsZero(), "new trader is unchecked")

	// A trader that comes back starts unchecked again.
	s.Replace([]models.Trader{trader(2)})
	at, ok = s.LastChecked(trader(2))
	require.True(t, ok)
	assert.True(t, at.IsZero())
}

func TestActiveReplaceKeepsOrderAndDropsDuplicates(t *testing.T) {
	s := NewActive()
	s.Replace([]models.Trader{trader(3), trader(1), trader(3), trader(2)})
	assert.Equal(t, []models.Trader{trader(3), trader(1), trader(2)}, s.Snapshot())
	assert.Equal(t, 3, s.Len())
}

func TestActiveMarkCheckedFreshness(t *testing.T) {
	s := NewActive()
	s.Replace([]models.Trader{trader(1)})

	t1 := time.Unix(100, 0)
	t2 := time.Unix(200, 0)

	assert.True(t, s.MarkChecked(trader(1), t2))
	assert.False(t, s.MarkChecked(trader(1), t1), "older pass must not overwrite a newer one")
	assert.False(t, s.MarkChecked(trader(1), t2), "re-applying the same pass is a no-op")

	at, _ := s.LastChecked(trader(1))
	assert.Equal(t, t2, at)

	assert.False(t, s.MarkChecked(trader(9), t2), "inactive trader is never marked")
}

func TestActiveWaitNonEmpty(t *testing.T) {
	s := NewActive()

	done := make(chan error, 1)
	go func() { done <- s.WaitNonEmpty(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitNonEmpty returned on an empty set")
	case <-time.After(20 * time.Millisecond):
	}

	// An empty replacement does not wake the waiter.
	s.Replace(nil)
	select {
	case <-done:
		t.Fatal("WaitNonEmpty returned after an empty replace")
	case <-time.After(20 * time.Millisecond):
	}

	s.Replace([]models.Trader{trader(1)})
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for WaitNonEmpty")
	}
}

func TestActiveWaitNonEmptyCancelled(t *testing.T) {
	s := NewActive()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.WaitNonEmpty(ctx), context.Canceled)
}

func TestLiquidatableSetSemantics(t *testing.T) {
	s := NewLiquidatable()

	assert.Equal(t, 2, s.Add(trader(1), trader(2)))
	assert.Equal(t, 1, s.Add(trader(2), trader(3)), "duplicates are ignored")
	assert.Equal(t, []models.Trader{trader(1), trader(2), trader(3)}, s.Snapshot())

	s.Remove(trader(2), trader(7))
	assert.Equal(t, []models.Trader{trader(1), trader(3)}, s.Snapshot())
	assert.True(t, s.Contains(trader(1)))
	assert.False(t, s.Contains(trader(2)))

	s.Remove(trader(1), trader(3))
	assert.Equal(t, 0, s.Len())
}

func TestLiquidatableWaitNonEmpty(t *testing.T) {
	s := NewLiquidatable()

	done := make(chan error, 1)
	go func() { done <- s.WaitNonEmpty(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitNonEmpty returned on an empty set")
	case <-time.After(20 * time.Millisecond):
	}

	s.Add(trader(1))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for WaitNonEmpty")
	}
}
