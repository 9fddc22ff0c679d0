package reporter

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"liquidation-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dialStream(t *testing.T, s *Stream) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(NewRouter(nil, s))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return s.Clients() == 1 }, 2*time.Second, time.Millisecond)
	return conn
}

func TestStreamBroadcastsEvents(t *testing.T) {
	s := NewStream(zap.NewNop())
	conn := dialStream(t, s)

	events := sessionEvents()
	s.Report(events[4])

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var record models.EventRecord
	require.NoError(t, conn.ReadJSON(&record))
	assert.Equal(t, models.EventTraderLiquidated, record.Type)
	assert.Equal(t, "s1", record.Session)
	assert.Equal(t, trader(1).Hex(), record.Trader)
	assert.Equal(t, events[4].Tx.Hex(), record.Tx)
}

func TestStreamCloseDisconnectsClients(t *testing.T) {
	s := NewStream(zap.NewNop())
	conn := dialStream(t, s)

	require.NoError(t, s.Close())
	assert.Zero(t, s.Clients())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)

	// Events after close go nowhere.
	s.Report(sessionEvents()[0])
}

func TestStreamClientLeaves(t *testing.T) {
	s := NewStream(zap.NewNop())
	conn := dialStream(t, s)

	conn.Close()
	assert.Eventually(t, func() bool { return s.Clients() == 0 }, 2*time.Second, time.Millisecond)
}
