package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg struct {
		Type    string       `json:"type"`
		Payload models.Event `json:"payload"`
	}
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "event", msg.Type)
	return msg.Payload
}

func TestEventStreamFiltersByCampaign(t *testing.T) {
	stream := NewEventStream(DefaultConfig())
	srv := httptest.NewServer(http.HandlerFunc(stream.ServeWS))
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	all, _, err := websocket.DefaultDialer.Dial(base, nil)
	require.NoError(t, err)
	defer all.Close()
	filtered, _, err := websocket.DefaultDialer.Dial(base+"?campaign_id=2", nil)
	require.NoError(t, err)
	defer filtered.Close()

	require.Eventually(t, func() bool {
		return stream.ConnectionCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	first := models.NewEvent(models.EventCampaignStateChanged, 1)
	second := models.NewEvent(models.EventHashCracked, 2)
	require.NoError(t, stream.Deliver(context.Background(), first))
	require.NoError(t, stream.Deliver(context.Background(), second))

	assert.Equal(t, first.ID, readEvent(t, all).ID)
	assert.Equal(t, second.ID, readEvent(t, all).ID)
	assert.Equal(t, second.ID, readEvent(t, filtered).ID, "campaign 1 events are filtered out")
}

func TestEventStreamRejectsBadCampaign(t *testing.T) {
	stream := NewEventStream(DefaultConfig())
	r := httptest.NewRequest(http.MethodGet, "/ws/events?campaign_id=x", nil)
	w := httptest.NewRecorder()
	stream.ServeWS(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventStreamUnregistersOnClose(t *testing.T) {
	stream := NewEventStream(DefaultConfig())
	srv := httptest.NewServer(http.HandlerFunc(stream.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return stream.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return stream.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
