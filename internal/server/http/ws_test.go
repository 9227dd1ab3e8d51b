package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/castkeep/castkeep/internal/api"
	"github.com/castkeep/castkeep/internal/events"
	"github.com/castkeep/castkeep/internal/model"
)

func newEventServer(t *testing.T) (*events.Bus, *Hub, *httptest.Server, string) {
	t.Helper()
	bus := events.NewBus(zap.NewNop())
	t.Cleanup(bus.Close)
	hub := NewHub(bus, zap.NewNop())
	srv := New(&stubTokens{}, &stubConfigs{}, &stubFlows{}, hub, testKey, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	bearer, err := api.MintToken(testKey)
	require.NoError(t, err)
	return bus, hub, ts, bearer
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events"
}

func TestHub_RejectsUnauthenticated(t *testing.T) {
	_, _, ts, _ := newEventServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Nil(t, conn)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestHub_DeliversInPublishOrder(t *testing.T) {
	bus, hub, ts, bearer := newEventServer(t)

	header := http.Header{"Authorization": {"Bearer " + bearer}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.NoError(t, err)
	defer conn.Close()
	resp.Body.Close()

	// The dial returns on handshake completion; registration follows in
	// the handler, so wait for it before publishing.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.conns) == 1
	}, 2*time.Second, 5*time.Millisecond)

	ctx := context.Background()
	first := events.NewEvent(model.EventSaveToken, model.Twitch)
	first.Token = "tok-1"
	bus.Publish(ctx, first)
	second := events.NewEvent(model.EventAuthSuccess, model.Twitch)
	bus.Publish(ctx, second)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var got model.Event
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, model.EventSaveToken, got.Type)
	require.Equal(t, model.Twitch, got.Platform)
	require.Equal(t, "tok-1", got.Token)

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, model.EventAuthSuccess, got.Type)
}
