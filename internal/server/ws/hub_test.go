package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }
func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}
func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestHub_DeliversSales(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := &chanBus{ch: make(chan []byte, 1)}
	hub := NewHub(bus, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	payload, err := json.Marshal(domain.SaleEvent{SaleID: 1, AssetID: "42", Price: "1000"})
	require.NoError(t, err)
	bus.ch <- payload

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Type    string           `json:"type"`
		Payload domain.SaleEvent `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg, &env))
	require.Equal(t, "sale", env.Type)
	require.Equal(t, "42", env.Payload.AssetID)
}

func TestClientFilter(t *testing.T) {
	c := &client{assets: map[string]bool{}}
	require.True(t, c.wants("42"), "no filter admits everything")

	c.applyFilter(filterMsg{Action: "watch", Assets: []string{"7"}})
	require.True(t, c.wants("7"))
	require.False(t, c.wants("42"))

	c.applyFilter(filterMsg{Action: "unwatch", Assets: []string{"7"}})
	require.True(t, c.wants("42"))
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"https://app.example"})

	req := httptest.NewRequest("GET", "/ws", nil)
	require.True(t, check(req), "non-browser clients send no origin")

	req.Header.Set("Origin", "https://app.example")
	require.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	require.False(t, check(req))
}
