package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name string
	err  error
	sent []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.sent = append(r.sent, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventReconcileFailed}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventExportFailed, "export", "x"))
	require.NoError(t, n.Notify(context.Background(), EventReconcileFailed, "reconcile", "x"))
	require.Equal(t, []string{"reconcile"}, s.sent)
}

func TestNotifier_ContinuesPastFailingSender(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("503")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), EventWatcherDown, "down", "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad")
	require.Len(t, good.sent, 1)
}

func TestNotifier_NilIsNoop(t *testing.T) {
	var n *Notifier
	require.NoError(t, n.Notify(context.Background(), EventReconcileFailed, "t", "m"))
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Sale", "asset 42"))
	require.Equal(t, "**Sale**\nasset 42", got["content"])
}

func TestTelegramSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "1")
	s.apiBase = srv.URL
	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "400")
}
