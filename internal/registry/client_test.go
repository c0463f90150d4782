package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftpayments/internal/bus"
	"github.com/alanyoungcy/nftpayments/internal/domain"
)

type call struct {
	queue, cmd string
	payload    any
}

type fakeBus struct {
	calls  []call
	result any
	err    error
}

func (f *fakeBus) Request(_ context.Context, queue, cmd string, payload, out any) error {
	f.calls = append(f.calls, call{queue, cmd, payload})
	if f.err != nil {
		return f.err
	}
	if out != nil && f.result != nil {
		b, _ := json.Marshal(f.result)
		return json.Unmarshal(b, out)
	}
	return nil
}

func TestGetOwner(t *testing.T) {
	fb := &fakeBus{result: "0xSeller"}
	c := New(fb, "products_microservice_queue")

	owner, err := c.GetOwner(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "0xSeller", owner)
	require.Equal(t, "products_microservice_queue", fb.calls[0].queue)
	require.Equal(t, "get-owner", fb.calls[0].cmd)
	require.Equal(t, itemRequest{ItemID: "42"}, fb.calls[0].payload)
}

func TestGetOwner_TransportFailure(t *testing.T) {
	c := New(&fakeBus{err: bus.ErrTimeout}, "products")

	_, err := c.GetOwner(context.Background(), "42")
	require.ErrorIs(t, err, domain.ErrRegistryUnavailable)
}

func TestGetOwner_UnknownAsset(t *testing.T) {
	c := New(&fakeBus{err: &bus.RemoteError{Cmd: "get-owner", Kind: "NotFound"}}, "products")

	owner, err := c.GetOwner(context.Background(), "42")
	require.NoError(t, err)
	require.Empty(t, owner)
}

func TestUpdateOwner(t *testing.T) {
	fb := &fakeBus{}
	c := New(fb, "products")

	require.NoError(t, c.UpdateOwner(context.Background(), "42", "0xBuyer"))
	require.Equal(t, updateOwnerRequest{ItemID: "42", Owner: "0xBuyer"}, fb.calls[0].payload)

	fb.err = errors.New("connection refused")
	require.ErrorIs(t, c.UpdateOwner(context.Background(), "42", "0xBuyer"), domain.ErrRegistryUnavailable)
}
