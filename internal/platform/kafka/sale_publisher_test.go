package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

type recordingWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublishSale(t *testing.T) {
	w := &recordingWriter{}
	p := newSalePublisher(w, "nft.sales", slog.New(slog.NewTextHandler(io.Discard, nil)))

	price, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	err := p.PublishSale(context.Background(), domain.Sale{
		ID: 7, AssetID: big.NewInt(42), Price: price, Seller: "0xS", Buyer: "0xB",
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	require.Equal(t, []byte("42"), w.msgs[0].Key)

	var ev domain.SaleEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	require.Equal(t, int64(7), ev.SaleID)
	require.Equal(t, "123456789012345678901234567890", ev.Price)
	require.Equal(t, "0xB", ev.Buyer)
}

func TestPublishSale_WriterError(t *testing.T) {
	p := newSalePublisher(&recordingWriter{err: errors.New("leader not available")}, "nft.sales", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, p.PublishSale(context.Background(), domain.Sale{AssetID: big.NewInt(1), Price: big.NewInt(1)}))
}

func TestNewSalePublisher_Validation(t *testing.T) {
	_, err := NewSalePublisher(nil, "nft.sales", slog.Default())
	require.Error(t, err)
	_, err = NewSalePublisher([]string{"localhost:9092"}, " ", slog.Default())
	require.Error(t, err)
}
