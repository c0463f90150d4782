package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftpayments/internal/domain"
	"github.com/alanyoungcy/nftpayments/internal/notify"
)

var (
	assetAddr      = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	settlementAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	sellerAddr     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	buyerAddr      = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCaller struct {
	out  []byte
	err  error
	last ethereum.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.last = msg
	return f.out, f.err
}

func TestAssetContract_IsApprovedForAll(t *testing.T) {
	caller := &fakeCaller{}
	asset, err := NewAssetContract(assetAddr, caller, settlementAddr)
	require.NoError(t, err)

	caller.out, err = asset.abi.Methods["isApprovedForAll"].Outputs.Pack(true)
	require.NoError(t, err)

	approved, err := asset.IsApprovedForAll(context.Background(), sellerAddr, settlementAddr)
	require.NoError(t, err)
	require.True(t, approved)
	require.Equal(t, assetAddr, *caller.last.To)

	args, err := asset.abi.Methods["isApprovedForAll"].Inputs.Unpack(caller.last.Data[4:])
	require.NoError(t, err)
	require.Equal(t, sellerAddr, args[0])
	require.Equal(t, settlementAddr, args[1])
}

func TestAssetContract_CallError(t *testing.T) {
	asset, err := NewAssetContract(assetAddr, &fakeCaller{err: errors.New("execution reverted")}, common.Address{})
	require.NoError(t, err)

	_, err = asset.IsApprovedForAll(context.Background(), sellerAddr, settlementAddr)
	require.Error(t, err)
}

func TestAssetContract_EncodeSetApprovalForAll(t *testing.T) {
	asset, err := NewAssetContract(assetAddr, &fakeCaller{}, common.Address{})
	require.NoError(t, err)

	data, err := asset.EncodeSetApprovalForAll(settlementAddr, true)
	require.NoError(t, err)

	method := asset.abi.Methods["setApprovalForAll"]
	require.Equal(t, method.ID, data[:4])
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Equal(t, settlementAddr, args[0])
	require.Equal(t, true, args[1])
}

func TestSettlementContract_EncodeSellNft(t *testing.T) {
	settlement, err := NewSettlementContract(settlementAddr)
	require.NoError(t, err)

	var r, s [32]byte
	r[0], s[31] = 0xaa, 0xbb
	amount := new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17))

	data, err := settlement.EncodeSellNft(amount, big.NewInt(7), big.NewInt(1_700_000_300), 28, r, s)
	require.NoError(t, err)

	method := settlement.abi.Methods["sellNft"]
	require.Equal(t, method.ID, data[:4])
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 6)
	require.Zero(t, amount.Cmp(args[0].(*big.Int)))
	require.Zero(t, big.NewInt(7).Cmp(args[1].(*big.Int)))
	require.Zero(t, big.NewInt(1_700_000_300).Cmp(args[2].(*big.Int)))
	require.Equal(t, uint8(28), args[3])
	require.Equal(t, r, args[4])
	require.Equal(t, s, args[5])
}

func soldLog(t *testing.T, c *SettlementContract, tokenID, amount int64) types.Log {
	t.Helper()
	data, err := c.abi.Events["Sold"].Inputs.NonIndexed().Pack(big.NewInt(tokenID), big.NewInt(amount))
	require.NoError(t, err)
	return types.Log{
		Address: c.Address(),
		Topics: []common.Hash{
			c.SoldTopic(),
			common.BytesToHash(sellerAddr.Bytes()),
			common.BytesToHash(buyerAddr.Bytes()),
		},
		Data:        data,
		TxHash:      common.HexToHash("0x01"),
		Index:       3,
		BlockNumber: 99,
	}
}

func TestSettlementContract_ParseSold(t *testing.T) {
	settlement, err := NewSettlementContract(settlementAddr)
	require.NoError(t, err)

	ev, err := settlement.ParseSold(soldLog(t, settlement, 42, 1000))
	require.NoError(t, err)
	require.Equal(t, sellerAddr.Hex(), ev.From)
	require.Equal(t, buyerAddr.Hex(), ev.To)
	require.Equal(t, "42", ev.TokenID.String())
	require.Equal(t, "1000", ev.Amount.String())
	require.Equal(t, uint(3), ev.LogIndex)
	require.Equal(t, uint64(99), ev.BlockNumber)

	_, err = settlement.ParseSold(types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}})
	require.Error(t, err)
}

type fakeSub struct {
	errc chan error
	once sync.Once
}

func newFakeSub() *fakeSub { return &fakeSub{errc: make(chan error, 1)} }

func (s *fakeSub) Unsubscribe()      { s.once.Do(func() { close(s.errc) }) }
func (s *fakeSub) Err() <-chan error { return s.errc }

type fakeFilterer struct {
	mu       sync.Mutex
	attempts int
	subs     []*fakeSub
	sinks    []chan<- types.Log
	failNext bool
	failAll  bool
}

func (f *fakeFilterer) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeFilterer) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failAll || f.failNext {
		f.failNext = false
		return nil, errors.New("websocket: bad handshake")
	}
	sub := newFakeSub()
	f.subs = append(f.subs, sub)
	f.sinks = append(f.sinks, ch)
	return sub, nil
}

func (f *fakeFilterer) sink(i int) chan<- types.Log {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sinks) {
		return nil
	}
	return f.sinks[i]
}

func (f *fakeFilterer) sub(i int) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i]
}

func TestSoldWatcher_ResubscribesAfterDrop(t *testing.T) {
	settlement, err := NewSettlementContract(settlementAddr)
	require.NoError(t, err)

	filterer := &fakeFilterer{failNext: true}
	watcher := NewSoldWatcher(filterer, settlement, 5*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan domain.SoldEvent, 4)
	done := make(chan error, 1)
	go func() { done <- watcher.Watch(ctx, out) }()

	require.Eventually(t, func() bool { return filterer.sink(0) != nil }, time.Second, time.Millisecond)
	filterer.sink(0) <- soldLog(t, settlement, 1, 10)
	require.Equal(t, "1", (<-out).TokenID.String())

	filterer.sub(0).errc <- errors.New("connection reset")

	require.Eventually(t, func() bool { return filterer.sink(1) != nil }, time.Second, time.Millisecond)
	filterer.sink(1) <- soldLog(t, settlement, 2, 20)
	require.Equal(t, "2", (<-out).TokenID.String())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

type recAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *recAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

func TestSoldWatcher_AlertsOncePerOutage(t *testing.T) {
	settlement, err := NewSettlementContract(settlementAddr)
	require.NoError(t, err)

	filterer := &fakeFilterer{failAll: true}
	alerter := &recAlerter{}
	watcher := NewSoldWatcher(filterer, settlement, time.Millisecond, discardLogger()).WithAlerter(alerter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Watch(ctx, make(chan domain.SoldEvent)) }()

	require.Eventually(t, func() bool { return alerter.count() == 1 }, 2*time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	require.Equal(t, []string{notify.EventWatcherDown}, alerter.events)
	require.GreaterOrEqual(t, filterer.attempts, alertAfter)
}
