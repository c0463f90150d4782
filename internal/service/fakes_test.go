package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

var (
	testAssetContract      = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testSettlementContract = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")

	// Hardhat dev accounts #0..#2.
	testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	seller     = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	buyer      = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memListings is an in-memory domain.ListingStore with the same uniqueness
// and expiry rules as the Postgres store.
type memListings struct {
	mu        sync.Mutex
	rows      map[string]domain.Listing // by asset id
	getErr    error
	createErr error
	// deleteFails makes the next n DeleteByAssetID calls fail.
	deleteFails int
	deletes     int
}

func newMemListings() *memListings {
	return &memListings{rows: make(map[string]domain.Listing)}
}

func (m *memListings) Create(_ context.Context, l domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if cur, ok := m.rows[l.AssetID]; ok && !cur.Expired(time.Now()) {
		return fmt.Errorf("mem: create %s: %w", l.AssetID, domain.ErrDuplicateListing)
	}
	m.rows[l.AssetID] = l
	return nil
}

func (m *memListings) GetByID(_ context.Context, id string) (domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.Listing{}, m.getErr
	}
	for _, l := range m.rows {
		if l.ID == id && !l.Expired(time.Now()) {
			return l, nil
		}
	}
	return domain.Listing{}, domain.ErrNotFound
}

func (m *memListings) GetByAssetID(_ context.Context, assetID string) (domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.Listing{}, m.getErr
	}
	l, ok := m.rows[assetID]
	if !ok || l.Expired(time.Now()) {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (m *memListings) ListActive(_ context.Context, _ domain.ListOpts) ([]domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Listing
	for _, l := range m.rows {
		if !l.Expired(time.Now()) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memListings) DeleteByAssetID(_ context.Context, assetID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.deleteFails > 0 {
		m.deleteFails--
		return 0, errors.New("mem: connection reset")
	}
	if _, ok := m.rows[assetID]; !ok {
		return 0, nil
	}
	delete(m.rows, assetID)
	return 1, nil
}

func (m *memListings) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, l := range m.rows {
		if l.Expired(now) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *memListings) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memSales struct {
	mu        sync.Mutex
	rows      []domain.Sale
	insertErr error
	clock     time.Time // database now() for ListAfter; zero disables the lag
}

func (m *memSales) Insert(_ context.Context, s domain.Sale) (domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return domain.Sale{}, m.insertErr
	}
	s.ID = int64(len(m.rows) + 1)
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	}
	m.rows = append(m.rows, s)
	return s, nil
}

func (m *memSales) ListByAsset(_ context.Context, assetID string, _ domain.ListOpts) ([]domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Sale
	for _, s := range m.rows {
		if s.AssetID.String() == assetID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSales) ListAfter(_ context.Context, afterID int64, settleLag time.Duration, limit int) ([]domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := append([]domain.Sale(nil), m.rows...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	var out []domain.Sale
	for _, s := range rows {
		if s.ID <= afterID || len(out) == limit {
			continue
		}
		if settleLag > 0 && !m.clock.IsZero() && !s.CreatedAt.Before(m.clock.Add(-settleLag)) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// commit appends a row as-is, modelling an insert whose id was taken
// earlier than its commit.
func (m *memSales) commit(s domain.Sale) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, s)
}

func (m *memSales) all() []domain.Sale {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Sale(nil), m.rows...)
}

type fakeRegistry struct {
	mu      sync.Mutex
	owners  map[string]string
	getErr  error
	updErr  error
	updates [][2]string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{owners: make(map[string]string)}
}

func (f *fakeRegistry) GetOwner(_ context.Context, assetID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	return f.owners[assetID], nil
}

func (f *fakeRegistry) UpdateOwner(_ context.Context, assetID, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updErr != nil {
		return f.updErr
	}
	f.owners[assetID] = owner
	f.updates = append(f.updates, [2]string{assetID, owner})
	return nil
}

type fakeChecker struct {
	mu       sync.Mutex
	approved bool
	err      error
	calls    int
}

func (f *fakeChecker) IsApprovedForAll(_ context.Context, _, _ common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.approved, f.err
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recAudit struct {
	mu     sync.Mutex
	events []string
	detail []map[string]any
}

func (a *recAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	a.detail = append(a.detail, detail)
	return nil
}

func (a *recAudit) List(_ context.Context, event string, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEntry
	for i, e := range a.events {
		if event == "" || e == event {
			out = append(out, domain.AuditEntry{ID: int64(i + 1), Event: e, Detail: a.detail[i]})
		}
	}
	return out, nil
}

func (a *recAudit) has(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == event {
			return true
		}
	}
	return false
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = make(map[string]bool)
	}
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		delete(m.held, key)
		m.mu.Unlock()
	}, nil
}

type recSignalBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	appended  map[string][][]byte
}

func newRecSignalBus() *recSignalBus {
	return &recSignalBus{published: map[string][][]byte{}, appended: map[string][][]byte{}}
}

func (b *recSignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *recSignalBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *recSignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appended[stream] = append(b.appended[stream], payload)
	return nil
}

func (b *recSignalBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type recAlerter struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (a *recAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return a.err
}

func (a *recAlerter) seen() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

type recPublisher struct {
	mu    sync.Mutex
	sales []domain.Sale
}

func (p *recPublisher) PublishSale(_ context.Context, s domain.Sale) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sales = append(p.sales, s)
	return nil
}

type memCursors map[string]string

func (m memCursors) GetCursor(_ context.Context, name string) (string, error) { return m[name], nil }
func (m memCursors) SetCursor(_ context.Context, name, value string) error {
	m[name] = value
	return nil
}

type failingCursors struct{}

func (failingCursors) GetCursor(context.Context, string) (string, error) {
	return "", errors.New("redis down")
}

func (failingCursors) SetCursor(context.Context, string, string) error {
	return errors.New("redis down")
}

type memBlobs struct {
	objects map[string][]byte
	puts    int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	m.objects[path] = buf.Bytes()
	m.puts++
	return nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type fixedChain struct{ id *big.Int }

func (f fixedChain) ChainID(context.Context) (*big.Int, error) { return f.id, nil }

var (
	_ domain.ListingStore      = (*memListings)(nil)
	_ domain.SaleStore         = (*memSales)(nil)
	_ domain.OwnershipRegistry = (*fakeRegistry)(nil)
	_ domain.AuditStore        = (*recAudit)(nil)
	_ domain.LockManager       = (*memLocks)(nil)
	_ domain.SignalBus         = (*recSignalBus)(nil)
	_ domain.CursorStore       = memCursors(nil)
	_ domain.BlobWriter        = (*memBlobs)(nil)
	_ domain.BlobReader        = (*memBlobs)(nil)
)
