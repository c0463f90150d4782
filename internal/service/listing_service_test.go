package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"github.com/alanyoungcy/nftpayments/internal/chain"
	"github.com/alanyoungcy/nftpayments/internal/domain"
)

// setApprovalForAll(address,bool)
const setApprovalForAllSelector = "0xa22cb465"

type ListingServiceSuite struct {
	suite.Suite
	listings *memListings
	registry *fakeRegistry
	checker  *fakeChecker
	audit    *recAudit
	now      time.Time
	service  *ListingService
}

func TestListingServiceSuite(t *testing.T) {
	suite.Run(t, new(ListingServiceSuite))
}

func (s *ListingServiceSuite) SetupTest() {
	s.listings = newMemListings()
	s.registry = newFakeRegistry()
	s.registry.owners["42"] = seller
	s.checker = &fakeChecker{approved: true}
	s.audit = &recAudit{}
	s.now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	asset, err := chain.NewAssetContract(testAssetContract, nil, common.Address{})
	s.Require().NoError(err)

	s.service = NewListingService(
		s.listings, s.registry, NewApprovalGate(s.checker), asset,
		testSettlementContract, s.audit, discardLogger(),
	)
	s.service.now = func() time.Time { return s.now }
}

func (s *ListingServiceSuite) request() domain.CreateListingRequest {
	return domain.CreateListingRequest{
		AssetID:   "42",
		Price:     big.NewInt(1_000_000),
		CreatedBy: seller,
	}
}

// =============================================================================
// Guard precedence
// =============================================================================

func (s *ListingServiceSuite) TestCreateListing_Guards() {
	ctx := context.Background()

	s.Run("registry outage is reported, not treated as ownership", func() {
		s.registry.getErr = domainRegistryDown()
		defer func() { s.registry.getErr = nil }()

		_, err := s.service.CreateListing(ctx, s.request())
		s.ErrorIs(err, domain.ErrRegistryUnavailable)
	})

	s.Run("non-owner is rejected before any other check", func() {
		req := s.request()
		req.CreatedBy = buyer
		far := s.now.Add(60 * 24 * time.Hour)
		req.ExpiresAt = &far
		s.Require().NoError(s.listings.Create(ctx, domain.Listing{ID: "x", AssetID: "42", Price: big.NewInt(1)}))
		defer delete(s.listings.rows, "42")

		_, err := s.service.CreateListing(ctx, req)
		s.ErrorIs(err, domain.ErrNotOwner)
		s.Zero(s.checker.callCount(), "approval must not be queried")
	})

	s.Run("unknown asset has no owner", func() {
		req := s.request()
		req.AssetID = "7"
		_, err := s.service.CreateListing(ctx, req)
		s.ErrorIs(err, domain.ErrNotOwner)
	})

	s.Run("owner match ignores checksum casing", func() {
		req := s.request()
		req.CreatedBy = strings.ToLower(seller)
		res, err := s.service.CreateListing(ctx, req)
		s.Require().NoError(err)
		s.NotEmpty(res.ID)
		delete(s.listings.rows, "42")
	})

	s.Run("expiry beyond 30 days is rejected before the duplicate check", func() {
		s.Require().NoError(s.listings.Create(ctx, domain.Listing{ID: "x", AssetID: "42", Price: big.NewInt(1)}))
		defer delete(s.listings.rows, "42")

		req := s.request()
		far := s.now.Add(31 * 24 * time.Hour)
		req.ExpiresAt = &far
		_, err := s.service.CreateListing(ctx, req)
		s.ErrorIs(err, domain.ErrInvalidExpiry)
	})

	s.Run("expiry exactly 30 days out is accepted", func() {
		req := s.request()
		edge := s.now.Add(30 * 24 * time.Hour)
		req.ExpiresAt = &edge
		res, err := s.service.CreateListing(ctx, req)
		s.Require().NoError(err)
		s.NotEmpty(res.ID)
		delete(s.listings.rows, "42")
	})

	s.Run("live listing is a duplicate before approval is consulted", func() {
		s.Require().NoError(s.listings.Create(ctx, domain.Listing{ID: "x", AssetID: "42", Price: big.NewInt(1)}))
		defer delete(s.listings.rows, "42")
		before := s.checker.callCount()

		_, err := s.service.CreateListing(ctx, s.request())
		s.ErrorIs(err, domain.ErrDuplicateListing)
		s.Equal(before, s.checker.callCount())
	})

	s.Run("approval query failure is an error, not unapproved", func() {
		s.checker.err = errors.New("execution reverted")
		defer func() { s.checker.err = nil }()

		res, err := s.service.CreateListing(ctx, s.request())
		s.ErrorIs(err, domain.ErrApprovalQueryFailed)
		s.Nil(res.Tx)
		s.Zero(s.listings.count())
	})

	s.Run("malformed input", func() {
		req := s.request()
		req.AssetID = "abc"
		_, err := s.service.CreateListing(ctx, req)
		s.ErrorIs(err, domain.ErrInvalidRequest)

		req = s.request()
		req.Price = big.NewInt(-1)
		_, err = s.service.CreateListing(ctx, req)
		s.ErrorIs(err, domain.ErrInvalidRequest)
	})

	s.Run("malformed input from a non-owner is reported as malformed", func() {
		req := s.request()
		req.CreatedBy = buyer
		req.Price = big.NewInt(-1)
		_, err := s.service.CreateListing(ctx, req)
		s.ErrorIs(err, domain.ErrInvalidRequest)
		s.NotErrorIs(err, domain.ErrNotOwner)
	})
}

func domainRegistryDown() error {
	return errors.Join(domain.ErrRegistryUnavailable, errors.New("bus: request timed out"))
}

// =============================================================================
// Outcomes
// =============================================================================

func (s *ListingServiceSuite) TestCreateListing_NotApprovedReturnsApprovalTx() {
	s.checker.approved = false

	res, err := s.service.CreateListing(context.Background(), s.request())
	s.Require().NoError(err)
	s.Require().True(res.NeedsApproval())
	s.Empty(res.ID)
	s.Equal(seller, res.Tx.From)
	s.Equal(testAssetContract.Hex(), res.Tx.To)
	s.True(strings.HasPrefix(res.Tx.Data, setApprovalForAllSelector), res.Tx.Data)
	s.Contains(strings.ToLower(res.Tx.Data), strings.ToLower(testSettlementContract.Hex()[2:]))
	s.Zero(s.listings.count(), "nothing persisted")
}

func (s *ListingServiceSuite) TestCreateListing_Persists() {
	exp := s.now.Add(24 * time.Hour)
	req := s.request()
	req.ExpiresAt = &exp

	res, err := s.service.CreateListing(context.Background(), req)
	s.Require().NoError(err)
	s.False(res.NeedsApproval())

	l, err := s.service.GetListing(context.Background(), res.ID)
	s.Require().NoError(err)
	s.Equal("42", l.AssetID)
	s.Equal(0, l.Price.Cmp(big.NewInt(1_000_000)))
	s.Equal(seller, l.CreatedBy)
	s.Equal(s.now, l.CreatedAt)
	s.True(s.audit.has(domain.AuditListingCreated))
}

func (s *ListingServiceSuite) TestCreateListing_StoreFailure() {
	s.listings.createErr = errors.New("connection refused")
	_, err := s.service.CreateListing(context.Background(), s.request())
	s.ErrorIs(err, domain.ErrPersistenceFailure)
}

func (s *ListingServiceSuite) TestCreateListing_ConcurrentDuplicates() {
	for _, withLocks := range []bool{false, true} {
		s.Run(map[bool]string{false: "store uniqueness", true: "asset lock"}[withLocks], func() {
			s.listings.rows = map[string]domain.Listing{}
			if withLocks {
				s.service.WithAssetLocks(&memLocks{}, time.Second)
			}

			const n = 16
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				created  int
				rejected int
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := s.service.CreateListing(context.Background(), s.request())
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil && res.ID != "":
						created++
					case errors.Is(err, domain.ErrDuplicateListing), errors.Is(err, domain.ErrListingInFlight):
						rejected++
					}
				}()
			}
			wg.Wait()

			s.Equal(1, created)
			s.Equal(n-1, rejected)
			s.Equal(1, s.listings.count())
		})
	}
}

func (s *ListingServiceSuite) TestCreateListing_LockHeldIsNotADuplicate() {
	locks := &memLocks{}
	_, err := locks.Acquire(context.Background(), "listing:42", time.Second)
	s.Require().NoError(err)
	s.service.WithAssetLocks(locks, time.Second)

	_, err = s.service.CreateListing(context.Background(), s.request())
	s.ErrorIs(err, domain.ErrListingInFlight)
	s.NotErrorIs(err, domain.ErrDuplicateListing)
	s.Zero(s.listings.count())
}

func (s *ListingServiceSuite) TestGetListing_NotFound() {
	_, err := s.service.GetListing(context.Background(), "00000000-0000-0000-0000-000000000000")
	s.ErrorIs(err, domain.ErrListingNotFound)
}
