package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/nftpayments/internal/bus"
	"github.com/alanyoungcy/nftpayments/internal/domain"
)

// listingCreator is the part of the listing service served over the bus.
type listingCreator interface {
	CreateListing(ctx context.Context, req domain.CreateListingRequest) (domain.CreateListingResult, error)
}

// listingFiller is the part of the settlement service served over the bus.
type listingFiller interface {
	FillListing(ctx context.Context, listingID, buyer string) (domain.UnsignedTx, error)
}

// registerCommands binds the inbound listing commands to srv. A nil filler
// leaves fill-listing unregistered.
func registerCommands(srv *bus.Server, creator listingCreator, filler listingFiller) {
	srv.Handle(domain.CmdCreateListing, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var cmd domain.CreateListingCommand
		if err := decodePayload(payload, &cmd); err != nil {
			return nil, err
		}
		req, err := cmd.Request()
		if err != nil {
			return nil, err
		}
		res, err := creator.CreateListing(ctx, req)
		if err != nil {
			return nil, err
		}
		return res.Reply(), nil
	})

	if filler == nil {
		return
	}
	srv.Handle(domain.CmdFillListing, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var cmd domain.FillListingCommand
		if err := decodePayload(payload, &cmd); err != nil {
			return nil, err
		}
		if cmd.ListingID == "" {
			return nil, fmt.Errorf("%w: listing_id is required", domain.ErrInvalidRequest)
		}
		tx, err := filler.FillListing(ctx, cmd.ListingID, cmd.Buyer)
		if err != nil {
			return nil, err
		}
		return domain.FillListingReply{Tx: tx}, nil
	})
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", domain.ErrInvalidRequest)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errors.Join(domain.ErrInvalidRequest, err)
	}
	return nil
}
