package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Inbound bus commands.
const (
	CmdCreateListing = "create-listing"
	CmdFillListing   = "fill-listing"
)

// CreateListingCommand is the wire form of create-listing, shared by the
// message bus and the HTTP gateway. item_id and price accept JSON numbers
// or decimal strings.
type CreateListingCommand struct {
	ItemID    json.Number `json:"item_id"`
	Price     json.Number `json:"price"`
	CreatedBy string      `json:"createdBy"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`
}

// Request validates the command's scalar formats.
func (c CreateListingCommand) Request() (CreateListingRequest, error) {
	assetID := strings.TrimSpace(c.ItemID.String())
	if _, ok := ParseAmount(assetID); !ok {
		return CreateListingRequest{}, fmt.Errorf("item_id %q is not a token id: %w", assetID, ErrInvalidRequest)
	}
	price, ok := ParseAmount(c.Price.String())
	if !ok {
		return CreateListingRequest{}, fmt.Errorf("price %q is not a base-unit integer: %w", c.Price, ErrInvalidRequest)
	}
	var expires *time.Time
	if c.ExpiresAt != nil {
		t := c.ExpiresAt.UTC()
		expires = &t
	}
	return CreateListingRequest{
		AssetID:   assetID,
		Price:     price,
		CreatedBy: strings.TrimSpace(c.CreatedBy),
		ExpiresAt: expires,
	}, nil
}

// CreateListingReply carries exactly one of ID or Tx.
type CreateListingReply struct {
	ID string      `json:"id,omitempty"`
	Tx *UnsignedTx `json:"tx,omitempty"`
}

// Reply converts a create result into its wire form.
func (r CreateListingResult) Reply() CreateListingReply {
	return CreateListingReply{ID: r.ID, Tx: r.Tx}
}

// FillListingCommand is the wire form of fill-listing.
type FillListingCommand struct {
	ListingID string `json:"listing_id"`
	Buyer     string `json:"buyer"`
}

// FillListingReply carries the settlement transaction for the buyer.
type FillListingReply struct {
	Tx UnsignedTx `json:"tx"`
}
