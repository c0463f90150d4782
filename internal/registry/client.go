// Package registry is the client of the external ownership registry (the
// products service), reached over the message bus.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/nftpayments/internal/bus"
	"github.com/alanyoungcy/nftpayments/internal/domain"
)

const (
	cmdGetOwner    = "get-owner"
	cmdUpdateOwner = "update-owner"

	// kindNotFound is what the registry answers for an asset it does not know.
	kindNotFound = "NotFound"
)

// Requester is the request side of the message bus.
type Requester interface {
	Request(ctx context.Context, queue, cmd string, payload, out any) error
}

// Client implements domain.OwnershipRegistry.
type Client struct {
	bus   Requester
	queue string
}

// New creates a Client sending to queue.
func New(r Requester, queue string) *Client {
	return &Client{bus: r, queue: queue}
}

type itemRequest struct {
	ItemID string `json:"item_id"`
}

type updateOwnerRequest struct {
	ItemID string `json:"item_id"`
	Owner  string `json:"owner"`
}

// GetOwner returns the registered owner of assetID. An asset the registry
// does not know has no owner and yields "".
func (c *Client) GetOwner(ctx context.Context, assetID string) (string, error) {
	var owner string
	err := c.bus.Request(ctx, c.queue, cmdGetOwner, itemRequest{ItemID: assetID}, &owner)
	if err != nil {
		var remote *bus.RemoteError
		if errors.As(err, &remote) && remote.Kind == kindNotFound {
			return "", nil
		}
		return "", fmt.Errorf("registry: get owner of %s: %w: %v", assetID, domain.ErrRegistryUnavailable, err)
	}
	return owner, nil
}

// UpdateOwner records owner as the new owner of assetID.
func (c *Client) UpdateOwner(ctx context.Context, assetID, owner string) error {
	err := c.bus.Request(ctx, c.queue, cmdUpdateOwner, updateOwnerRequest{ItemID: assetID, Owner: owner}, nil)
	if err != nil {
		return fmt.Errorf("registry: update owner of %s: %w: %v", assetID, domain.ErrRegistryUnavailable, err)
	}
	return nil
}

var _ domain.OwnershipRegistry = (*Client)(nil)
