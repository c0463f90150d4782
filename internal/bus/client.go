package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client sends requests and waits for their replies.
type Client struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewClient creates a Client. timeout bounds the wait for each reply.
func NewClient(rdb *redis.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{rdb: rdb, timeout: timeout}
}

// Request sends cmd with payload to queue and decodes the reply's result
// into out (which may be nil). A failure reported by the server comes back
// as *RemoteError; anything else is a transport failure.
func (c *Client) Request(ctx context.Context, queue, cmd string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: marshal %s payload: %w", cmd, err)
	}

	id := uuid.NewString()
	env := Envelope{ID: id, Cmd: cmd, Payload: body, ReplyTo: replyKey(queue, id)}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: marshal %s envelope: %w", cmd, err)
	}

	if err := c.rdb.LPush(ctx, queue, raw).Err(); err != nil {
		return fmt.Errorf("bus: send %s: %w", cmd, err)
	}

	res, err := c.rdb.BLPop(ctx, c.timeout, env.ReplyTo).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("bus: %s: %w", cmd, ErrTimeout)
		}
		return fmt.Errorf("bus: await %s reply: %w", cmd, err)
	}
	if len(res) != 2 {
		return fmt.Errorf("bus: %s: malformed reply", cmd)
	}

	return decodeReply(cmd, []byte(res[1]), out)
}

func decodeReply(cmd string, raw []byte, out any) error {
	var reply Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("bus: decode %s reply: %w", cmd, err)
	}
	if reply.Error != nil {
		return &RemoteError{Cmd: cmd, Kind: reply.Error.Kind, Message: reply.Error.Message}
	}
	if out == nil || len(reply.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Result, out); err != nil {
		return fmt.Errorf("bus: decode %s result: %w", cmd, err)
	}
	return nil
}
