// Package bus is a request/response message bus over Redis lists. Requests
// are pushed onto a named queue; each carries a private reply key that the
// serving side pushes exactly one reply onto.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTimeout is returned by Client.Request when no reply arrives in time.
// The request may still be processed.
var ErrTimeout = errors.New("bus: request timed out")

// KindUnknownCommand is reported for commands with no registered handler.
const KindUnknownCommand = "UnknownCommand"

// Envelope is the wire form of a request.
type Envelope struct {
	ID      string          `json:"id"`
	Cmd     string          `json:"cmd"`
	Payload json.RawMessage `json:"payload"`
	ReplyTo string          `json:"reply_to"`
}

// Reply is the wire form of a response. Exactly one of Result and Error is set.
type Reply struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody carries a failure back to the requester.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RemoteError is a failure reported by the serving side, as opposed to a
// transport failure.
type RemoteError struct {
	Cmd     string
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bus: %s failed remotely: %s: %s", e.Cmd, e.Kind, e.Message)
}

func replyKey(queue, id string) string {
	return queue + ":reply:" + id
}
