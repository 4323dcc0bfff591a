// Package ipc builds request/reply RPC on top of presence pub/sub channels.
//
// Wire format (JSON tuples, kept compatible across node versions):
//
//	request:  [requestId, method|null, args]
//	reply:    [ok, value]            when ok is true
//	          [ok, {message, code}]  when ok is false
//
// The reply travels on "ipc:<requestId>", where requestId embeds the
// requesting process id, so the responder needs nothing beyond the request
// itself to route the answer back.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parcade/arena/internal/v1/logging"
	"github.com/parcade/arena/internal/v1/presence"
	"go.uber.org/zap"
)

// ErrTimeout is returned when no reply arrives within the request deadline.
// A channel nobody subscribed to is indistinguishable from a slow peer.
var ErrTimeout = errors.New("ipc: request timed out")

// DefaultMethod marks the process-inbox create-room request on the wire
// (encoded as JSON null for compatibility).
const DefaultMethod = ""

// Dispatcher resolves one inbound request. method is DefaultMethod for the
// process-inbox default path. args hold the still-encoded call arguments.
type Dispatcher func(method string, args []json.RawMessage) (any, error)

// CodedError lets domain errors carry a protocol error code through the wire.
type CodedError interface {
	error
	ErrorCode() int
}

// RemoteError is the requester-side view of a failure raised by the peer.
type RemoteError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string { return e.Message }

// ErrorCode implements CodedError.
func (e *RemoteError) ErrorCode() int { return e.Code }

type request struct {
	ID     string
	Method string
	Args   []json.RawMessage
}

func (r request) MarshalJSON() ([]byte, error) {
	var method any
	if r.Method != DefaultMethod {
		method = r.Method
	}
	args := r.Args
	if args == nil {
		args = []json.RawMessage{}
	}
	return json.Marshal([]any{r.ID, method, args})
}

func (r *request) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("ipc: malformed request tuple (%d parts)", len(parts))
	}
	if err := json.Unmarshal(parts[0], &r.ID); err != nil {
		return fmt.Errorf("ipc: bad request id: %w", err)
	}
	if string(parts[1]) != "null" {
		if err := json.Unmarshal(parts[1], &r.Method); err != nil {
			return fmt.Errorf("ipc: bad method: %w", err)
		}
	}
	if string(parts[2]) != "null" {
		if err := json.Unmarshal(parts[2], &r.Args); err != nil {
			return fmt.Errorf("ipc: bad args: %w", err)
		}
	}
	return nil
}

func replyChannel(requestID string) string {
	return "ipc:" + requestID
}

func encodeReply(value any, callErr error) ([]byte, error) {
	if callErr == nil {
		return json.Marshal([]any{true, value})
	}
	payload := RemoteError{Message: callErr.Error()}
	var coded CodedError
	if errors.As(callErr, &coded) {
		payload.Code = coded.ErrorCode()
	}
	return json.Marshal([]any{false, payload})
}

func decodeReply(data []byte) (json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("ipc: malformed reply: %w", err)
	}
	if len(parts) != 2 {
		return nil, fmt.Errorf("ipc: malformed reply tuple (%d parts)", len(parts))
	}
	var ok bool
	if err := json.Unmarshal(parts[0], &ok); err != nil {
		return nil, fmt.Errorf("ipc: bad reply status: %w", err)
	}
	if ok {
		return parts[1], nil
	}
	remote := &RemoteError{}
	if err := json.Unmarshal(parts[1], remote); err != nil {
		return nil, fmt.Errorf("ipc: bad error payload: %w", err)
	}
	return nil, remote
}

// Subscribe installs dispatch as the handler for requests arriving on
// channel. Each request is answered on its derived reply channel; dispatch
// failures travel back as error payloads, never as dropped requests.
func Subscribe(ctx context.Context, p presence.Presence, channel string, dispatch Dispatcher) error {
	return p.Subscribe(ctx, channel, func(msg []byte) {
		var req request
		if err := json.Unmarshal(msg, &req); err != nil {
			logging.Error(ctx, "Discarding malformed IPC request",
				zap.String("channel", channel), zap.Error(err))
			return
		}

		value, callErr := dispatch(req.Method, req.Args)

		data, err := encodeReply(value, callErr)
		if err != nil {
			logging.Error(ctx, "Failed to encode IPC reply",
				zap.String("channel", channel), zap.Error(err))
			return
		}
		if err := p.Publish(context.Background(), replyChannel(req.ID), data); err != nil {
			logging.Error(ctx, "Failed to publish IPC reply",
				zap.String("channel", channel), zap.Error(err))
		}
	})
}

// Request publishes a request on channel and waits for the reply, racing it
// against timeout. Replies arriving after the deadline are discarded along
// with the transient reply subscription.
func Request(ctx context.Context, p presence.Presence, processID, channel, method string, args []any, timeout time.Duration) (json.RawMessage, error) {
	requestID := processID + ":" + uuid.NewString()
	reply := replyChannel(requestID)

	rawArgs := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("ipc: failed to encode argument: %w", err)
		}
		rawArgs = append(rawArgs, data)
	}

	replies := make(chan []byte, 1)
	if err := p.Subscribe(ctx, reply, func(msg []byte) {
		select {
		case replies <- msg:
		default:
			// Duplicate reply; first one wins.
		}
	}); err != nil {
		return nil, err
	}
	defer func() {
		_ = p.Unsubscribe(reply)
	}()

	data, err := json.Marshal(request{ID: requestID, Method: method, Args: rawArgs})
	if err != nil {
		return nil, fmt.Errorf("ipc: failed to encode request: %w", err)
	}
	if err := p.Publish(ctx, channel, data); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-replies:
		return decodeReply(msg)
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s (channel %q, method %q)", ErrTimeout, timeout, channel, method)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
