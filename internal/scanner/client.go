// Package scanner is the client for the external artifact analyzer, reachable
// over a one-request/one-response WebSocket exchange.
package scanner

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/jarhound/internal/config"
)

// Client dispatches one artifact to the analyzer and returns its raw,
// unnormalized result payload.
type Client interface {
	Analyze(ctx context.Context, scanID string, data []byte) (json.RawMessage, error)
}

type scanRequest struct {
	Hash string `json:"hash"`
	Data string `json:"data"`
}

// WSClient implements Client over a WebSocket. Each Analyze call opens a fresh
// connection, sends a single request, waits for a single response, and closes.
// No retries, no multiplexing.
type WSClient struct {
	url     string
	timeout time.Duration
}

// NewWSClient creates a scanner client from config.
func NewWSClient(cfg config.ScannerConfig) *WSClient {
	return &WSClient{url: cfg.WSURL, timeout: cfg.Timeout}
}

func (c *WSClient) Analyze(ctx context.Context, scanID string, data []byte) (json.RawMessage, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, &Error{ScanID: scanID, Err: classifyError(err)}
	}
	defer conn.Close()

	// Abandoned ticks (shutdown) must not leak the connection: closing it
	// unblocks any pending read or write.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	deadline := time.Now().Add(c.timeout)
	_ = conn.SetWriteDeadline(deadline)
	req := scanRequest{
		Hash: scanID,
		Data: base64.StdEncoding.EncodeToString(data),
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, &Error{ScanID: scanID, Err: classifyError(err)}
	}

	_ = conn.SetReadDeadline(deadline)
	_, payload, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{ScanID: scanID, Err: fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())}
		}
		return nil, &Error{ScanID: scanID, Err: classifyError(err)}
	}

	if !json.Valid(payload) {
		return nil, &Error{ScanID: scanID, Err: fmt.Errorf("%w: not valid JSON", ErrMalformedResponse)}
	}
	return json.RawMessage(payload), nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

var _ Client = (*WSClient)(nil)
