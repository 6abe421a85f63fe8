// Package mock provides a test double for the chat client.
//
// Client satisfies any interface with the method
// Reply(ctx context.Context, message string) (string, error), in particular
// the responder consumed by the conversation orchestrator.
package mock

import (
	"context"
	"sync"
)

// Client is a mock chat client.
type Client struct {
	mu sync.Mutex

	// ReplyText is returned by Reply when ReplyErr is nil.
	ReplyText string

	// ReplyErr, if non-nil, is returned as the error from Reply.
	ReplyErr error

	// Block, if non-nil, makes Reply wait until it is closed or ctx is done.
	// A cancelled wait returns ctx.Err().
	Block <-chan struct{}

	// ReplyFunc, if set, replaces the fixed result.
	ReplyFunc func(ctx context.Context, message string) (string, error)

	// ReplyCalls records the message of every Reply call in order.
	ReplyCalls []string
}

// Reply records the call and returns the configured result.
func (c *Client) Reply(ctx context.Context, message string) (string, error) {
	c.mu.Lock()
	c.ReplyCalls = append(c.ReplyCalls, message)
	block, fn := c.Block, c.ReplyFunc
	text, err := c.ReplyText, c.ReplyErr
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, message)
	}
	return text, err
}

// Calls returns a copy of the recorded messages. Thread-safe.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.ReplyCalls))
	copy(out, c.ReplyCalls)
	return out
}
