package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spacemeshos/zksym/shared"
)

type result struct {
	value any
	err   error
}

// Channel multiplexes concurrent calls over the caller's endpoint of a link.
// Replies are matched to calls by id; replies nobody waits for are dropped.
type Channel struct {
	ep     *Endpoint
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]chan result
	closed  bool

	stop context.CancelFunc
	done chan struct{}
}

// NewChannel starts listening for replies on ep.
func NewChannel(ep *Endpoint, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		ep:      ep,
		logger:  logger,
		pending: make(map[string]chan result),
		stop:    cancel,
		done:    make(chan struct{}),
	}
	go c.listen(ctx)
	return c
}

// Call sends a request of type typ and waits for its reply. A failure inside
// the context is returned as *RemoteError.
func (c *Channel) Call(ctx context.Context, typ string, args ...any) (any, error) {
	id := uuid.NewString()
	wait := make(chan result, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, shared.ErrPoolTeardown
	}
	c.pending[id] = wait
	c.mu.Unlock()
	defer c.forget(id)

	if err := c.ep.Send(ctx, Message{Type: typ, Payload: Request{ID: id, Args: args}}); err != nil {
		if err == ErrClosed {
			return nil, shared.ErrPoolTeardown
		}
		return nil, fmt.Errorf("send %s request: %w", typ, err)
	}
	c.logger.Debug("rpc request sent", zap.String("type", typ), zap.String("id", id))

	select {
	case res := <-wait:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close fails every outstanding call with shared.ErrPoolTeardown and stops
// the listener. It doesn't close the link.
func (c *Channel) Close() {
	c.failAll()
	c.stop()
	<-c.done
}

func (c *Channel) failAll() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan result)
	c.mu.Unlock()

	for _, wait := range pending {
		wait <- result{err: shared.ErrPoolTeardown}
	}
}

func (c *Channel) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Channel) listen(ctx context.Context) {
	defer close(c.done)
	for {
		msg, err := c.ep.Receive(ctx)
		if err != nil {
			if err == ErrClosed {
				c.failAll()
			}
			return
		}
		if msg.Type != TypeReply {
			c.logger.Debug("ignoring rpc message", zap.String("type", msg.Type))
			continue
		}

		id, res, ok := decodeReply(msg.Payload)
		if !ok {
			c.logger.Debug("ignoring malformed rpc reply")
			continue
		}

		c.mu.Lock()
		wait, ok := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("ignoring rpc reply for unknown id", zap.String("id", id))
			continue
		}
		wait <- res
	}
}

func decodeReply(payload any) (string, result, bool) {
	switch p := payload.(type) {
	case Reply:
		return p.ID, result{value: p.Result}, true
	case *Reply:
		return p.ID, result{value: p.Result}, true
	case ErrorReply:
		return p.ID, result{err: &RemoteError{Message: p.Message, Stack: p.Stack}}, p.Type == errorType
	case *ErrorReply:
		return p.ID, result{err: &RemoteError{Message: p.Message, Stack: p.Stack}}, p.Type == errorType
	default:
		return "", result{}, false
	}
}
