// Package rpc implements a request/reply protocol over a message link
// between a caller and an isolated execution context.
//
// Every message is a (type, payload) pair. A request carries a caller
// generated id and is answered by exactly one "reply" message with the same
// id, holding either the result or an error description.
package rpc

import (
	"context"
	"errors"
)

const (
	// TypeReply tags replies to requests.
	TypeReply = "reply"
	// TypeOnline is sent once by a context when it is ready for requests.
	TypeOnline = "online"

	errorType = "error"
)

// ErrClosed is returned when sending on a closed link.
var ErrClosed = errors.New("rpc link closed")

// Message is the unit sent over a link.
type Message struct {
	Type    string
	Payload any
}

// Request is the payload of a request message.
type Request struct {
	ID   string
	Args []any
}

// Reply is the payload of a successful reply.
type Reply struct {
	ID     string
	Result any
}

// ErrorReply is the payload of a failed reply.
type ErrorReply struct {
	ID      string
	Type    string
	Message string
	Stack   string
}

// RemoteError is a failure raised inside a context, as seen by the caller.
type RemoteError struct {
	Message string
	Stack   string
}

func (err *RemoteError) Error() string {
	return err.Message
}

// Endpoint is one side of a link.
type Endpoint struct {
	in     <-chan Message
	out    chan<- Message
	closed <-chan struct{}
}

// Link is a bidirectional message link. Messages are handed over by
// reference; a sender must not modify a payload after sending it.
type Link struct {
	caller  *Endpoint
	context *Endpoint
	done    chan struct{}
}

// NewLink returns a link whose directions buffer up to size messages.
func NewLink(size int) *Link {
	toContext := make(chan Message, size)
	toCaller := make(chan Message, size)
	done := make(chan struct{})
	return &Link{
		caller:  &Endpoint{in: toCaller, out: toContext, closed: done},
		context: &Endpoint{in: toContext, out: toCaller, closed: done},
		done:    done,
	}
}

// Caller returns the caller's endpoint.
func (l *Link) Caller() *Endpoint { return l.caller }

// Context returns the execution context's endpoint.
func (l *Link) Context() *Endpoint { return l.context }

// Close terminates the link for both sides. It must be called once.
func (l *Link) Close() { close(l.done) }

// Send delivers msg to the other side.
func (e *Endpoint) Send(ctx context.Context, msg Message) error {
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}
	select {
	case e.out <- msg:
		return nil
	case <-e.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits for the next message from the other side.
func (e *Endpoint) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-e.in:
		return msg, nil
	case <-e.closed:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}
