package rpc

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// Handler computes the result of a request.
type Handler func(ctx context.Context, args []any) (any, error)

// Serve answers requests arriving on ep until ctx is done or the link is
// closed. Requests are handled one at a time in arrival order. A handler
// error or panic is sent back as an error reply carrying the message and
// the stack it was caught at.
func Serve(ctx context.Context, ep *Endpoint, handlers map[string]Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ep.Send(ctx, Message{Type: TypeOnline}); err != nil {
		return err
	}

	for {
		msg, err := ep.Receive(ctx)
		if err != nil {
			if err == ErrClosed {
				return nil
			}
			return err
		}

		req, ok := msg.Payload.(Request)
		if !ok {
			logger.Debug("ignoring rpc message without request payload", zap.String("type", msg.Type))
			continue
		}

		reply := handle(ctx, handlers, msg.Type, req, logger)
		if err := ep.Send(ctx, Message{Type: TypeReply, Payload: reply}); err != nil {
			if err == ErrClosed {
				return nil
			}
			return err
		}
	}
}

func handle(ctx context.Context, handlers map[string]Handler, typ string, req Request, logger *zap.Logger) (reply any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("rpc handler panicked", zap.String("type", typ), zap.String("id", req.ID), zap.Any("panic", r))
			reply = ErrorReply{
				ID:      req.ID,
				Type:    errorType,
				Message: fmt.Sprintf("panic: %v", r),
				Stack:   string(debug.Stack()),
			}
		}
	}()

	h, ok := handlers[typ]
	if !ok {
		return ErrorReply{
			ID:      req.ID,
			Type:    errorType,
			Message: fmt.Sprintf("unknown message type: %s", typ),
			Stack:   string(debug.Stack()),
		}
	}

	result, err := h(ctx, req.Args)
	if err != nil {
		logger.Error("rpc handler failed", zap.String("type", typ), zap.String("id", req.ID), zap.Error(err))
		return ErrorReply{
			ID:      req.ID,
			Type:    errorType,
			Message: err.Error(),
			Stack:   string(debug.Stack()),
		}
	}
	logger.Debug("rpc request done", zap.String("type", typ), zap.String("id", req.ID))
	return Reply{ID: req.ID, Result: result}
}
