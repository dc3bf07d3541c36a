package rpc_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/zksym/rpc"
	"github.com/spacemeshos/zksym/shared"
)

func serve(t *testing.T, handlers map[string]rpc.Handler) (*rpc.Channel, *rpc.Link) {
	t.Helper()
	link := rpc.NewLink(4)
	ctx, cancel := context.WithCancel(context.Background())

	var eg errgroup.Group
	eg.Go(func() error {
		return rpc.Serve(ctx, link.Context(), handlers, zaptest.NewLogger(t))
	})

	msg, err := link.Caller().Receive(context.Background())
	require.NoError(t, err)
	require.Equal(t, rpc.TypeOnline, msg.Type)

	ch := rpc.NewChannel(link.Caller(), zaptest.NewLogger(t))
	t.Cleanup(func() {
		ch.Close()
		cancel()
		require.ErrorIs(t, eg.Wait(), context.Canceled)
	})
	return ch, link
}

func TestCall(t *testing.T) {
	ch, _ := serve(t, map[string]rpc.Handler{
		"double": func(_ context.Context, args []any) (any, error) {
			return args[0].(int) * 2, nil
		},
	})

	res, err := ch.Call(context.Background(), "double", 21)
	require.NoError(t, err)
	require.Equal(t, 42, res)
}

func TestConcurrentCalls(t *testing.T) {
	ch, _ := serve(t, map[string]rpc.Handler{
		"echo": func(_ context.Context, args []any) (any, error) {
			return args[0], nil
		},
	})

	var eg errgroup.Group
	for i := 0; i < 32; i++ {
		i := i
		eg.Go(func() error {
			res, err := ch.Call(context.Background(), "echo", i)
			if err != nil {
				return err
			}
			if res != i {
				return fmt.Errorf("reply for %d delivered to %v", i, res)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}

func TestRemoteErrors(t *testing.T) {
	ch, _ := serve(t, map[string]rpc.Handler{
		"fail": func(context.Context, []any) (any, error) {
			return nil, errors.New("proof generation failed")
		},
		"panic": func(context.Context, []any) (any, error) {
			panic("out of memory")
		},
	})

	_, err := ch.Call(context.Background(), "fail")
	var remote *rpc.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "proof generation failed", remote.Message)
	require.Equal(t, "proof generation failed", err.Error())
	require.NotEmpty(t, remote.Stack)

	_, err = ch.Call(context.Background(), "panic")
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "panic: out of memory", remote.Message)
	require.Contains(t, remote.Stack, "panic")

	_, err = ch.Call(context.Background(), "verify")
	require.ErrorAs(t, err, &remote)
	require.Contains(t, remote.Message, "unknown message type")

	// The context keeps serving after failures.
	_, err = ch.Call(context.Background(), "fail")
	require.ErrorAs(t, err, &remote)
}

func TestForeignRepliesAreIgnored(t *testing.T) {
	link := rpc.NewLink(8)
	defer link.Close()
	ch := rpc.NewChannel(link.Caller(), zaptest.NewLogger(t))
	defer ch.Close()

	var eg errgroup.Group
	var res any
	eg.Go(func() error {
		var err error
		res, err = ch.Call(context.Background(), "prove", "witness")
		return err
	})

	ctx := context.Background()
	msg, err := link.Context().Receive(ctx)
	require.NoError(t, err)
	req := msg.Payload.(rpc.Request)
	require.Equal(t, "prove", msg.Type)
	require.Equal(t, []any{"witness"}, req.Args)
	require.NotEmpty(t, req.ID)

	require.NoError(t, link.Context().Send(ctx, rpc.Message{Type: rpc.TypeReply, Payload: rpc.Reply{ID: "someone-else", Result: "wrong"}}))
	require.NoError(t, link.Context().Send(ctx, rpc.Message{Type: rpc.TypeOnline}))
	require.NoError(t, link.Context().Send(ctx, rpc.Message{Type: rpc.TypeReply, Payload: "garbage"}))
	require.NoError(t, link.Context().Send(ctx, rpc.Message{Type: rpc.TypeReply, Payload: rpc.Reply{ID: req.ID, Result: "proof"}}))

	require.NoError(t, eg.Wait())
	require.Equal(t, "proof", res)
}

func TestCloseFailsOutstandingCalls(t *testing.T) {
	link := rpc.NewLink(1)
	defer link.Close()
	ch := rpc.NewChannel(link.Caller(), zaptest.NewLogger(t))

	errc := make(chan error, 1)
	go func() {
		_, err := ch.Call(context.Background(), "prove")
		errc <- err
	}()

	_, err := link.Context().Receive(context.Background())
	require.NoError(t, err)
	ch.Close()
	require.ErrorIs(t, <-errc, shared.ErrPoolTeardown)

	_, err = ch.Call(context.Background(), "prove")
	require.ErrorIs(t, err, shared.ErrPoolTeardown)
	ch.Close()
}

func TestLinkCloseFailsOutstandingCalls(t *testing.T) {
	link := rpc.NewLink(1)
	ch := rpc.NewChannel(link.Caller(), zaptest.NewLogger(t))
	defer ch.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := ch.Call(context.Background(), "prove")
		errc <- err
	}()

	_, err := link.Context().Receive(context.Background())
	require.NoError(t, err)
	link.Close()
	require.ErrorIs(t, <-errc, shared.ErrPoolTeardown)
}

func TestCallContextCancelled(t *testing.T) {
	link := rpc.NewLink(1)
	defer link.Close()
	ch := rpc.NewChannel(link.Caller(), zaptest.NewLogger(t))
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ch.Call(ctx, "prove")
	require.ErrorIs(t, err, context.Canceled)
}
