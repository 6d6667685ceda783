package tws

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/ridge/parallel"
	"github.com/ridge/trackmap/test"
	"github.com/ridge/trackmap/thttp"
	"github.com/ridge/trackmap/tnet"
	"github.com/stretchr/testify/require"
)

func testPair(t *testing.T, server, client SessionFn) error {
	return parallel.Run(test.Context(t), func(ctx context.Context, spawn parallel.SpawnFn) error {
		l := tnet.ListenOnRandomPort()
		httpServer := thttp.NewServer(l, thttp.StandardMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Serve(w, r, DefaultConfig, server)
		})))

		spawn("server", parallel.Fail, httpServer.Run)
		spawn("client", parallel.Exit, func(ctx context.Context) error {
			return Dial(ctx, WithWSScheme("http://"+l.Addr().String()), nil, DefaultConfig, client)
		})
		return nil
	})
}

func expectClose(ctx context.Context, incoming <-chan Message) error {
	select {
	case <-ctx.Done():
		return errors.New("context closed too early")
	case _, ok := <-incoming:
		if ok {
			return errors.New("unexpected message received")
		}
		return nil
	}
}

func TestClosedByClient(t *testing.T) {
	require.NoError(t, testPair(t, func(ctx context.Context, incoming <-chan Message, outgoing chan<- Message) error {
		return expectClose(ctx, incoming)
	}, func(ctx context.Context, incoming <-chan Message, outgoing chan<- Message) error {
		return nil
	}))
}

func TestClosedByServer(t *testing.T) {
	require.NoError(t, testPair(t, func(ctx context.Context, incoming <-chan Message, outgoing chan<- Message) error {
		return nil
	}, func(ctx context.Context, incoming <-chan Message, outgoing chan<- Message) error {
		return expectClose(ctx, incoming)
	}))
}

func TestCommunication(t *testing.T) {
	require.NoError(t, testPair(t, func(ctx context.Context, incoming <-chan Message, outgoing chan<- Message) error {
		outgoing <- Message{Data: []byte("a")}
		test.AssertEvents(t, incoming, Message{Data: []byte("b")})
		outgoing <- Message{Binary: true, Data: []byte{0xc}}
		test.AssertEvents(t, incoming, Message{Data: []byte("d")})
		return nil
	}, func(ctx context.Context, incoming <-chan Message, outgoing chan<- Message) error {
		test.AssertEvents(t, incoming, Message{Data: []byte("a")})
		outgoing <- Message{Data: []byte("b")}
		test.AssertEvents(t, incoming, Message{Binary: true, Data: []byte{0xc}})
		outgoing <- Message{Data: []byte("d")}
		return expectClose(ctx, incoming)
	}))
}

func TestJSONMessage(t *testing.T) {
	msg, err := JSONMessage(map[string]int{"zoom": 14})
	require.NoError(t, err)
	require.Equal(t, Message{Data: []byte(`{"zoom":14}`)}, msg)

	_, err = JSONMessage(func() {})
	require.Error(t, err)
}

func TestWithWSScheme(t *testing.T) {
	require.Equal(t, "ws://localhost:8080/api/events", WithWSScheme("http://localhost:8080/api/events"))
	require.Equal(t, "wss://tiles.example.com", WithWSScheme("https://tiles.example.com"))
	require.Panics(t, func() { WithWSScheme("localhost") })
}
