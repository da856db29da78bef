package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/intellabs/vdms-go/internal/wireproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerAcceptsAndDispatchesOneSession(t *testing.T) {
	srv, err := New(Config{Addr: "127.0.0.1:0", MaxWorkers: 2, Dispatch: NewDispatcher(&fakeGraphStore{})})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	startErrCh := make(chan error, 1)
	go func() { startErrCh <- srv.Start(ctx) }()

	var addr net.Addr
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		if srv.listener == nil {
			return false
		}
		addr = srv.listener.Addr()
		return true
	}, time.Second, 10*time.Millisecond)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wireproto.WriteEnvelope(conn, &wireproto.Envelope{JSON: `[{"FindEntity":{}}]`}))
	resp, err := wireproto.ReadEnvelope(conn)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.JSON)

	cancel()
	select {
	case <-startErrCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server.Start did not return after context cancellation")
	}
}
