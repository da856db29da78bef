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

func TestSessionRunEchoesOneRequestThenClosesOnEOF(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	sess := newSession(serverConn, NewDispatcher(&fakeGraphStore{}), nil, nil, nil)
	runDone := make(chan struct{})
	go func() {
		sess.run(context.Background())
		close(runDone)
	}()

	require.NoError(t, wireproto.WriteEnvelope(clientConn, &wireproto.Envelope{JSON: `[{"FindEntity":{}}]`}))

	resp, err := wireproto.ReadEnvelope(clientConn)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.JSON)

	clientConn.Close()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("session.run did not exit after client closed")
	}
}
