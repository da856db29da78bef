package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/intellabs/vdms-go/internal/asyncop"
	"github.com/intellabs/vdms-go/internal/metrics"
	"github.com/intellabs/vdms-go/internal/wireproto"
)

// session owns one connection end to end: receive one envelope, dispatch
// it, send exactly one response envelope, repeat until the peer
// disconnects or a framing error occurs, per spec.md 4.A. It also owns
// the one async-op dispatcher spec.md §9 requires per session, so a
// RemoteOp/UserOp queued by a command in one envelope can still be
// drained after that envelope's own response has already gone out.
type session struct {
	conn     net.Conn
	dispatch *Dispatcher
	async    *asyncop.Dispatcher
}

// newSession builds a session with its own async dispatcher, identified
// by a fresh google/uuid id so its redis pub/sub channel name
// (asyncop.Dispatcher.Channel) is unique across concurrently connected
// clients.
func newSession(conn net.Conn, dispatch *Dispatcher, asyncGraph asyncop.GraphStore, redisClient *redis.Client, userOps asyncop.UserOpRegistry) *session {
	return &session{
		conn:     conn,
		dispatch: dispatch,
		async:    asyncop.NewDispatcher(uuid.NewString(), asyncGraph, redisClient, userOps),
	}
}

func (s *session) run(ctx context.Context) {
	remote := s.conn.RemoteAddr()
	metrics.SessionStarted()
	defer metrics.SessionEnded()

	asyncCtx, cancelAsync := context.WithCancel(ctx)
	defer cancelAsync()
	go s.async.Run(asyncCtx)
	defer s.async.Close()

	for {
		req, err := wireproto.ReadEnvelope(s.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("server: session %s: read error: %v", remote, err)
			}
			return
		}

		resp := s.dispatch.Handle(ctx, req, s.async)

		if err := wireproto.WriteEnvelope(s.conn, resp); err != nil {
			log.Printf("server: session %s: write error: %v", remote, err)
			return
		}
	}
}
