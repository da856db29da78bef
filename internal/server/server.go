// Package server implements the TCP session loop and bounded worker pool
// of spec.md section 4.A / 5: a fixed-size pool of goroutines dequeues
// accepted connections from a work queue, and each worker owns one
// session (one connection) at a time, processing envelopes strictly in
// sequence until the peer disconnects or a framing error occurs. Grounded
// on the teacher's internal/queue/redis_consumer.go RedisConsumer shape
// (Config struct, New constructor returning an error, Start/Stop pair,
// stdlib log.Printf diagnostics) - generalized from a Redis/asynq task
// consumer to a net.Listener/net.Conn session consumer, since both are
// "bounded pool of workers draining a queue of work items" at heart.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/intellabs/vdms-go/internal/asyncop"
)

// Config holds the session server's configuration, drawn from the values
// spec.md section 6 enumerates under port/max_simultaneous_clients, plus
// the collaborators every session's own async-op dispatcher needs
// (spec.md §9): a place to open a fresh graph session once a queued op
// completes, the redis client its pub/sub notifications publish through,
// and an optional UserOp registry.
type Config struct {
	Addr       string
	MaxWorkers int
	Dispatch   *Dispatcher

	AsyncGraph  asyncop.GraphStore
	RedisClient *redis.Client
	UserOps     asyncop.UserOpRegistry
}

// Server accepts TCP connections and hands each to a worker pool sized by
// MaxWorkers, per spec.md 5 "Scheduling model".
type Server struct {
	addr       string
	maxWorkers int
	dispatch   *Dispatcher

	asyncGraph  asyncop.GraphStore
	redisClient *redis.Client
	userOps     asyncop.UserOpRegistry

	mu       sync.Mutex
	listener net.Listener
	conns    chan net.Conn
	wg       sync.WaitGroup
	done     chan struct{}
}

// New validates config and builds a Server ready for Start.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("server: Addr must not be empty")
	}
	if cfg.MaxWorkers <= 0 {
		return nil, fmt.Errorf("server: MaxWorkers must be positive")
	}
	if cfg.Dispatch == nil {
		return nil, fmt.Errorf("server: Dispatch must not be nil")
	}

	return &Server{
		addr:        cfg.Addr,
		maxWorkers:  cfg.MaxWorkers,
		dispatch:    cfg.Dispatch,
		asyncGraph:  cfg.AsyncGraph,
		redisClient: cfg.RedisClient,
		userOps:     cfg.UserOps,
		conns:       make(chan net.Conn, cfg.MaxWorkers),
		done:        make(chan struct{}),
	}, nil
}

// Start opens the listener, launches MaxWorkers session workers, and runs
// the accept loop until ctx is canceled or Stop is called. It blocks until
// the accept loop exits and returns any listener error other than the one
// caused by an intentional Stop.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	log.Printf("server: listening on %s with %d workers", s.addr, s.maxWorkers)

	for i := 0; i < s.maxWorkers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				s.wg.Wait()
				return nil
			default:
				log.Printf("server: accept error: %v", err)
				return err
			}
		}
		select {
		case s.conns <- conn:
		case <-s.done:
			conn.Close()
			s.wg.Wait()
			return nil
		}
	}
}

// worker dequeues accepted connections and runs one session at a time,
// per spec.md 5 "work is not parallelized within a single session".
func (s *Server) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		select {
		case conn, ok := <-s.conns:
			if !ok {
				return
			}
			s.handleSession(ctx, conn)
		case <-s.done:
			return
		}
	}
}

func (s *Server) handleSession(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	go func() {
		select {
		case <-s.done:
			conn.Close()
		case <-ctx.Done():
			conn.Close()
		}
	}()

	sess := newSession(conn, s.dispatch, s.asyncGraph, s.redisClient, s.userOps)
	sess.run(ctx)
}

// Stop closes the listener and signals every worker to tear down its
// current connection, per spec.md 5 "Cancellation / shutdown": outstanding
// sessions are signaled to tear down (their connections are shut down to
// unblock receive), and worker threads join.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return // already stopped
	default:
		close(s.done)
	}
	if s.listener != nil {
		s.listener.Close()
	}
}
