// Package asyncop implements spec.md §9 "Async remote ops": the
// RemoteOp/UserOp entries internal/image and internal/video record
// instead of applying inline (spec.md 4.F/4.G) are drained here, outside
// the transaction that queued them, and the outcome is folded back into
// the artifact on disk and the graph node that owns it. Grounded on the
// teacher's internal/queue/redis_consumer.go shape — a bounded loop
// draining a channel of work items, one per connection — adapted from a
// durable asynq task queue to a best-effort in-memory queue plus a
// redis/go-redis/v9 pub/sub channel for handing the outcome back to
// whatever is listening for this session's notifications, since these
// are one-shot notifications rather than retryable jobs.
package asyncop

import (
	"bytes"
	"context"
	goimage "image"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/intellabs/vdms-go/internal/image"
	"github.com/intellabs/vdms-go/internal/model"
	"github.com/intellabs/vdms-go/internal/querybuilder"
)

// StatusDone and StatusFailed are the values written to
// model.PropAsyncStatus once a queued op finishes.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// queueDepth bounds how many pending ops a single session will buffer
// before Enqueue starts dropping work; a client queuing more async ops
// than this without draining is assumed to be misbehaving.
const queueDepth = 64

// Item is one queued RemoteOp/UserOp plus what the dispatcher needs to
// apply it and fold the result back in, independent of whether it came
// from internal/image or internal/video (both record the same image.Op
// values, spec.md 4.G reusing 4.F's op model).
type Item struct {
	// Frame is the already-materialized pixel matrix the op applies to:
	// the whole image for an AddImage op, or a representative decoded
	// frame (spec.md 4.G has no per-frame wire callback, so a video's
	// async ops complete once for the artifact, not once per frame).
	Frame goimage.Image
	Op    image.Op

	// RewritePath, when non-empty, is the on-disk artifact the applied
	// result is re-encoded and written back to; empty means the op's
	// side effect (the remote call itself) is what matters, not its
	// returned pixels.
	RewritePath string
	Format      image.Format

	// Tag and PathProp locate the graph node to update once the op
	// completes: the node whose PathProp property equals ArtifactPath.
	Tag          string
	PathProp     string
	ArtifactPath string
}

// UserOpRegistry resolves a UserOp's Name to an actual pixel transform.
// spec.md leaves user-defined op implementations outside VDMS itself; a
// deployment wires its own registry in, and an unset registry fails
// every UserOp it's asked to run.
type UserOpRegistry interface {
	Apply(name string, params map[string]string, frame goimage.Image) (goimage.Image, error)
}

// GraphSession is the narrow slice of graphengine.Session the dispatcher
// needs to mark one artifact's async status once its op completes.
type GraphSession interface {
	Execute(ctx context.Context, prog *querybuilder.Program) ([]*querybuilder.GroupResult, error)
	Commit() error
	Rollback() error
}

// GraphStore opens a fresh GraphSession, independent of whatever
// envelope session queued the op — that session has already committed
// and closed by the time an async op finishes, per spec.md 4.C's
// transaction envelope being scoped to one request/response round trip.
type GraphStore interface {
	Begin(ctx context.Context, readOnly bool) (GraphSession, error)
}

// Dispatcher is the one-per-session loop spec.md §9 "Async remote ops"
// requires: it consumes queued RemoteOp/UserOp items, issues the HTTP
// call or invokes the user-op registry, rewrites the artifact when
// requested, updates the owning node's async-status property, and
// publishes the outcome to this session's redis channel.
type Dispatcher struct {
	sessionID string
	items     chan Item

	graph   GraphStore
	redis   *redis.Client
	userOps UserOpRegistry
	http    *http.Client
}

// NewDispatcher builds a Dispatcher for one session. redisClient and
// userOps may be nil: a nil redisClient silently skips the pub/sub
// notification, a nil userOps registry fails every UserOp item.
func NewDispatcher(sessionID string, graph GraphStore, redisClient *redis.Client, userOps UserOpRegistry) *Dispatcher {
	return &Dispatcher{
		sessionID: sessionID,
		items:     make(chan Item, queueDepth),
		graph:     graph,
		redis:     redisClient,
		userOps:   userOps,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Channel returns the redis pub/sub channel name this session's
// completions are published to, so a caller can hand it to a client
// waiting on a notification.
func (d *Dispatcher) Channel() string {
	return "vdms:asyncop:" + d.sessionID
}

// Enqueue queues item for asynchronous dispatch, dropping it (and
// logging) if the session's backlog is already full rather than
// blocking the command handler that queued it.
func (d *Dispatcher) Enqueue(item Item) {
	select {
	case d.items <- item:
	default:
		log.Printf("asyncop: session %s: backlog full, dropping op for %s", d.sessionID, item.ArtifactPath)
	}
}

// Run drains queued items until ctx is canceled or Close is called.
// Call it in its own goroutine, one per session.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-d.items:
			if !ok {
				return
			}
			d.process(ctx, item)
		}
	}
}

// Close signals Run to exit once the backlog drains.
func (d *Dispatcher) Close() { close(d.items) }

func (d *Dispatcher) process(ctx context.Context, item Item) {
	result, applyErr := d.apply(ctx, item)

	if applyErr == nil && item.RewritePath != "" {
		encoded, err := encodeFrame(result, item.Format)
		if err != nil {
			applyErr = err
		} else if err := writeFile(item.RewritePath, encoded); err != nil {
			applyErr = err
		}
	}

	status := StatusDone
	message := ""
	if applyErr != nil {
		status = StatusFailed
		message = applyErr.Error()
		log.Printf("asyncop: session %s: %s on %s: %v", d.sessionID, opKind(item.Op), item.ArtifactPath, applyErr)
	}

	if err := d.markStatus(ctx, item, status); err != nil {
		log.Printf("asyncop: session %s: recording status for %s: %v", d.sessionID, item.ArtifactPath, err)
	}
	d.notify(ctx, item, status, message)
}

func (d *Dispatcher) apply(ctx context.Context, item Item) (goimage.Image, error) {
	switch op := item.Op.(type) {
	case image.RemoteOp:
		return d.applyRemote(ctx, op, item.Frame, item.Format)
	case image.UserOp:
		if d.userOps == nil {
			return nil, errNoUserOpRegistry(op.Name)
		}
		return d.userOps.Apply(op.Name, op.Params, item.Frame)
	default:
		return nil, errUnexpectedOp(item.Op)
	}
}

// applyRemote posts the encoded frame to op.URL with op.Params as query
// parameters and decodes the response body as a replacement frame,
// mirroring image.SyncRemoteOp's contract but over the network instead
// of inline within Materialize.
func (d *Dispatcher) applyRemote(ctx context.Context, op image.RemoteOp, frame goimage.Image, format image.Format) (goimage.Image, error) {
	body, err := encodeFrame(frame, format)
	if err != nil {
		return nil, err
	}

	reqURL := op.URL
	if len(op.Params) > 0 {
		q := url.Values{}
		for k, v := range op.Params {
			q.Set(k, v)
		}
		sep := "?"
		if strings.Contains(reqURL, "?") {
			sep = "&"
		}
		reqURL = reqURL + sep + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", string("image/"+format))

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, errRemoteStatus(resp.StatusCode)
	}
	return image.FromBuffer(out, format).Materialize()
}

// markStatus opens its own short-lived graph session to record status
// against the node whose PathProp equals ArtifactPath, since the
// envelope session that queued this op has already committed.
func (d *Dispatcher) markStatus(ctx context.Context, item Item, status string) error {
	if d.graph == nil || item.Tag == "" {
		return nil
	}

	b := querybuilder.NewBuilder()
	constraint := &querybuilder.PredicateNode{Leaf: &querybuilder.Predicate{
		Key:   item.PathProp,
		Op:    querybuilder.OpEQ,
		Value: model.String(item.ArtifactPath),
	}}
	if _, err := b.UpdateNode(0, item.Tag, map[string]interface{}{model.PropAsyncStatus: status}, nil, constraint, false); err != nil {
		return err
	}

	session, err := d.graph.Begin(ctx, false)
	if err != nil {
		return err
	}
	if _, err := session.Execute(ctx, b.Run()); err != nil {
		session.Rollback()
		return err
	}
	return session.Commit()
}

// notify publishes the outcome on this session's redis channel so a
// waiting client can be told the op finished, per spec.md §9's "hand
// results back to a waiting session". A nil redis client (e.g. in
// tests that never enqueue an op) just skips this step.
func (d *Dispatcher) notify(ctx context.Context, item Item, status, message string) {
	if d.redis == nil {
		return
	}
	payload := map[string]interface{}{
		"artifact": item.ArtifactPath,
		"status":   status,
	}
	if message != "" {
		payload["error"] = message
	}
	if err := d.redis.Publish(ctx, d.Channel(), encodeJSON(payload)).Err(); err != nil {
		log.Printf("asyncop: session %s: publishing notification: %v", d.sessionID, err)
	}
}
