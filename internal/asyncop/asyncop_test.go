package asyncop

import (
	"bytes"
	"context"
	goimage "image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellabs/vdms-go/internal/image"
	"github.com/intellabs/vdms-go/internal/querybuilder"
)

type fakeGraphSession struct {
	mu        sync.Mutex
	executed  int
	committed int
}

func (s *fakeGraphSession) Execute(ctx context.Context, prog *querybuilder.Program) ([]*querybuilder.GroupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed++
	return nil, nil
}
func (s *fakeGraphSession) Commit() error { s.committed++; return nil }
func (s *fakeGraphSession) Rollback() error { return nil }

type fakeGraphStore struct {
	mu       sync.Mutex
	sessions []*fakeGraphSession
}

func (f *fakeGraphStore) Begin(ctx context.Context, readOnly bool) (GraphSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeGraphSession{}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeGraphStore) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

type fakeUserOps struct {
	calls []string
}

func (f *fakeUserOps) Apply(name string, params map[string]string, frame goimage.Image) (goimage.Image, error) {
	f.calls = append(f.calls, name)
	return frame, nil
}

func onePixelJPEG(t *testing.T) []byte {
	t.Helper()
	img := goimage.NewRGBA(goimage.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func runningDispatcher(t *testing.T, graph GraphStore, userOps UserOpRegistry) (*Dispatcher, context.CancelFunc) {
	t.Helper()
	d := NewDispatcher("test-session", graph, nil, userOps)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(func() { cancel(); d.Close() })
	return d, cancel
}

func TestDispatcherAppliesRemoteOpAndRewritesArtifact(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := onePixelJPEG(t)
		gotBody = body
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	artifactPath := filepath.Join(dir, "artifact.jpg")
	require.NoError(t, os.WriteFile(artifactPath, onePixelJPEG(t), 0o644))

	store := &fakeGraphStore{}
	d, _ := runningDispatcher(t, store, nil)

	frame := decodeJPEG(t, onePixelJPEG(t))
	d.Enqueue(Item{
		Frame:        frame,
		Op:           image.RemoteOp{URL: srv.URL},
		RewritePath:  artifactPath,
		Format:       image.FormatJPEG,
		Tag:          "VDMS_IMAGE",
		PathProp:     "VDMS_IM_PATH_PROP",
		ArtifactPath: artifactPath,
	})

	waitFor(t, func() bool { return store.sessionCount() == 1 })
	assert.NotNil(t, gotBody)

	rewritten, err := os.ReadFile(artifactPath)
	require.NoError(t, err)
	assert.NotEmpty(t, rewritten)
}

func TestDispatcherAppliesUserOpViaRegistry(t *testing.T) {
	store := &fakeGraphStore{}
	userOps := &fakeUserOps{}
	d, _ := runningDispatcher(t, store, userOps)

	d.Enqueue(Item{
		Frame:        decodeJPEG(t, onePixelJPEG(t)),
		Op:           image.UserOp{Name: "sharpen"},
		Format:       image.FormatJPEG,
		Tag:          "VDMS_IMAGE",
		PathProp:     "VDMS_IM_PATH_PROP",
		ArtifactPath: "/nonexistent/does-not-matter.jpg",
	})

	waitFor(t, func() bool { return len(userOps.calls) == 1 })
	assert.Equal(t, "sharpen", userOps.calls[0])
	waitFor(t, func() bool { return store.sessionCount() == 1 })
}

func TestDispatcherFailsUserOpWithNoRegistry(t *testing.T) {
	store := &fakeGraphStore{}
	d, _ := runningDispatcher(t, store, nil)

	d.Enqueue(Item{
		Frame:        decodeJPEG(t, onePixelJPEG(t)),
		Op:           image.UserOp{Name: "sharpen"},
		Format:       image.FormatJPEG,
		Tag:          "VDMS_IMAGE",
		PathProp:     "VDMS_IM_PATH_PROP",
		ArtifactPath: "/nonexistent/does-not-matter.jpg",
	})

	// No registry configured: the op fails, but the dispatcher still
	// records a status against the node rather than dropping it silently.
	waitFor(t, func() bool { return store.sessionCount() == 1 })
}

func TestDispatcherEnqueueDropsWhenBacklogFull(t *testing.T) {
	d := NewDispatcher("test-session", &fakeGraphStore{}, nil, nil)
	for i := 0; i < queueDepth; i++ {
		d.Enqueue(Item{Op: image.UserOp{Name: "x"}})
	}
	// One more over capacity must not block.
	done := make(chan struct{})
	go func() {
		d.Enqueue(Item{Op: image.UserOp{Name: "overflow"}})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked instead of dropping")
	}
}

func decodeJPEG(t *testing.T, data []byte) goimage.Image {
	t.Helper()
	img, err := image.FromBuffer(data, image.FormatJPEG).Materialize()
	require.NoError(t, err)
	return img
}
