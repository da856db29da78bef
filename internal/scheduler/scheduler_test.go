package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExpirer struct {
	deleted    int64
	err        error
	calledWith time.Time
}

func (f *fakeExpirer) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.calledWith = now
	return f.deleted, f.err
}

type fakeSnapshots struct {
	beginCalls    []string
	completeCalls []int64
	failCalls     []int64
	failCause     error
	beginErr      error
}

func (f *fakeSnapshots) BeginSnapshot(ctx context.Context, snapshotPath string) (int64, error) {
	f.beginCalls = append(f.beginCalls, snapshotPath)
	if f.beginErr != nil {
		return 0, f.beginErr
	}
	return int64(len(f.beginCalls)), nil
}

func (f *fakeSnapshots) CompleteSnapshot(ctx context.Context, id int64) error {
	f.completeCalls = append(f.completeCalls, id)
	return nil
}

func (f *fakeSnapshots) FailSnapshot(ctx context.Context, id int64, cause error) error {
	f.failCalls = append(f.failCalls, id)
	f.failCause = cause
	return nil
}

func (f *fakeSnapshots) LastSnapshotTime(ctx context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func newTestScheduler(t *testing.T, expirer ExpirySweeper, snapshots SnapshotStore, backup Backup) *Scheduler {
	t.Helper()
	fixedNow := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s, err := New(Config{
		RedisURL:   "redis://localhost:63790", // never dialed in these tests
		BackupPath: "/tmp/vdms-backup-test",
		Expirer:    expirer,
		Snapshots:  snapshots,
		Backup:     backup,
		Now:        func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return s
}

func TestHandleAutodeleteCallsExpirerWithNow(t *testing.T) {
	expirer := &fakeExpirer{deleted: 3}
	s := newTestScheduler(t, expirer, &fakeSnapshots{}, func(ctx context.Context, dir string) error { return nil })

	err := s.handleAutodelete(context.Background(), asynq.NewTask(TaskAutodelete, nil))
	require.NoError(t, err)
	assert.Equal(t, 2026, expirer.calledWith.Year())
}

func TestHandleAutodeletePropagatesError(t *testing.T) {
	expirer := &fakeExpirer{err: fmt.Errorf("graph down")}
	s := newTestScheduler(t, expirer, &fakeSnapshots{}, func(ctx context.Context, dir string) error { return nil })

	err := s.handleAutodelete(context.Background(), asynq.NewTask(TaskAutodelete, nil))
	assert.Error(t, err)
}

func TestHandleAutoreplicateRecordsSuccess(t *testing.T) {
	snapshots := &fakeSnapshots{}
	var backedUpTo string
	backup := func(ctx context.Context, dir string) error {
		backedUpTo = dir
		return nil
	}
	s := newTestScheduler(t, &fakeExpirer{}, snapshots, backup)

	err := s.handleAutoreplicate(context.Background(), asynq.NewTask(TaskAutoreplicate, nil))
	require.NoError(t, err)
	require.Len(t, snapshots.beginCalls, 1)
	assert.Equal(t, snapshots.beginCalls[0], backedUpTo)
	assert.Len(t, snapshots.completeCalls, 1)
	assert.Empty(t, snapshots.failCalls)
}

func TestHandleAutoreplicateRecordsFailure(t *testing.T) {
	snapshots := &fakeSnapshots{}
	backup := func(ctx context.Context, dir string) error { return fmt.Errorf("disk full") }
	s := newTestScheduler(t, &fakeExpirer{}, snapshots, backup)

	err := s.handleAutoreplicate(context.Background(), asynq.NewTask(TaskAutoreplicate, nil))
	assert.Error(t, err)
	assert.Len(t, snapshots.failCalls, 1)
	assert.EqualError(t, snapshots.failCause, "disk full")
	assert.Empty(t, snapshots.completeCalls)
}

func TestNewRegistersOnlyEnabledJobs(t *testing.T) {
	s, err := New(Config{
		RedisURL:              "redis://localhost:63790",
		AutodeleteInterval:    0,
		AutoreplicateInterval: 0,
		Expirer:               &fakeExpirer{},
		Snapshots:             &fakeSnapshots{},
		Backup:                func(ctx context.Context, dir string) error { return nil },
	})
	require.NoError(t, err)
	assert.NotNil(t, s)
}
