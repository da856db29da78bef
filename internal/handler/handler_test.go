package handler

import (
	"context"
	"testing"

	"github.com/intellabs/vdms-go/internal/querybuilder"
	"github.com/intellabs/vdms-go/internal/storage"
)

// newTestPathManager gives handler tests a PathManager rooted under a
// scratch directory, same shape as storage's own test helper.
func newTestPathManager(t *testing.T) *storage.PathManager {
	t.Helper()
	dir := t.TempDir()
	return storage.NewPathManager(storage.Roots{
		BlobPath:        dir + "/blobs",
		ImagesPath:      dir + "/images",
		VideosPath:      dir + "/videos",
		DescriptorsPath: dir + "/descriptors",
		TmpPath:         dir + "/tmp",
		BackupPath:      dir + "/backup",
	})
}

// fakeGraph stubs command.GraphSession so handler tests never touch a
// live PostgreSQL/AGE connection, mirroring the fakeSet pattern in
// internal/descriptor's own tests. Tests bind one fakeGraph per handler
// call via Context.Graph, the same way internal/server's Dispatcher
// binds one real graphengine.Session per client envelope. sequence
// holds one result set per expected Execute call, in order; results is
// used once sequence is empty (or always, for single-call handlers).
type fakeGraph struct {
	programs []*querybuilder.Program
	results  []*querybuilder.GroupResult
	sequence [][]*querybuilder.GroupResult
	err      error
}

func (f *fakeGraph) Execute(ctx context.Context, prog *querybuilder.Program) ([]*querybuilder.GroupResult, error) {
	f.programs = append(f.programs, prog)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.sequence) > 0 {
		next := f.sequence[0]
		f.sequence = f.sequence[1:]
		return next, nil
	}
	return f.results, nil
}

func success(groupID int, entities ...map[string]interface{}) *querybuilder.GroupResult {
	return &querybuilder.GroupResult{
		GroupID:     groupID,
		Code:        querybuilder.CodeSuccess,
		Entities:    entities,
		EntitiesSet: true,
	}
}
