package descriptor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSet struct {
	closed bool
}

func (f *fakeSet) Add([][]float32, []int64) (int64, error)                { return 0, nil }
func (f *fakeSet) Search([][]float32, int) ([]SearchResult, error)        { return nil, nil }
func (f *fakeSet) RadiusSearch([]float32, float32, int) (SearchResult, error) {
	return SearchResult{}, nil
}
func (f *fakeSet) Classify([][]float32, int) ([]int64, error)  { return nil, nil }
func (f *fakeSet) GetDescriptors([]int64) ([][]float32, error) { return nil, nil }
func (f *fakeSet) Train([][]float32) error                     { return ErrNotImplemented }
func (f *fakeSet) FinalizeIndex() error                        { return nil }
func (f *fakeSet) Store(string) error                          { return nil }
func (f *fakeSet) Dimensions() int                              { return 4 }
func (f *fakeSet) Metric() Metric                               { return MetricL2 }
func (f *fakeSet) EngineName() Engine                           { return EngineFlat }
func (f *fakeSet) Count() int64                                 { return 0 }
func (f *fakeSet) SetLabelsMap(map[int64]string) error          { return nil }
func (f *fakeSet) GetLabelsMap() map[int64]string               { return nil }
func (f *fakeSet) LabelIDToString([]int64) []string             { return nil }
func (f *fakeSet) GetLabelID(string) int64                      { return -1 }
func (f *fakeSet) Close() error                                 { f.closed = true; return nil }

func TestManagerCreateUsesRegisteredEngine(t *testing.T) {
	m := NewManager()
	created := &fakeSet{}
	m.RegisterEngine(EngineFlat, nil, func(path string, dim int, metric Metric) (Set, error) {
		return created, nil
	})

	got, err := m.Create("/tmp/set1", EngineFlat, 4, MetricL2)
	require.NoError(t, err)
	assert.Same(t, created, got)
}

func TestManagerCreateRejectsUnregisteredEngine(t *testing.T) {
	m := NewManager()
	_, err := m.Create("/tmp/set2", EngineIVF, 4, MetricL2)
	assert.Error(t, err)
}

func TestManagerAcquireOpensOnceAndCaches(t *testing.T) {
	m := NewManager()
	opens := 0
	m.RegisterEngine(EngineDense, func(path string, dim int, metric Metric) (Set, error) {
		opens++
		return &fakeSet{}, nil
	}, nil)

	var calls int
	for i := 0; i < 3; i++ {
		err := m.Acquire("/tmp/set3", EngineDense, 4, MetricL2, func(s Set) error {
			calls++
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, opens)
	assert.Equal(t, 3, calls)
}

func TestManagerCloseAllClosesHandles(t *testing.T) {
	m := NewManager()
	set := &fakeSet{}
	m.RegisterEngine(EngineLSH, func(path string, dim int, metric Metric) (Set, error) {
		return set, nil
	}, nil)
	require.NoError(t, m.Acquire("/tmp/set4", EngineLSH, 4, MetricL2, func(Set) error { return nil }))

	require.NoError(t, m.CloseAll())
	assert.True(t, set.closed)
}

func TestErrNotImplementedIsDistinct(t *testing.T) {
	assert.True(t, errors.Is(ErrNotImplemented, ErrNotImplemented))
	assert.False(t, errors.Is(ErrNotImplemented, ErrNotFinalized))
}
