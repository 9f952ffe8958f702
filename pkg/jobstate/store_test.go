package jobstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStore(t *testing.T) *Store {
	t.Helper()
	s := New(Batch{
		Name:     "digijobs",
		Flavor:   "blind",
		Manifest: json.RawMessage(`{"version":"1.0"}`),
		Cluster:  Cluster{Backend: "pbs", Queue: "N", ExtraOpts: "-l walltime=1:00:00"},
	}, []WorkSpec{
		{Dir: "BlindJob_digijobs_0", Script: "digijobs.sh"},
		{Dir: "BlindJob_digijobs_1", Script: "digijobs.sh", Params: map[string]string{"skip": "10"}},
		{Dir: "BlindJob_digijobs_2"},
		{Dir: "BlindJob_digijobs_3", Script: "digijobs.sh"},
	})

	ts := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Replace(
		JobRecord{Index: 0, State: StateFinished, Status: StatusSuccess, Handle: "101", WorkSpec: WorkSpec{Dir: "BlindJob_digijobs_0", Script: "digijobs.sh"}, SubmitCount: 1, UpdatedAt: ts},
		JobRecord{Index: 1, State: StateRunning, Handle: "102.server", WorkSpec: WorkSpec{Dir: "BlindJob_digijobs_1", Script: "digijobs.sh", Params: map[string]string{"skip": "10"}}, SubmitCount: 2, UpdatedAt: ts},
		JobRecord{Index: 3, State: StateAborted, Handle: "104", WorkSpec: WorkSpec{Dir: "BlindJob_digijobs_3", Script: "digijobs.sh"}, LastError: "kill: exit status 1", UpdatedAt: ts},
	))
	return s
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := sampleStore(t)

	require.NoError(t, Save(s, dir))

	got, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, s.BatchID, got.BatchID)
	assert.Equal(t, s.Batch.Name, got.Batch.Name)
	assert.Equal(t, s.Batch.Cluster, got.Batch.Cluster)
	assert.JSONEq(t, string(s.Batch.Manifest), string(got.Batch.Manifest))
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt))

	want := s.Records()
	have := got.Records()
	require.Len(t, have, len(want))
	for i := range want {
		assert.Equal(t, want[i].Index, have[i].Index)
		assert.Equal(t, want[i].State, have[i].State)
		assert.Equal(t, want[i].Status, have[i].Status)
		assert.Equal(t, want[i].Handle, have[i].Handle)
		assert.Equal(t, want[i].WorkSpec, have[i].WorkSpec)
		assert.Equal(t, want[i].SubmitCount, have[i].SubmitCount)
		assert.Equal(t, want[i].LastError, have[i].LastError)
		assert.True(t, want[i].UpdatedAt.Equal(have[i].UpdatedAt))
	}
}

func TestStore_IndicesNeverReused(t *testing.T) {
	dir := t.TempDir()
	s := New(Batch{Name: "b"}, []WorkSpec{{Dir: "a"}, {Dir: "b"}})
	require.NoError(t, Save(s, dir))

	got, err := Load(dir)
	require.NoError(t, err)

	added := got.Add(WorkSpec{Dir: "c"})
	assert.Equal(t, []int{2}, added)
	assert.Equal(t, 3, got.Len())
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsCorrupt(err))
}

func TestLoad_Corrupt(t *testing.T) {
	dir := t.TempDir()
	s := sampleStore(t)
	require.NoError(t, Save(s, dir))

	full, err := os.ReadFile(Path(dir))
	require.NoError(t, err)

	tests := []struct {
		name    string
		content []byte
	}{
		{name: "empty", content: []byte("  \n")},
		{name: "truncated", content: full[:len(full)/2]},
		{name: "not json", content: []byte("jobs: []")},
		{name: "record count mismatch", content: []byte(`{"schema_version":1,"next_index":2,"record_count":2,"jobs":[{"index":0,"state":"unset","workspec":{"dir":"a"}}]}`)},
		{name: "duplicate index", content: []byte(`{"schema_version":1,"next_index":2,"record_count":2,"jobs":[{"index":0,"state":"unset","workspec":{"dir":"a"}},{"index":0,"state":"unset","workspec":{"dir":"a"}}]}`)},
		{name: "index above counter", content: []byte(`{"schema_version":1,"next_index":1,"record_count":1,"jobs":[{"index":4,"state":"unset","workspec":{"dir":"a"}}]}`)},
		{name: "handle invariant", content: []byte(`{"schema_version":1,"next_index":1,"record_count":1,"jobs":[{"index":0,"state":"running","workspec":{"dir":"a"}}]}`)},
		{name: "status invariant", content: []byte(`{"schema_version":1,"next_index":1,"record_count":1,"jobs":[{"index":0,"state":"running","status":"fail","handle":"1","workspec":{"dir":"a"}}]}`)},
		{name: "future schema", content: []byte(`{"schema_version":99,"next_index":0,"record_count":0,"jobs":[]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(Path(dir), tt.content, 0644))
			_, err := Load(dir)
			require.Error(t, err)
			assert.True(t, IsCorrupt(err), "expected corrupt error, got %v", err)
		})
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(sampleStore(t), dir))
	require.NoError(t, Save(sampleStore(t), dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, DefaultFileName, entries[0].Name())
}

func TestSaveFile_CustomPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	require.NoError(t, SaveFile(sampleStore(t), path))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Len())
}

func TestStore_Select(t *testing.T) {
	s := sampleStore(t)

	all := s.Select(nil)
	assert.Equal(t, []int{0, 1, 2, 3}, Indices(all))

	alive := s.Select(InState(StateSubmitted, StateRunning))
	assert.Equal(t, []int{1}, Indices(alive))

	eligible := s.Select(AnyOf(FinishedWith(StatusFail), InState(StateAborted, StateUnset)))
	assert.Equal(t, []int{2, 3}, Indices(eligible))
}

func TestStore_SelectIndices(t *testing.T) {
	s := sampleStore(t)

	found, missing := s.SelectIndices([]int{3, 0, 9, 3})
	assert.Equal(t, []int{0, 3}, Indices(found))
	assert.Equal(t, []int{9}, missing)
}

func TestStore_Replace(t *testing.T) {
	s := sampleStore(t)

	t.Run("unknown index", func(t *testing.T) {
		err := s.Replace(JobRecord{Index: 42, State: StateUnset})
		require.ErrorIs(t, err, ErrUnknownIndex)
	})

	t.Run("invariant violation rejects whole batch", func(t *testing.T) {
		err := s.Replace(
			JobRecord{Index: 2, State: StateConfigured},
			JobRecord{Index: 0, State: StateSubmitted},
		)
		require.Error(t, err)
		r, _ := s.Get(2)
		assert.Equal(t, StateUnset, r.State)
	})

	t.Run("merges by index", func(t *testing.T) {
		require.NoError(t, s.Replace(JobRecord{Index: 2, State: StateSubmitted, Handle: "h2"}))
		r, ok := s.Get(2)
		require.True(t, ok)
		assert.Equal(t, StateSubmitted, r.State)
		assert.Equal(t, "h2", r.Handle)
	})
}

func TestStore_Counts(t *testing.T) {
	s := sampleStore(t)
	assert.Equal(t, map[string]int{
		"finished/success": 1,
		"running":          1,
		"unset":            1,
		"aborted":          1,
	}, s.Counts())
}
