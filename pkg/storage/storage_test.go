package storage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ss, err := s.NewSession("run1", "two cameras")
	require.NoError(t, err)
	_, err = s.NewSession("run1", "")
	assert.ErrorIs(t, err, ErrSessionExists)

	got, err := s.GetSession("run1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "two cameras", got.Info)
	assert.Equal(t, ss.Dir(), got.Dir())

	missing, err := s.GetSession("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := s.ListSessions()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteSession("run1"))
	assert.NoDirExists(t, ss.Dir())
	assert.ErrorIs(t, s.DeleteSession("run1"), ErrSessionNotFound)
}

func TestSnapshots(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ss, err := s.NewSession("snap", "")
	require.NoError(t, err)

	_, err = ss.LatestSnapshot()
	assert.Error(t, err)

	for _, b := range []string{"first", "second"} {
		_, err = ss.SaveSnapshot([]byte(b))
		require.NoError(t, err)
	}
	name, err := ss.LatestSnapshotName()
	require.NoError(t, err)
	assert.Equal(t, "snap-1.jpg", name)

	data, err := ss.LatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	names, err := ss.ListSnapshots()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"snap-0.jpg", "snap-1.jpg"}, names)

	_, err = ss.GetSnapshot("../../info.json")
	assert.Error(t, err)
}

func TestRecordings(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ss, err := s.NewSession("rec", "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(ss.MoviePath(1), make([]byte, 2048), 0o644))
	require.NoError(t, os.WriteFile(ss.MoviePath(0), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(ss.MoviePath(0)+".pts.json", []byte("[]"), 0o644))

	recs, err := ss.ListRecordings()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 0, recs[0].Device)
	assert.Equal(t, "cam0.avi.pts.json", recs[0].Timestamps)
	assert.Equal(t, 1, recs[1].Device)
	assert.Equal(t, int64(2048), recs[1].Bytes)
	assert.Equal(t, "2.0 kB", recs[1].Size)
	assert.Empty(t, recs[1].Timestamps)

	require.NoError(t, ss.DumpStats(map[string]int{"frames": 3}))
	assert.FileExists(t, ss.Dir()+"/stats.json")
}
