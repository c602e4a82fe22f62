package marlindb

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	require.NoError(t, db.Put([]byte("A"), []byte("1")))
	require.NoError(t, db.Put([]byte("B"), []byte("2")))

	snap, err := db.NewSnapshot()
	require.NoError(t, err)
	defer snap.Close()

	// Mutate the live database after the snapshot.
	require.NoError(t, db.Put([]byte("C"), []byte("3")))
	require.NoError(t, db.Delete([]byte("A")))

	// The snapshot still serves the captured state.
	v, err := snap.Get([]byte("A"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	_, err = snap.Get([]byte("C"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	it, err := snap.NewIterator()
	require.NoError(t, err)
	var got []string
	for it.Next() {
		got = append(got, string(it.Key())+"="+string(it.Value()))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"A=1", "B=2"}, got)

	// The live database sees its own writes.
	_, err = db.Get([]byte("A"))
	require.ErrorIs(t, err, ErrKeyNotFound)
	v, err = db.Get([]byte("C"))
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), v)
}

func TestSnapshotRejectsMutation(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))

	snap, err := db.NewSnapshot()
	require.NoError(t, err)
	defer snap.Close()

	require.ErrorIs(t, snap.Put([]byte("x"), []byte("y")), ErrSnapshotReadOnly)
	require.ErrorIs(t, snap.PutChunk([]byte("x"), []byte("y"), 0, 1), ErrSnapshotReadOnly)
	require.ErrorIs(t, snap.Delete([]byte("k")), ErrSnapshotReadOnly)

	nested, err := snap.NewSnapshot()
	require.ErrorIs(t, err, ErrNestedSnapshot)
	assert.Nil(t, nested)

	// The rejected mutations left the snapshot view untouched.
	v, err := snap.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestSnapshotCloseIdempotent(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))

	snap, err := db.NewSnapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, db.Stats().OpenSnapshots)

	require.NoError(t, snap.Close())
	require.NoError(t, snap.Close())
	require.NoError(t, snap.Close())

	// The live engine saw exactly one release.
	stats := db.Stats()
	assert.Equal(t, 0, stats.OpenSnapshots)
	assert.Equal(t, uint64(1), stats.SnapshotsReleased)

	_, err = snap.Get([]byte("k"))
	require.ErrorIs(t, err, ErrSnapshotClosed)
	_, err = snap.NewIterator()
	require.ErrorIs(t, err, ErrSnapshotClosed)
}

func TestSnapshotCloseConcurrent(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))

	snap, err := db.NewSnapshot()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = snap.Close()
		}()
	}
	wg.Wait()

	stats := db.Stats()
	assert.Equal(t, 0, stats.OpenSnapshots)
	assert.Equal(t, uint64(1), stats.SnapshotsReleased)
}

func TestDBCloseReleasesOpenSnapshots(t *testing.T) {
	t.Parallel()

	db, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))

	snap, err := db.NewSnapshot()
	require.NoError(t, err)

	// The caller forgets to close; DB.Close guarantees the release,
	// exactly once even though the snapshot is closed on both paths.
	require.NoError(t, db.Close())
	require.NoError(t, snap.Close())

	stats := db.Stats()
	assert.Equal(t, 0, stats.OpenSnapshots)
	assert.Equal(t, uint64(1), stats.SnapshotsReleased)
}

func TestConcurrentSnapshots(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	require.NoError(t, db.Put([]byte("gen"), []byte("0")))

	first, err := db.NewSnapshot()
	require.NoError(t, err)
	defer first.Close()

	require.NoError(t, db.Put([]byte("gen"), []byte("1")))

	second, err := db.NewSnapshot()
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, db.Put([]byte("gen"), []byte("2")))

	assert.NotEqual(t, first.ID(), second.ID())

	v, err := first.Get([]byte("gen"))
	require.NoError(t, err)
	assert.Equal(t, []byte("0"), v)

	v, err = second.Get([]byte("gen"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	v, err = db.Get([]byte("gen"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

func TestSnapshotSurvivesSegmentRotation(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, WithSegmentMaxBytes(256))
	require.NoError(t, db.Put([]byte("stable"), []byte("before")))

	snap, err := db.NewSnapshot()
	require.NoError(t, err)
	defer snap.Close()

	// Push the live engine through several rotations.
	for i := 0; i < 64; i++ {
		require.NoError(t, db.Put([]byte{byte(i)}, make([]byte, 48)))
	}
	require.NoError(t, db.Put([]byte("stable"), []byte("after")))

	v, err := snap.Get([]byte("stable"))
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), v)

	v, err = db.Get([]byte("stable"))
	require.NoError(t, err)
	assert.Equal(t, []byte("after"), v)
}
