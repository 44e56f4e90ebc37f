package engine

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvwal/kvwal/internal/policy"
)

func dbPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func TestRoundTripSingleRecord(t *testing.T) {
	path := dbPath(t)

	e, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Sync())
	require.NoError(t, e.Close())

	e2, err := Open(path)
	require.NoError(t, err)
	defer e2.Close()

	assert.True(t, e2.ContainsKey([]byte("a")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(14), info.Size()) // 8 + 1 + 1 + 4
}

func TestOverwrite(t *testing.T) {
	path := dbPath(t)

	e, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("k"), []byte("v1")))
	require.NoError(t, e.Put([]byte("k"), []byte("v2")))
	require.NoError(t, e.Sync())
	require.NoError(t, e.Close())

	e2, err := Open(path)
	require.NoError(t, err)
	defer e2.Close()

	assert.True(t, e2.ContainsKey([]byte("k")))
	assert.Equal(t, uint64(15), e2.index["k"]) // offset of the second record

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(15+8+1+2+4), info.Size())
}

// Garbage appended after a valid prefix must not surface as a record.
func TestTornTail_GarbageAppended(t *testing.T) {
	path := dbPath(t)

	e, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))
	require.NoError(t, e.Sync())

	validSize, err := e.file.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xde, 0xad, 0xbe, 0xef, 0x00})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	e2, err := Open(path)
	require.NoError(t, err)
	defer e2.Close()

	assert.True(t, e2.ContainsKey([]byte("a")))
	assert.True(t, e2.ContainsKey([]byte("b")))
	assert.Equal(t, 2, e2.LogicalIndex())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, validSize, info.Size())
}

func TestCrcCorruptionOnLastRecord(t *testing.T) {
	path := dbPath(t)

	e, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))
	firstTwoSize, err := e.file.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("c"), []byte("3")))
	require.NoError(t, e.Sync())
	require.NoError(t, e.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff}, firstTwoSize+9) // inside the value byte of "c"'s record
	require.NoError(t, err)
	require.NoError(t, f.Close())

	e2, err := Open(path)
	require.NoError(t, err)
	defer e2.Close()

	assert.True(t, e2.ContainsKey([]byte("a")))
	assert.True(t, e2.ContainsKey([]byte("b")))
	assert.False(t, e2.ContainsKey([]byte("c")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, firstTwoSize, info.Size())
}

func TestBatch100Durability(t *testing.T) {
	path := dbPath(t)

	e, err := WithSync(path, policy.NewBatch(100))
	require.NoError(t, err)
	defer e.Close()

	for i := 0; i < 250; i++ {
		require.NoError(t, e.Put([]byte{byte(i)}, []byte("v")))
	}

	assert.Equal(t, 250, e.LogicalIndex())
	assert.Equal(t, 200, e.DurableIndex())

	require.NoError(t, e.Sync())
	assert.Equal(t, 250, e.DurableIndex())
}

func TestPeriodic10msDurability(t *testing.T) {
	path := dbPath(t)

	e, err := WithSync(path, policy.NewPeriodic(10*time.Millisecond))
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Put([]byte("0"), []byte("v"))) // t=0
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, e.Put([]byte("1"), []byte("v"))) // t=15ms, triggers sync
	assert.Equal(t, 2, e.DurableIndex())

	require.NoError(t, e.Put([]byte("2"), []byte("v"))) // immediately after, no trigger
	assert.Equal(t, 3, e.LogicalIndex())
	assert.Equal(t, 2, e.DurableIndex())
}

func TestContainsKey_NotVisibleBeforeIndexBinding(t *testing.T) {
	path := dbPath(t)
	e, err := Open(path)
	require.NoError(t, err)
	defer e.Close()

	assert.False(t, e.ContainsKey([]byte("missing")))
	require.NoError(t, e.Put([]byte("present"), []byte("v")))
	assert.True(t, e.ContainsKey([]byte("present")))
}

func TestPut_InvalidSizeLeavesStateUntouched(t *testing.T) {
	path := dbPath(t)
	e, err := Open(path)
	require.NoError(t, err)
	defer e.Close()

	bigKey := make([]byte, 1<<20+1)
	err = e.Put(bigKey, []byte("v"))
	require.Error(t, err)
	assert.Equal(t, 0, e.LogicalIndex())
	assert.False(t, e.ContainsKey(bigKey))
}

func TestDurableIndex_MonotonicAcrossReopen(t *testing.T) {
	path := dbPath(t)

	e, err := WithSync(path, policy.NewBatch(1000))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, e.Put([]byte{byte(i)}, []byte("v")))
	}
	require.NoError(t, e.Sync())
	require.NoError(t, e.Close())

	e2, err := Open(path)
	require.NoError(t, err)
	defer e2.Close()
	assert.Equal(t, 5, e2.DurableIndex())
	assert.GreaterOrEqual(t, e2.DurableIndex(), 0)
}

func TestEmptyKeyAndValue_RoundTrip(t *testing.T) {
	path := dbPath(t)
	e, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte{}, []byte{}))
	require.NoError(t, e.Close())

	e2, err := Open(path)
	require.NoError(t, err)
	defer e2.Close()
	assert.True(t, e2.ContainsKey([]byte{}))
}
