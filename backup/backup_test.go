package backup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/entidb/identifier"
	"github.com/cuemby/entidb/index/fts"
	"github.com/cuemby/entidb/index/hash"
	"github.com/cuemby/entidb/index/ordered"
	"github.com/cuemby/entidb/internal/store"
)

func newIndexes() Indexes {
	return Indexes{Hash: hash.New(), Ordered: ordered.New(), FTS: fts.New()}
}

func TestBackupRestoreRoundTripsLiveEntities(t *testing.T) {
	src, err := store.Open("", nil)
	require.NoError(t, err)
	cid, err := src.ResolveOrDeclareCollection("users", src.NextSeq(), true)
	require.NoError(t, err)

	e1, e2, e3 := identifier.New(), identifier.New(), identifier.New()
	require.NoError(t, src.Append([]*store.Record{
		{Type: store.RecPut, Seq: src.NextSeq(), CID: cid, ID: e1, Payload: []byte("alice")},
	}, true))
	require.NoError(t, src.Append([]*store.Record{
		{Type: store.RecPut, Seq: src.NextSeq(), CID: cid, ID: e2, Payload: []byte("bob")},
	}, true))
	require.NoError(t, src.Append([]*store.Record{
		{Type: store.RecPut, Seq: src.NextSeq(), CID: cid, ID: e3, Payload: []byte("carol")},
	}, true))
	require.NoError(t, src.Append([]*store.Record{
		{Type: store.RecTombstone, Seq: src.NextSeq(), CID: cid, ID: e3},
	}, true))

	data, err := Backup(src, newIndexes(), Options{}, 1700000000)
	require.NoError(t, err)

	info, err := ValidateBackup(data)
	require.NoError(t, err)
	require.True(t, info.Valid)
	require.Equal(t, uint64(1700000000), info.Timestamp)

	dst, err := store.Open("", nil)
	require.NoError(t, err)
	stats, err := Restore(dst, newIndexes(), data)
	require.NoError(t, err)
	require.Equal(t, uint64(2), stats.EntitiesRestored)
	require.Equal(t, uint64(0), stats.TombstonesApplied)

	dstCid, ok := dst.Collections().Lookup("users")
	require.True(t, ok)
	require.Equal(t, cid, dstCid)

	got1, ok := dst.Visibility().Get(dstCid, e1)
	require.True(t, ok)
	require.Equal(t, []byte("alice"), got1)
	got2, ok := dst.Visibility().Get(dstCid, e2)
	require.True(t, ok)
	require.Equal(t, []byte("bob"), got2)
	_, ok = dst.Visibility().Get(dstCid, e3)
	require.False(t, ok, "tombstoned entity must not be live on either side")
}

func TestBackupWithIncludeTombstonesCarriesThemForward(t *testing.T) {
	src, err := store.Open("", nil)
	require.NoError(t, err)
	cid, err := src.ResolveOrDeclareCollection("users", src.NextSeq(), true)
	require.NoError(t, err)
	id := identifier.New()
	require.NoError(t, src.Append([]*store.Record{
		{Type: store.RecPut, Seq: src.NextSeq(), CID: cid, ID: id, Payload: []byte("x")},
	}, true))
	require.NoError(t, src.Append([]*store.Record{
		{Type: store.RecTombstone, Seq: src.NextSeq(), CID: cid, ID: id},
	}, true))

	data, err := Backup(src, newIndexes(), Options{IncludeTombstones: true}, 1700000000)
	require.NoError(t, err)

	dst, err := store.Open("", nil)
	require.NoError(t, err)
	stats, err := Restore(dst, newIndexes(), data)
	require.NoError(t, err)
	require.Equal(t, uint64(0), stats.EntitiesRestored)
	require.Equal(t, uint64(1), stats.TombstonesApplied)
}

func TestValidateBackupRejectsCorruption(t *testing.T) {
	src, err := store.Open("", nil)
	require.NoError(t, err)
	data, err := Backup(src, newIndexes(), Options{}, 1700000000)
	require.NoError(t, err)

	corrupted := append([]byte(nil), data...)
	corrupted[len(corrupted)-1] ^= 0xFF
	_, err = ValidateBackup(corrupted)
	require.Error(t, err)

	truncated := data[:len(data)-5]
	_, err = ValidateBackup(truncated)
	require.Error(t, err)
}

func TestIndexDeclsSurviveRestore(t *testing.T) {
	src, err := store.Open("", nil)
	require.NoError(t, err)
	cid, err := src.ResolveOrDeclareCollection("users", src.NextSeq(), true)
	require.NoError(t, err)

	srcIdx := newIndexes()
	srcIdx.Hash.Create(cid, "email", true)
	srcIdx.Ordered.Create(cid, "created_at", false)
	srcIdx.FTS.Create(cid, "bio", 2, 32, false)

	data, err := Backup(src, srcIdx, Options{}, 1700000000)
	require.NoError(t, err)

	dst, err := store.Open("", nil)
	require.NoError(t, err)
	dstIdx := newIndexes()
	_, err = Restore(dst, dstIdx, data)
	require.NoError(t, err)

	require.True(t, dstIdx.Hash.Exists(cid, "email"))
	require.True(t, dstIdx.Ordered.Exists(cid, "created_at"))
	require.True(t, dstIdx.FTS.Exists(cid, "bio"))

	// Uniqueness flag must also have round-tripped.
	e1, e2 := identifier.New(), identifier.New()
	require.NoError(t, dstIdx.Hash.Insert(cid, "email", []byte("a@x"), e1))
	err = dstIdx.Hash.Insert(cid, "email", []byte("a@x"), e2)
	require.Error(t, err)
}
