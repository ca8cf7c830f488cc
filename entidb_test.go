package entidb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/entidb/backup"
	"github.com/cuemby/entidb/identifier"
)

func openMemory(t *testing.T) *Database {
	t.Helper()
	db, err := Open("test", Options{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	db := openMemory(t)
	cid, err := db.Collection("widgets")
	require.NoError(t, err)

	id := identifier.New()
	require.NoError(t, db.Put(cid, id, []byte("v1")))

	got, ok := db.Get(cid, id)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got)
	require.Equal(t, 1, db.Count(cid))

	require.NoError(t, db.Delete(cid, id))
	_, ok = db.Get(cid, id)
	require.False(t, ok)
	require.Equal(t, 0, db.Count(cid))
}

func TestCollectionDeclaresOnFirstUseAndIsIdempotent(t *testing.T) {
	db := openMemory(t)
	cid1, err := db.Collection("widgets")
	require.NoError(t, err)
	cid2, err := db.Collection("widgets")
	require.NoError(t, err)
	require.Equal(t, cid1, cid2)
}

func TestHashIndexUniqueConstraintRejectsDuplicateAsOneShotTransaction(t *testing.T) {
	db := openMemory(t)
	cid, err := db.Collection("users")
	require.NoError(t, err)
	db.CreateHashIndex(cid, "email", true)

	e1 := identifier.New()
	require.NoError(t, db.InsertHash(cid, "email", []byte("a@x"), e1))

	e2 := identifier.New()
	require.Error(t, db.InsertHash(cid, "email", []byte("a@x"), e2))

	got, err := db.LookupHash(cid, "email", []byte("a@x"))
	require.NoError(t, err)
	require.Equal(t, []identifier.EntityId{e1}, got)
}

func TestOrderedIndexRange(t *testing.T) {
	db := openMemory(t)
	cid, err := db.Collection("events")
	require.NoError(t, err)
	db.CreateOrderedIndex(cid, "ts", false)

	e1, e2, e3 := identifier.New(), identifier.New(), identifier.New()
	require.NoError(t, db.InsertOrdered(cid, "ts", []byte("100"), e1))
	require.NoError(t, db.InsertOrdered(cid, "ts", []byte("200"), e2))
	require.NoError(t, db.InsertOrdered(cid, "ts", []byte("300"), e3))

	got, err := db.RangeOrdered(cid, "ts", []byte("100"), []byte("200"))
	require.NoError(t, err)
	require.ElementsMatch(t, []identifier.EntityId{e1, e2}, got)
}

func TestFTSIndexTextAndSearch(t *testing.T) {
	db := openMemory(t)
	cid, err := db.Collection("articles")
	require.NoError(t, err)
	db.CreateFTSIndex(cid, "body", 2, 32, false)

	id := identifier.New()
	require.NoError(t, db.IndexText(cid, "body", id, "Hello distributed world"))

	got, err := db.SearchFTS(cid, "body", "hello world")
	require.NoError(t, err)
	require.Equal(t, []identifier.EntityId{id}, got)

	require.NoError(t, db.RemoveEntityFTS(cid, "body", id))
	got, err = db.SearchFTS(cid, "body", "hello")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestExplicitTransactionPairsPutWithIndexInsertAtomically(t *testing.T) {
	db := openMemory(t)
	cid, err := db.Collection("users")
	require.NoError(t, err)
	db.CreateHashIndex(cid, "email", true)

	id := identifier.New()
	tx := db.Begin()
	require.NoError(t, tx.Put(cid, id, []byte(`{"email":"a@x"}`)))
	require.NoError(t, tx.InsertHash(cid, "email", []byte("a@x"), id))
	require.NoError(t, tx.Commit())

	payload, ok := db.Get(cid, id)
	require.True(t, ok)
	require.Equal(t, []byte(`{"email":"a@x"}`), payload)

	got, err := db.LookupHash(cid, "email", []byte("a@x"))
	require.NoError(t, err)
	require.Equal(t, []identifier.EntityId{id}, got)
}

func TestCheckpointPreservesVisibleState(t *testing.T) {
	dir := t.TempDir()
	db, err := Open("test", Options{Dir: dir})
	require.NoError(t, err)

	cid, err := db.Collection("widgets")
	require.NoError(t, err)
	id := identifier.New()
	require.NoError(t, db.Put(cid, id, []byte("v1")))
	require.NoError(t, db.Checkpoint())

	got, ok := db.Get(cid, id)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got)
	require.NoError(t, db.Close())

	reopened, err := Open("test", Options{Dir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	cid2, err := reopened.Collection("widgets")
	require.NoError(t, err)
	got2, ok := reopened.Get(cid2, id)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got2)
}

func TestBackupRestoreRoundTripsThroughFacade(t *testing.T) {
	src := openMemory(t)
	cid, err := src.Collection("widgets")
	require.NoError(t, err)
	id := identifier.New()
	require.NoError(t, src.Put(cid, id, []byte("v1")))

	data, err := src.Backup(backup.Options{}, 1700000000)
	require.NoError(t, err)

	dst := openMemory(t)
	stats, err := dst.Restore(data)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.EntitiesRestored)

	got, ok := dst.Get(cid, id)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got)
}

func TestCreateFTSIndexFallsBackToConfiguredDefaults(t *testing.T) {
	db := openMemory(t)
	cid, err := db.Collection("articles")
	require.NoError(t, err)

	// minTokenLen/maxTokenLen <= 0 should fall back to the configured
	// defaults (config.Defaults(): min 2, max 64) rather than indexing
	// with a zero-length bound.
	db.CreateFTSIndex(cid, "body", 0, 0, false)

	id := identifier.New()
	require.NoError(t, db.IndexText(cid, "body", id, "a distributed system"))

	got, err := db.SearchFTS(cid, "body", "distributed")
	require.NoError(t, err)
	require.Equal(t, []identifier.EntityId{id}, got)

	got, err = db.SearchFTS(cid, "body", "a")
	require.NoError(t, err)
	require.Empty(t, got, "single-letter token is below the default min token length")
}

func TestDeriveKeyIsUsableForEncryptDecrypt(t *testing.T) {
	db := openMemory(t)
	salt := make([]byte, 16)

	mgr, err := db.DeriveKey("hunter2", salt)
	require.NoError(t, err)

	ct, err := mgr.Encrypt([]byte("secret payload"))
	require.NoError(t, err)
	pt, err := mgr.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, []byte("secret payload"), pt)
}

func TestClosedDatabaseRejectsMutation(t *testing.T) {
	db := openMemory(t)
	cid, err := db.Collection("widgets")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.Error(t, db.Put(cid, identifier.New(), []byte("x")))
	require.NoError(t, db.Close(), "double close must be a no-op")
}
