package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/entidb/identifier"
)

func TestIndexInsertCommitsAtomicallyWithPrimaryWrite(t *testing.T) {
	mgr, st := newManager(t)
	cid, err := st.ResolveOrDeclareCollection("users", st.NextSeq(), true)
	require.NoError(t, err)
	mgr.hashIx.Create(cid, "email", true)

	id := identifier.New()
	tx := mgr.Begin()
	require.NoError(t, tx.Put(cid, id, []byte(`{"email":"a@x"}`)))
	require.NoError(t, tx.InsertHash(cid, "email", []byte("a@x"), id))
	require.NoError(t, tx.Commit())

	got, err := mgr.hashIx.Lookup(cid, "email", []byte("a@x"))
	require.NoError(t, err)
	require.Equal(t, []identifier.EntityId{id}, got)
}

func TestUniqueIndexViolationLeavesTransactionActiveWithNoResidue(t *testing.T) {
	mgr, st := newManager(t)
	cid, err := st.ResolveOrDeclareCollection("users", st.NextSeq(), true)
	require.NoError(t, err)
	mgr.hashIx.Create(cid, "email", true)

	e1 := identifier.New()
	require.NoError(t, mgr.hashIx.Insert(cid, "email", []byte("a@x"), e1))

	e2 := identifier.New()
	tx := mgr.Begin()
	require.NoError(t, tx.Put(cid, e2, []byte("second")))
	require.NoError(t, tx.InsertHash(cid, "email", []byte("a@x"), e2))
	err = tx.Commit()
	require.Error(t, err)
	require.Equal(t, Active, tx.State(), "a failed commit must leave the transaction active, not terminal")

	_, ok := st.Visibility().Get(cid, e2)
	require.False(t, ok, "the primary write must not have been applied when the paired index op failed")

	got, err := mgr.hashIx.Lookup(cid, "email", []byte("a@x"))
	require.NoError(t, err)
	require.Equal(t, []identifier.EntityId{e1}, got)
}

func TestAbortDiscardsBufferedIndexOpsWithoutApplyingThem(t *testing.T) {
	mgr, st := newManager(t)
	cid, err := st.ResolveOrDeclareCollection("users", st.NextSeq(), true)
	require.NoError(t, err)
	mgr.hashIx.Create(cid, "email", false)

	id := identifier.New()
	tx := mgr.Begin()
	require.NoError(t, tx.Put(cid, id, []byte("x")))
	require.NoError(t, tx.InsertHash(cid, "email", []byte("a@x"), id))
	require.NoError(t, tx.Abort())

	got, err := mgr.hashIx.Lookup(cid, "email", []byte("a@x"))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestFTSIndexTextBufferedInTransactionAppliesAtCommit(t *testing.T) {
	mgr, st := newManager(t)
	cid, err := st.ResolveOrDeclareCollection("articles", st.NextSeq(), true)
	require.NoError(t, err)
	mgr.ftsIx.Create(cid, "body", 2, 32, false)

	id := identifier.New()
	tx := mgr.Begin()
	require.NoError(t, tx.Put(cid, id, []byte("...")))
	require.NoError(t, tx.IndexText(cid, "body", id, "Hello world"))
	require.NoError(t, tx.Commit())

	got, err := mgr.ftsIx.Search(cid, "body", "hello")
	require.NoError(t, err)
	require.Equal(t, []identifier.EntityId{id}, got)
}
