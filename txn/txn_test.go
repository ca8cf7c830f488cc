package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/entidb/identifier"
	"github.com/cuemby/entidb/index/fts"
	"github.com/cuemby/entidb/index/hash"
	"github.com/cuemby/entidb/index/ordered"
	"github.com/cuemby/entidb/internal/store"
)

func newManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open("", nil)
	require.NoError(t, err)
	return NewManager(st, hash.New(), ordered.New(), fts.New()), st
}

func TestBeginPinsSeqReadAndStartsActive(t *testing.T) {
	mgr, _ := newManager(t)
	tx := mgr.Begin()
	require.Equal(t, Active, tx.State())
	require.Equal(t, uint64(0), tx.SeqRead())
}

func TestPutVisibleOnlyWithinOwnTransaction(t *testing.T) {
	mgr, st := newManager(t)
	cid, err := st.ResolveOrDeclareCollection("widgets", st.NextSeq(), true)
	require.NoError(t, err)
	id := identifier.New()

	tx1 := mgr.Begin()
	require.NoError(t, tx1.Put(cid, id, []byte("v1")))

	got, ok, err := tx1.Get(cid, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got)

	tx2 := mgr.Begin()
	_, ok, err = tx2.Get(cid, id)
	require.NoError(t, err)
	require.False(t, ok, "uncommitted write must not be visible to another transaction")
}

func TestCommitPublishesToVisibilityMap(t *testing.T) {
	mgr, st := newManager(t)
	cid, err := st.ResolveOrDeclareCollection("widgets", st.NextSeq(), true)
	require.NoError(t, err)
	id := identifier.New()

	tx := mgr.Begin()
	require.NoError(t, tx.Put(cid, id, []byte("v1")))
	require.NoError(t, tx.Commit())
	require.Equal(t, Committed, tx.State())

	got, ok := st.Visibility().Get(cid, id)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got)

	tx2 := mgr.Begin()
	got2, ok, err := tx2.Get(cid, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got2)
}

func TestTombstoneShadowsCommittedPutWithinSameTransaction(t *testing.T) {
	mgr, st := newManager(t)
	cid, err := st.ResolveOrDeclareCollection("widgets", st.NextSeq(), true)
	require.NoError(t, err)
	id := identifier.New()

	seed := mgr.Begin()
	require.NoError(t, seed.Put(cid, id, []byte("v1")))
	require.NoError(t, seed.Commit())

	tx := mgr.Begin()
	require.NoError(t, tx.Delete(cid, id))
	_, ok, err := tx.Get(cid, id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAbortDiscardsBufferWithoutLogRecords(t *testing.T) {
	mgr, st := newManager(t)
	cid, err := st.ResolveOrDeclareCollection("widgets", st.NextSeq(), true)
	require.NoError(t, err)
	id := identifier.New()
	seqBefore := st.CommittedSeq()

	tx := mgr.Begin()
	require.NoError(t, tx.Put(cid, id, []byte("v1")))
	require.NoError(t, tx.Abort())
	require.Equal(t, Aborted, tx.State())

	_, ok := st.Visibility().Get(cid, id)
	require.False(t, ok)
	require.Equal(t, seqBefore, st.CommittedSeq())
}

func TestOperationsAfterTerminalStateFail(t *testing.T) {
	mgr, _ := newManager(t)
	tx := mgr.Begin()
	require.NoError(t, tx.Commit())

	require.Error(t, tx.Commit())
	require.Error(t, tx.Abort())
	require.Error(t, tx.Put(0, identifier.New(), []byte("x")))
}

func TestLastWriterWinsAcrossSerializedCommits(t *testing.T) {
	mgr, st := newManager(t)
	cid, err := st.ResolveOrDeclareCollection("widgets", st.NextSeq(), true)
	require.NoError(t, err)
	id := identifier.New()

	tx1 := mgr.Begin()
	require.NoError(t, tx1.Put(cid, id, []byte("first")))
	require.NoError(t, tx1.Commit())

	tx2 := mgr.Begin()
	require.NoError(t, tx2.Put(cid, id, []byte("second")))
	require.NoError(t, tx2.Commit())

	got, ok := st.Visibility().Get(cid, id)
	require.True(t, ok)
	require.Equal(t, []byte("second"), got)
}
