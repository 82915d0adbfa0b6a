package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemDB(t *testing.T) *LevelDB {
	db, err := OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLevelDBNotFound(t *testing.T) {
	db := newMemDB(t)

	_, err := db.Get([]byte("missing"))
	assert.True(t, IsNotFound(err))

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestStageReadsOwnWrites(t *testing.T) {
	db := newMemDB(t)
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("b"), []byte("2")))

	s := NewStage(db)
	require.NoError(t, s.Put([]byte("a"), []byte("10")))
	require.NoError(t, s.Delete([]byte("b")))
	require.NoError(t, s.Put([]byte("c"), []byte("3")))

	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("10"), v)

	_, err = s.Get([]byte("b"))
	assert.True(t, IsNotFound(err))
	has, err := s.Has([]byte("b"))
	require.NoError(t, err)
	assert.False(t, has)

	// base untouched until commit
	v, err = db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	_, err = db.Get([]byte("c"))
	assert.True(t, IsNotFound(err))
}

func TestStageCommit(t *testing.T) {
	db := newMemDB(t)
	require.NoError(t, db.Put([]byte("b"), []byte("2")))

	s := NewStage(db)
	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Delete([]byte("b")))
	assert.True(t, s.Dirty())

	require.NoError(t, s.Commit())
	assert.False(t, s.Dirty())

	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	_, err = db.Get([]byte("b"))
	assert.True(t, IsNotFound(err))
}

func TestStageDiscard(t *testing.T) {
	db := newMemDB(t)

	s := NewStage(db)
	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	s.Discard()
	assert.False(t, s.Dirty())
	require.NoError(t, s.Commit())

	_, err := db.Get([]byte("a"))
	assert.True(t, IsNotFound(err))
}

func TestStageCopiesValues(t *testing.T) {
	db := newMemDB(t)
	s := NewStage(db)

	val := []byte("abc")
	require.NoError(t, s.Put([]byte("k"), val))
	val[0] = 'x'

	got, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

type record struct {
	Name  string
	Value uint64
}

func TestTableRLP(t *testing.T) {
	db := newMemDB(t)
	a := NewTable(db, "a/")
	b := NewTable(db, "b/")

	require.NoError(t, a.PutRLP([]byte("k"), &record{Name: "one", Value: 1}))

	var got record
	require.NoError(t, a.GetRLP([]byte("k"), &got))
	assert.Equal(t, record{Name: "one", Value: 1}, got)

	err := b.GetRLP([]byte("k"), &got)
	assert.True(t, IsNotFound(err))

	raw, err := db.Get([]byte("a/k"))
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
}

func TestTableDecodeError(t *testing.T) {
	db := newMemDB(t)
	tbl := NewTable(db, "t/")
	require.NoError(t, tbl.Put([]byte("k"), []byte{0xff, 0x01}))

	var got record
	err := tbl.GetRLP([]byte("k"), &got)
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}
