package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func TestLoadMissingFileLeavesZeroValue(t *testing.T) {
	dir := t.TempDir()
	doc := NewDocument(filepath.Join(dir, "missing.json"))
	var recs []record
	doc.Load(&recs)
	assert.Empty(t, recs)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	doc := NewDocument(filepath.Join(dir, "crew.json"))
	want := []record{{Name: "bob", N: 4}, {Name: "alice", N: 2}}
	require.NoError(t, doc.Save(want))

	var got []record
	doc.Load(&got)
	assert.Equal(t, want, got)
}

func TestSaveIsAtomicNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	doc := NewDocument(filepath.Join(dir, "chores.json"))
	require.NoError(t, doc.Save([]record{{Name: "x"}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "chores.json", entries[0].Name())
}

func TestLoadCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	doc := NewDocument(path)
	var recs []record
	doc.Load(&recs)
	assert.Empty(t, recs)
}

func TestWithLockAllowsLoadMutateSave(t *testing.T) {
	dir := t.TempDir()
	doc := NewDocument(filepath.Join(dir, "crew.json"))
	require.NoError(t, doc.Save([]record{{Name: "bob", N: 1}}))

	doc.WithLock(func() {
		var recs []record
		doc.LoadLocked(&recs)
		recs = append(recs, record{Name: "alice", N: 2})
		require.NoError(t, doc.SaveLocked(recs))
	})

	var got []record
	doc.Load(&got)
	assert.Len(t, got, 2)
}
