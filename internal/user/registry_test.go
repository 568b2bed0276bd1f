package user

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hugodecasta/captain/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "users.json"))
}

func TestSetRejectsInvalid(t *testing.T) {
	r := newTestRegistry(t)
	assert.Error(t, r.Set(types.User{}))
	assert.Error(t, r.Set(types.User{UID: "1000", ChoresLimit: -1}))
	assert.Error(t, r.Set(types.User{UID: "1000", TimeLimit: "nope"}))
}

func TestSetUpsert(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Set(types.User{UID: "1000", ChoresLimit: 2}))
	require.NoError(t, r.Set(types.User{UID: "1000", ChoresLimit: 5}))

	got, ok := r.Get("1000")
	require.True(t, ok)
	assert.Equal(t, 5, got.ChoresLimit)
	assert.Len(t, r.List(), 1)
}

func TestCheckSubmitUnlimitedByDefault(t *testing.T) {
	r := newTestRegistry(t)
	assert.True(t, r.CheckSubmit("ghost", 1000))
}

func TestCheckSubmitEnforcesLimit(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Set(types.User{UID: "1000", ChoresLimit: 2}))

	assert.True(t, r.CheckSubmit("1000", 1))
	assert.False(t, r.CheckSubmit("1000", 2))
}

func TestExcessByTimeNoLimitReturnsNil(t *testing.T) {
	assert.Nil(t, ExcessByTime(nil, 0, time.Now()))
}

func TestExcessByTimeCancelsNewestFirst(t *testing.T) {
	now := time.Now()
	older := types.Chore{ChoreID: 1, SubmitTime: now.Add(-6 * time.Minute).Unix()}
	newer := types.Chore{ChoreID: 2, SubmitTime: now.Add(-5 * time.Minute).Unix()}

	toCancel := ExcessByTime([]types.Chore{older, newer}, 600, now)
	require.Len(t, toCancel, 1)
	assert.Equal(t, newer.ChoreID, toCancel[0].ChoreID)
}

func TestExcessByTimeUnderLimitCancelsNothing(t *testing.T) {
	now := time.Now()
	c := types.Chore{ChoreID: 1, SubmitTime: now.Add(-5 * time.Minute).Unix()}
	assert.Empty(t, ExcessByTime([]types.Chore{c}, 600, now))
}
