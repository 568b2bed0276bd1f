package crew

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
	return New(filepath.Join(t.TempDir(), "crew.json"), DefaultHeartbeatTimeout)
}

func TestPreregisterRejectsEmptyName(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Preregister(types.Sailor{CPUs: 4})
	assert.Error(t, err)
}

func TestPreregisterRejectsBadMaxTime(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Preregister(types.Sailor{Name: "bob", MaxTime: "nope"})
	assert.Error(t, err)
}

func TestPreregisterThenGet(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Preregister(types.Sailor{Name: "bob", CPUs: 8, GPUs: 1}))

	got, ok := r.Get("bob")
	require.True(t, ok)
	assert.Equal(t, 8, got.CPUs)
}

func TestReregisterResetsUsageButKeepsLastSeen(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Now()
	require.NoError(t, r.Preregister(types.Sailor{Name: "bob", CPUs: 8}))
	require.NoError(t, r.Heartbeat("bob", 4, 0, now))

	require.NoError(t, r.Preregister(types.Sailor{Name: "bob", CPUs: 16}))
	got, ok := r.Get("bob")
	require.True(t, ok)
	assert.Equal(t, 0, got.UsedCPUs)
	assert.Equal(t, now.Unix(), got.LastSeen)
}

func TestHeartbeatUnknownSailor(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Heartbeat("ghost", 0, 0, time.Now())
	assert.ErrorIs(t, err, ErrUnknownSailor)
}

func TestDeriveStatus(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		s    types.Sailor
		want types.SailorStatus
	}{
		{"down", types.Sailor{LastSeen: now.Add(-time.Hour).Unix()}, types.StatusDown},
		{"ready", types.Sailor{LastSeen: now.Unix(), CPUs: 4}, types.StatusReady},
		{"working", types.Sailor{LastSeen: now.Unix(), CPUs: 4, UsedCPUs: 1}, types.StatusWorking},
		{"full", types.Sailor{LastSeen: now.Unix(), CPUs: 4, UsedCPUs: 4}, types.StatusFull},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, DeriveStatus(c.s, now, DefaultHeartbeatTimeout), c.name)
	}
}

func TestFitFiltersByCapacityAndStatus(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Now()
	require.NoError(t, r.Preregister(types.Sailor{Name: "bob", CPUs: 4, GPUs: 1}))
	require.NoError(t, r.Preregister(types.Sailor{Name: "full", CPUs: 2}))
	require.NoError(t, r.Heartbeat("bob", 0, 0, now))
	require.NoError(t, r.Heartbeat("full", 2, 0, now))

	fits := r.Fit(2, 0, "", "", now)
	var names []string
	for _, s := range fits {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "bob")
	assert.NotContains(t, names, "full")
}

func TestFitExcludesDown(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Preregister(types.Sailor{Name: "stale", CPUs: 8}))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, r.Heartbeat("stale", 0, 0, old))

	fits := r.Fit(1, 0, "", "", time.Now())
	assert.Empty(t, fits)
}

func TestApplyUsageDeltaClampsAtZero(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Preregister(types.Sailor{Name: "bob", CPUs: 4}))
	require.NoError(t, r.ApplyUsageDelta("bob", -5, -5))

	got, _ := r.Get("bob")
	assert.Equal(t, 0, got.UsedCPUs)
	assert.Equal(t, 0, got.UsedGPUs)
}

func TestDeregisterBusyRequiresForce(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Preregister(types.Sailor{Name: "bob", CPUs: 4}))
	require.NoError(t, r.Heartbeat("bob", 2, 0, time.Now()))

	err := r.Deregister("bob", false)
	assert.ErrorIs(t, err, ErrSailorBusy)

	require.NoError(t, r.Deregister("bob", true))
	_, ok := r.Get("bob")
	assert.False(t, ok)
}

func TestDeregisterUnknown(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Deregister("ghost", false)
	assert.ErrorIs(t, err, ErrUnknownSailor)
}
