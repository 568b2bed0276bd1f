package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hugodecasta/captain/internal/chore"
	"github.com/hugodecasta/captain/internal/control"
	"github.com/hugodecasta/captain/internal/crew"
	"github.com/hugodecasta/captain/internal/sailorclient"
	"github.com/hugodecasta/captain/internal/types"
	"github.com/hugodecasta/captain/internal/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()
	dir := t.TempDir()
	crewReg := crew.New(filepath.Join(dir, "crew.json"), crew.DefaultHeartbeatTimeout)
	choreReg := chore.New(filepath.Join(dir, "chores.json"))
	userReg := user.New(filepath.Join(dir, "users.json"))
	loop := control.New(crewReg, choreReg, userReg, sailorclient.New(sailorclient.DefaultTimeout))
	return &API{Crew: crewReg, Chores: choreReg, Users: userReg, Loop: loop}
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Router(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitChoreThenListChores(t *testing.T) {
	api := newTestAPI(t)
	router := api.Router()

	rec := doJSON(t, router, http.MethodPost, "/chore", map[string]any{
		"owner": "1000", "script": "/x.sh",
		"configuration": map[string]any{"cpus": 1},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, chore.FirstChoreID, resp["chore_id"])

	rec = doJSON(t, router, http.MethodGet, "/api/chores/", nil)
	var chores []types.Chore
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chores))
	require.Len(t, chores, 1)
	assert.Equal(t, "1000", chores[0].Owner)
}

func TestSubmitChoreRejectsOverQuota(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, api.Users.Set(types.User{UID: "1000", ChoresLimit: 1}))
	router := api.Router()

	body := map[string]any{"owner": "1000", "script": "/x.sh", "configuration": map[string]any{"cpus": 1}}
	rec := doJSON(t, router, http.MethodPost, "/chore", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/chore", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCancelUnknownChoreReturns404(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Router(), http.MethodPost, "/cancel", map[string]any{"chore_id": 999})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelTerminalChoreReturns409(t *testing.T) {
	api := newTestAPI(t)
	c, err := api.Chores.Submit("1000", "/x.sh", types.Configuration{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, api.Chores.Cancel(c.ChoreID, "canceled by user", time.Now()))

	rec := doJSON(t, api.Router(), http.MethodPost, "/cancel", map[string]any{"chore_id": c.ChoreID})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPreregisterThenListCrew(t *testing.T) {
	api := newTestAPI(t)
	router := api.Router()

	rec := doJSON(t, router, http.MethodPost, "/prereg", map[string]any{
		"name": "bob", "ip": "10.0.0.5", "services": []string{"GPU"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/crew", nil)
	var views []types.SailorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "bob", views[0].Name)
	assert.Equal(t, "10.0.0.5", views[0].IP)
}

func TestPreregisterParsesBareIPWithPort(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Router(), http.MethodPost, "/prereg", map[string]any{
		"name": "bob", "ip": "10.0.0.5:9000",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got, ok := api.Crew.Get("bob")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", got.IP)
	assert.Equal(t, 9000, got.Port)
}

func TestDeregisterUnknownSailor(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Router(), http.MethodDelete, "/crew/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeregisterBusySailorWithoutForce(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, api.Crew.Preregister(types.Sailor{Name: "bob", CPUs: 4}))
	require.NoError(t, api.Crew.Heartbeat("bob", 2, 0, time.Now()))

	rec := doJSON(t, api.Router(), http.MethodDelete, "/crew/bob", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHeartbeatUnknownSailorReturns404(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Router(), http.MethodPost, "/heartbeat", map[string]any{"name": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHeartbeatDeliversQueuedAssign(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, api.Crew.Preregister(types.Sailor{Name: "bob", CPUs: 4}))
	c, err := api.Chores.Submit("1000", "/x.sh", types.Configuration{CPUs: 1}, time.Now())
	require.NoError(t, err)
	require.NoError(t, api.Chores.Assign(c.ChoreID, "bob", time.Now()))
	api.Loop.Queue.QueueAssign("bob", c.ChoreID)

	rec := doJSON(t, api.Router(), http.MethodPost, "/heartbeat", map[string]any{
		"name": "bob", "cpus": 4, "gpus": 0, "used_cpus": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Assign []types.Chore `json:"assign"`
		Cancel []int         `json:"cancel"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Assign, 1)
	assert.Equal(t, c.ChoreID, resp.Assign[0].ChoreID)
}

func TestHeartbeatRunningReportMarksChoreRunning(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, api.Crew.Preregister(types.Sailor{Name: "bob", CPUs: 4}))
	c, err := api.Chores.Submit("1000", "/x.sh", types.Configuration{CPUs: 1}, time.Now())
	require.NoError(t, err)
	require.NoError(t, api.Chores.Assign(c.ChoreID, "bob", time.Now()))

	rec := doJSON(t, api.Router(), http.MethodPost, "/heartbeat", map[string]any{
		"name": "bob", "cpus": 4, "used_cpus": 1,
		"running": []map[string]any{{"chore_id": c.ChoreID, "pid": 4242}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got, _ := api.Chores.Get(c.ChoreID)
	assert.Equal(t, types.ChoreRunning, got.Status)
	assert.Equal(t, 4242, got.PID)
}

func TestUserSetThenList(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Router(), http.MethodPost, "/user-set", map[string]any{"uid": "1000", "chores_limit": 3})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, api.Router(), http.MethodGet, "/users", nil)
	var users []types.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, 3, users[0].ChoresLimit)
}
