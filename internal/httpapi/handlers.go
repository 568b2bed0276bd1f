package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hugodecasta/captain/internal/chore"
	"github.com/hugodecasta/captain/internal/crew"
	"github.com/hugodecasta/captain/internal/types"
	"github.com/hugodecasta/captain/pkg/metrics"
)

const requestTimeout = 10 * time.Second

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": http.StatusText(status), "message": message})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeOK(w)
}

func (a *API) handleListCrew(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Crew.List(time.Now()))
}

func (a *API) handleListChores(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeJSON(w, http.StatusOK, a.Chores.List())
		return
	}
	writeJSON(w, http.StatusOK, a.Chores.ListByOwner(owner))
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Users.List())
}

type submitChoreRequest struct {
	Owner         string               `json:"owner"`
	Script        string               `json:"script"`
	Configuration types.Configuration `json:"configuration"`
}

func (a *API) handleSubmitChore(w http.ResponseWriter, r *http.Request) {
	var req submitChoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Owner == "" || req.Script == "" {
		writeError(w, http.StatusBadRequest, "owner and script are required")
		return
	}

	activeCount := len(a.Chores.ActiveByOwner(req.Owner))
	if ok := a.Users.CheckSubmit(req.Owner, activeCount); !ok {
		metrics.ChoresRejectedTotal.WithLabelValues("chores_limit").Inc()
		writeError(w, http.StatusForbidden, "chores_limit exceeded")
		return
	}

	created, err := a.Chores.Submit(req.Owner, req.Script, req.Configuration, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.ChoresSubmittedTotal.Inc()
	writeJSON(w, http.StatusOK, map[string]int{"chore_id": created.ChoreID})
}

type cancelChoreRequest struct {
	ChoreID int    `json:"chore_id"`
	Reason  string `json:"reason"`
}

func (a *API) handleCancelChore(w http.ResponseWriter, r *http.Request) {
	var req cancelChoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ChoreID == 0 {
		writeError(w, http.StatusBadRequest, "chore_id is required")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = types.ReasonCanceledByUser
	}

	c, ok := a.Chores.Get(req.ChoreID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown chore")
		return
	}
	if c.Status.Terminal() {
		writeError(w, http.StatusConflict, "chore already in a terminal status")
		return
	}

	if err := a.Chores.Cancel(req.ChoreID, reason, time.Now()); err != nil {
		var transErr *chore.ErrInvalidTransition
		if ok := asInvalidTransition(err, &transErr); ok {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to persist cancellation")
		return
	}

	// Delivery to the sailor is best-effort: fire the cancel RPC and queue
	// it for heartbeat redelivery regardless of outcome, per §4.8.
	if c.Sailor != "" {
		if sailor, ok := a.Crew.Get(c.Sailor); ok {
			go a.Loop.Client.Cancel(r.Context(), sailor, req.ChoreID, reason)
			a.Loop.Queue.QueueCancel(c.Sailor, req.ChoreID, reason)
		}
	}

	writeOK(w)
}

func asInvalidTransition(err error, target **chore.ErrInvalidTransition) bool {
	t, ok := err.(*chore.ErrInvalidTransition)
	if ok {
		*target = t
	}
	return ok
}

type preregRequest struct {
	Name     string   `json:"name"`
	IP       string   `json:"ip"`
	Port     int      `json:"port"`
	Services []string `json:"services"`
	MaxTime  string   `json:"max_time"`
}

// parseIP resolves the §9 open question: a bare "host:port" string is split,
// otherwise the separate port field (possibly zero, meaning "unknown until
// first heartbeat") is used as-is.
func parseIP(ip string, port int) (string, int) {
	if idx := strings.LastIndex(ip, ":"); idx >= 0 {
		if p, err := strconv.Atoi(ip[idx+1:]); err == nil {
			return ip[:idx], p
		}
	}
	return ip, port
}

func (a *API) handlePreregister(w http.ResponseWriter, r *http.Request) {
	var req preregRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	host, port := parseIP(req.IP, req.Port)
	sailor := types.Sailor{
		Name:     req.Name,
		IP:       host,
		Port:     port,
		Services: req.Services,
		MaxTime:  req.MaxTime,
	}
	if err := a.Crew.Preregister(sailor); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w)
}

func (a *API) handleDeregisterSailor(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	force := r.URL.Query().Get("force") == "true"

	err := a.Crew.Deregister(name, force)
	switch {
	case err == nil:
		writeOK(w)
	case err == crew.ErrUnknownSailor:
		writeError(w, http.StatusNotFound, "unknown sailor")
	case err == crew.ErrSailorBusy:
		writeError(w, http.StatusConflict, "sailor holds active chores")
	default:
		writeError(w, http.StatusInternalServerError, "failed to deregister sailor")
	}
}

type runningReport struct {
	ChoreID int    `json:"chore_id"`
	PID     int    `json:"pid"`
	Status  string `json:"status"`
	Infos   string `json:"infos"`
	Exit    *int   `json:"exit"`
}

type heartbeatRequest struct {
	Name     string          `json:"name"`
	CPUs     int             `json:"cpus"`
	GPUs     int             `json:"gpus"`
	RAM      int             `json:"ram"`
	UsedCPUs int             `json:"used_cpus"`
	UsedGPUs int             `json:"used_gpus"`
	Running  []runningReport `json:"running"`
}

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	now := time.Now()
	existing, ok := a.Crew.Get(req.Name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown sailor")
		return
	}
	// capacity is advertised by the sailor itself, not at preregistration
	// time, so the first (and every) heartbeat carries it forward.
	if existing.CPUs != req.CPUs || existing.GPUs != req.GPUs || existing.RAM != req.RAM {
		existing.CPUs, existing.GPUs, existing.RAM = req.CPUs, req.GPUs, req.RAM
		a.Crew.Preregister(existing)
	}
	if err := a.Crew.Heartbeat(req.Name, req.UsedCPUs, req.UsedGPUs, now); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record heartbeat")
		return
	}

	for _, run := range req.Running {
		a.applyRunningReport(req.Name, run, now)
	}

	assignIDs := a.Loop.Queue.PendingAssignIDs(req.Name)
	var assigns []types.Chore
	for _, id := range assignIDs {
		if c, ok := a.Chores.Get(id); ok && c.Status == types.ChoreAssigned {
			assigns = append(assigns, c)
		} else {
			a.Loop.Queue.AckAssign(req.Name, id)
		}
	}
	cancels := a.Loop.Queue.PendingCancels(req.Name)
	cancelIDs := make([]int, 0, len(cancels))
	for _, c := range cancels {
		cancelIDs = append(cancelIDs, c.ChoreID)
	}

	writeJSON(w, http.StatusOK, map[string]any{"assign": assigns, "cancel": cancelIDs})
}

// isErrorStatus reports whether a sailor's running.status line itself
// signals failure, independent of the exit code (§4.4's "sailor reports
// error" trigger covers a chore that never produced an exit code at all).
func isErrorStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "error", "failed":
		return true
	}
	return false
}

func (a *API) applyRunningReport(sailorName string, run runningReport, now time.Time) {
	c, ok := a.Chores.Get(run.ChoreID)
	if !ok || !c.Status.Active() {
		return
	}
	switch {
	case run.Exit != nil && *run.Exit == 0:
		a.Chores.Complete(run.ChoreID, run.Infos, now)
		metrics.ChoresTerminatedTotal.WithLabelValues(string(types.ChoreCompleted), "").Inc()
	case (run.Exit != nil && *run.Exit != 0) || isErrorStatus(run.Status):
		reason := run.Status
		if reason == "" {
			reason = "sailor reported error"
		}
		a.Chores.Fail(run.ChoreID, reason, run.Infos, now)
		metrics.ChoresTerminatedTotal.WithLabelValues(string(types.ChoreFailed), reason).Inc()
	case run.PID != 0 && c.Status == types.ChoreAssigned:
		a.Chores.MarkRunning(run.ChoreID, run.PID, now)
	}
	a.Loop.Queue.AckAssign(sailorName, run.ChoreID)
}

type userSetRequest struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	ChoresLimit int    `json:"chores_limit"`
	TimeLimit   string `json:"time_limit"`
	Notes       string `json:"notes"`
}

func (a *API) handleUserSet(w http.ResponseWriter, r *http.Request) {
	var req userSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	u := types.User{UID: req.UID, Name: req.Name, ChoresLimit: req.ChoresLimit, TimeLimit: req.TimeLimit, Notes: req.Notes}
	if err := a.Users.Set(u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w)
}
