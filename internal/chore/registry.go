// Package chore manages the chore table: ID allocation, submission,
// status-transition validation, and the reason string carried on every
// chore.
package chore

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/hugodecasta/captain/internal/store"
	"github.com/hugodecasta/captain/internal/types"
	"github.com/hugodecasta/captain/pkg/log"
)

// FirstChoreID is the floor every allocated chore_id respects, giving every
// chore a nine-digit display form.
const FirstChoreID = 100_000_000

// withAdvisoryEnv layers the fixed CAPTAIN_CHORE_* advisory variables under
// whatever the submitter already supplied in configuration.env, without
// letting the submitter override them.
func withAdvisoryEnv(submitted map[string]string, choreID, cpus, gpus int) map[string]string {
	env := make(map[string]string, len(submitted)+3)
	for k, v := range submitted {
		env[k] = v
	}
	env["CAPTAIN_CHORE_ID"] = strconv.Itoa(choreID)
	env["CAPTAIN_CHORE_CPUS"] = strconv.Itoa(cpus)
	env["CAPTAIN_CHORE_GPUS"] = strconv.Itoa(gpus)
	return env
}

// Registry is the in-memory, disk-backed table of chores. chores.json is a
// JSON object keyed by chore_id (as a decimal string), not an array.
type Registry struct {
	doc *store.Document
}

// New returns a Registry backed by the given chores.json path.
func New(path string) *Registry {
	return &Registry{doc: store.NewDocument(path)}
}

func (r *Registry) load() map[string]types.Chore {
	chores := map[string]types.Chore{}
	r.doc.LoadLocked(&chores)
	return chores
}

func nextID(chores map[string]types.Chore) int {
	max := FirstChoreID - 1
	for _, c := range chores {
		if c.ChoreID > max {
			max = c.ChoreID
		}
	}
	return max + 1
}

// Submit allocates an ID and appends a new PENDING chore. The caller is
// responsible for quota checks before calling Submit.
func (r *Registry) Submit(owner, script string, cfg types.Configuration, now time.Time) (types.Chore, error) {
	if owner == "" || script == "" {
		return types.Chore{}, fmt.Errorf("chore: owner and script are required")
	}
	if cfg.CPUs < 0 || cfg.GPUs < 0 {
		return types.Chore{}, fmt.Errorf("chore: cpus and gpus must be non-negative")
	}
	var created types.Chore
	var err error
	r.doc.WithLock(func() {
		chores := r.load()
		created = types.Chore{
			ChoreID:       nextID(chores),
			Owner:         owner,
			Script:        script,
			Configuration: cfg,
			Status:        types.ChorePending,
			Reason:        types.ReasonNoSailor,
			SubmitTime:    now.Unix(),
		}
		chores[strconv.Itoa(created.ChoreID)] = created
		err = r.doc.SaveLocked(chores)
	})
	if err != nil {
		return types.Chore{}, err
	}
	log.WithChoreID(created.ChoreID).Info().Str("owner", owner).Msg("chore submitted")
	return created, nil
}

// Get returns a single chore by ID.
func (r *Registry) Get(id int) (types.Chore, bool) {
	var chores map[string]types.Chore
	r.doc.WithLock(func() {
		chores = r.load()
	})
	c, ok := chores[strconv.Itoa(id)]
	return c, ok
}

// List returns every chore ever submitted, ordered by ascending chore_id.
func (r *Registry) List() []types.Chore {
	var chores map[string]types.Chore
	r.doc.WithLock(func() {
		chores = r.load()
	})
	out := make([]types.Chore, 0, len(chores))
	for _, c := range chores {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChoreID < out[j].ChoreID })
	return out
}

// ListByOwner returns an owner's chores, ordered by ascending chore_id.
func (r *Registry) ListByOwner(owner string) []types.Chore {
	all := r.List()
	var out []types.Chore
	for _, c := range all {
		if c.Owner == owner {
			out = append(out, c)
		}
	}
	return out
}

// ListPendingSorted returns PENDING chores in FIFO (ascending chore_id) order.
func (r *Registry) ListPendingSorted() []types.Chore {
	var out []types.Chore
	for _, c := range r.List() {
		if c.Status == types.ChorePending {
			out = append(out, c)
		}
	}
	return out
}

// ActiveBySailor returns every active chore currently assigned to sailor.
func (r *Registry) ActiveBySailor(sailor string) []types.Chore {
	var out []types.Chore
	for _, c := range r.List() {
		if c.Sailor == sailor && c.Status.Active() {
			out = append(out, c)
		}
	}
	return out
}

// ActiveByOwner returns every active chore owned by uid.
func (r *Registry) ActiveByOwner(uid string) []types.Chore {
	var out []types.Chore
	for _, c := range r.List() {
		if c.Owner == uid && c.Status.Active() {
			out = append(out, c)
		}
	}
	return out
}

// transitions is the valid from->to table. A zero from-state ("") models
// the submit step, handled separately by Submit.
var transitions = map[types.ChoreStatus]map[types.ChoreStatus]bool{
	types.ChorePending: {
		types.ChoreAssigned: true,
		types.ChoreCanceled: true,
	},
	types.ChoreAssigned: {
		types.ChoreRunning:   true,
		types.ChoreCompleted: true,
		types.ChoreFailed:    true,
		types.ChoreCanceled:  true,
	},
	types.ChoreRunning: {
		types.ChoreCompleted: true,
		types.ChoreFailed:    true,
		types.ChoreCanceled:  true,
	},
}

// ErrInvalidTransition is returned when a requested status change is not in
// the valid-transition table.
type ErrInvalidTransition struct {
	From, To types.ChoreStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("chore: invalid transition %s -> %s", e.From, e.To)
}

func validate(from, to types.ChoreStatus) error {
	if transitions[from] == nil || !transitions[from][to] {
		return &ErrInvalidTransition{From: from, To: to}
	}
	return nil
}

// mutate loads, locates, applies fn if the transition it requests is valid,
// and saves. fn reports the target status via its return value so mutate
// can validate before committing.
func (r *Registry) mutate(id int, fn func(c *types.Chore) (types.ChoreStatus, error)) error {
	var err error
	var found bool
	r.doc.WithLock(func() {
		chores := r.load()
		key := strconv.Itoa(id)
		c, ok := chores[key]
		if !ok {
			return
		}
		found = true
		to, ferr := fn(&c)
		if ferr != nil {
			err = ferr
			return
		}
		if verr := validate(c.Status, to); verr != nil {
			err = verr
			return
		}
		c.Status = to
		chores[key] = c
		err = r.doc.SaveLocked(chores)
	})
	if !found {
		return ErrNotFound
	}
	return err
}

// Assign transitions a PENDING chore to ASSIGNED, stamping the advisory
// CAPTAIN_CHORE_* environment variables into Configuration.Env alongside
// whatever the submitter already supplied, so both the eager assign RPC and
// any later heartbeat-reply redelivery carry the same payload.
func (r *Registry) Assign(id int, sailor string, now time.Time) error {
	return r.mutate(id, func(c *types.Chore) (types.ChoreStatus, error) {
		c.Sailor = sailor
		c.Reason = ""
		c.AssignTime = now.Unix()
		c.Configuration.Env = withAdvisoryEnv(c.Configuration.Env, c.ChoreID, c.Configuration.CPUs, c.Configuration.GPUs)
		return types.ChoreAssigned, nil
	})
}

// MarkRunning transitions an ASSIGNED chore to RUNNING once the sailor
// reports a pid.
func (r *Registry) MarkRunning(id, pid int, now time.Time) error {
	return r.mutate(id, func(c *types.Chore) (types.ChoreStatus, error) {
		c.PID = pid
		if c.StartTime == 0 {
			c.StartTime = now.Unix()
		}
		return types.ChoreRunning, nil
	})
}

// Complete transitions an active chore to COMPLETED.
func (r *Registry) Complete(id int, infos string, now time.Time) error {
	return r.mutate(id, func(c *types.Chore) (types.ChoreStatus, error) {
		c.EndTime = now.Unix()
		c.Infos = infos
		return types.ChoreCompleted, nil
	})
}

// Fail transitions an active chore to FAILED, setting both reason and the
// sailor's latest status line.
func (r *Registry) Fail(id int, reason, infos string, now time.Time) error {
	return r.mutate(id, func(c *types.Chore) (types.ChoreStatus, error) {
		c.EndTime = now.Unix()
		c.Reason = reason
		c.Infos = infos
		return types.ChoreFailed, nil
	})
}

// Cancel transitions an active chore to CANCELED with reason.
func (r *Registry) Cancel(id int, reason string, now time.Time) error {
	return r.mutate(id, func(c *types.Chore) (types.ChoreStatus, error) {
		c.EndTime = now.Unix()
		c.Reason = reason
		return types.ChoreCanceled, nil
	})
}

// ErrNotFound is returned for operations on an unknown chore_id.
var ErrNotFound = fmt.Errorf("chore: not found")
