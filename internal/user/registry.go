// Package user manages the per-UID quota table: chores_limit and
// time_limit enforcement. Absence of a record implies unlimited.
package user

import (
	"fmt"
	"sort"
	"time"

	"github.com/hugodecasta/captain/internal/duration"
	"github.com/hugodecasta/captain/internal/store"
	"github.com/hugodecasta/captain/internal/types"
)

// Registry is the in-memory, disk-backed table of users. users.json is a
// JSON object keyed by uid, not an array.
type Registry struct {
	doc *store.Document
}

// New returns a Registry backed by the given users.json path.
func New(path string) *Registry {
	return &Registry{doc: store.NewDocument(path)}
}

func (r *Registry) load() map[string]types.User {
	users := map[string]types.User{}
	r.doc.LoadLocked(&users)
	return users
}

// Set upserts a user record, validating chores_limit and time_limit.
func (r *Registry) Set(u types.User) error {
	if u.UID == "" {
		return fmt.Errorf("user: uid is required")
	}
	if u.ChoresLimit < 0 {
		return fmt.Errorf("user: chores_limit must be non-negative")
	}
	if u.TimeLimit != "" {
		if _, err := duration.Parse(u.TimeLimit); err != nil {
			return fmt.Errorf("user: %w", err)
		}
	}
	var err error
	r.doc.WithLock(func() {
		users := r.load()
		users[u.UID] = u
		err = r.doc.SaveLocked(users)
	})
	return err
}

// Get returns a user record by UID.
func (r *Registry) Get(uid string) (types.User, bool) {
	var users map[string]types.User
	r.doc.WithLock(func() {
		users = r.load()
	})
	u, ok := users[uid]
	return u, ok
}

// List returns every user record, ordered by ascending UID.
func (r *Registry) List() []types.User {
	var users map[string]types.User
	r.doc.WithLock(func() {
		users = r.load()
	})
	out := make([]types.User, 0, len(users))
	for _, u := range users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// CheckSubmit reports whether uid may submit one more chore given
// activeCount already-active chores. A missing user record means no limit.
func (r *Registry) CheckSubmit(uid string, activeCount int) bool {
	u, ok := r.Get(uid)
	if !ok || u.ChoresLimit == 0 {
		return true
	}
	return activeCount < u.ChoresLimit
}

// TimeLimitSeconds returns uid's time_limit in seconds, or duration.Unlimited
// if the user has no record or no limit set.
func (r *Registry) TimeLimitSeconds(uid string) int {
	u, ok := r.Get(uid)
	if !ok || u.TimeLimit == "" {
		return duration.Unlimited
	}
	secs, err := duration.Parse(u.TimeLimit)
	if err != nil {
		return duration.Unlimited
	}
	return secs
}

// ExcessByTime computes which active chores to cancel to bring uid's
// cumulative active duration back at or under limitSeconds. It sorts active
// chores newest-submitted-first and selects from the front until the
// remaining total no longer exceeds the limit, so the newest chores are
// sacrificed first and the oldest are preserved.
func ExcessByTime(active []types.Chore, limitSeconds int, now time.Time) []types.Chore {
	if limitSeconds <= 0 {
		return nil
	}
	total := 0
	for _, c := range active {
		total += int(now.Unix() - c.ActiveSince())
	}
	if total <= limitSeconds {
		return nil
	}

	sorted := make([]types.Chore, len(active))
	copy(sorted, active)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SubmitTime > sorted[j].SubmitTime })

	var toCancel []types.Chore
	for _, c := range sorted {
		if total <= limitSeconds {
			break
		}
		toCancel = append(toCancel, c)
		total -= int(now.Unix() - c.ActiveSince())
	}
	return toCancel
}
