// Package crew manages the sailor table: preregistration, heartbeats,
// derived liveness status, and resource-fit queries used by the control
// loop's matching pass.
package crew

import (
	"fmt"
	"sort"
	"time"

	"github.com/hugodecasta/captain/internal/duration"
	"github.com/hugodecasta/captain/internal/store"
	"github.com/hugodecasta/captain/internal/types"
	"github.com/hugodecasta/captain/pkg/log"
)

// DefaultHeartbeatTimeout is how long a sailor can go without a heartbeat
// before it is considered DOWN, absent an operator override.
const DefaultHeartbeatTimeout = 60 * time.Second

// Registry is the in-memory, disk-backed table of sailors. crew.json is a
// JSON object keyed by sailor name, not an array.
type Registry struct {
	doc              *store.Document
	HeartbeatTimeout time.Duration
}

// New returns a Registry backed by the given crew.json path. A
// non-positive heartbeatTimeout falls back to DefaultHeartbeatTimeout.
func New(path string, heartbeatTimeout time.Duration) *Registry {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Registry{doc: store.NewDocument(path), HeartbeatTimeout: heartbeatTimeout}
}

func (r *Registry) load() map[string]types.Sailor {
	sailors := map[string]types.Sailor{}
	r.doc.LoadLocked(&sailors)
	return sailors
}

// DeriveStatus computes a sailor's current liveness/capacity state from its
// last heartbeat and reported usage. Status is never persisted.
func DeriveStatus(s types.Sailor, now time.Time, heartbeatTimeout time.Duration) types.SailorStatus {
	lastSeen := time.Unix(s.LastSeen, 0)
	if now.Sub(lastSeen) > heartbeatTimeout {
		return types.StatusDown
	}
	if s.UsedCPUs >= s.CPUs && (s.GPUs == 0 || s.UsedGPUs >= s.GPUs) {
		return types.StatusFull
	}
	if s.UsedCPUs > 0 || s.UsedGPUs > 0 {
		return types.StatusWorking
	}
	return types.StatusReady
}

// Preregister creates or replaces a sailor's static record. A sailor that
// reappears with the same name keeps its last-seen timestamp, but its usage
// counters reset to zero until the next heartbeat reports them.
func (r *Registry) Preregister(s types.Sailor) error {
	if s.Name == "" {
		return fmt.Errorf("crew: sailor name is required")
	}
	if s.MaxTime != "" {
		if _, err := duration.Parse(s.MaxTime); err != nil {
			return fmt.Errorf("crew: %w", err)
		}
	}
	var err error
	r.doc.WithLock(func() {
		sailors := r.load()
		if existing, found := sailors[s.Name]; found {
			s.UsedCPUs = 0
			s.UsedGPUs = 0
			s.LastSeen = existing.LastSeen
		}
		sailors[s.Name] = s
		err = r.doc.SaveLocked(sailors)
	})
	if err != nil {
		return err
	}
	log.WithSailor(s.Name).Info().Int("cpus", s.CPUs).Int("gpus", s.GPUs).Msg("sailor preregistered")
	return nil
}

// Heartbeat updates a sailor's last-seen timestamp and reported usage.
// ErrUnknownSailor is returned if the sailor was never preregistered.
func (r *Registry) Heartbeat(name string, usedCPUs, usedGPUs int, now time.Time) error {
	var found bool
	var err error
	r.doc.WithLock(func() {
		sailors := r.load()
		s, ok := sailors[name]
		if !ok {
			return
		}
		found = true
		s.LastSeen = now.Unix()
		s.UsedCPUs = usedCPUs
		s.UsedGPUs = usedGPUs
		sailors[name] = s
		err = r.doc.SaveLocked(sailors)
	})
	if !found {
		return ErrUnknownSailor
	}
	return err
}

// Deregister removes a sailor from the crew table. If the sailor currently
// holds usage (UsedCPUs or UsedGPUs > 0) the call fails with
// ErrSailorBusy unless force is true.
func (r *Registry) Deregister(name string, force bool) error {
	var err error
	var busy, found bool
	r.doc.WithLock(func() {
		sailors := r.load()
		s, ok := sailors[name]
		if !ok {
			return
		}
		found = true
		if !force && (s.UsedCPUs > 0 || s.UsedGPUs > 0) {
			busy = true
			return
		}
		delete(sailors, name)
		err = r.doc.SaveLocked(sailors)
	})
	if !found {
		return ErrUnknownSailor
	}
	if busy {
		return ErrSailorBusy
	}
	return err
}

// List returns every sailor paired with its derived status, ordered by
// ascending name.
func (r *Registry) List(now time.Time) []types.SailorView {
	sailors := r.loadSorted()
	views := make([]types.SailorView, 0, len(sailors))
	for _, s := range sailors {
		views = append(views, types.SailorView{Sailor: s, DerivedStatus: DeriveStatus(s, now, r.HeartbeatTimeout)})
	}
	return views
}

// Get returns a single sailor by name.
func (r *Registry) Get(name string) (types.Sailor, bool) {
	var sailors map[string]types.Sailor
	r.doc.WithLock(func() {
		sailors = r.load()
	})
	s, ok := sailors[name]
	return s, ok
}

// Fit returns every READY or WORKING sailor with enough spare capacity to
// host a chore requesting cpus/gpus, optionally restricted to a named
// sailor or service.
func (r *Registry) Fit(cpus, gpus int, wantSailor, wantService string, now time.Time) []types.Sailor {
	sailors := r.loadSorted()
	var fits []types.Sailor
	for _, s := range sailors {
		status := DeriveStatus(s, now, r.HeartbeatTimeout)
		if status != types.StatusReady && status != types.StatusWorking {
			continue
		}
		if wantSailor != "" && s.Name != wantSailor {
			continue
		}
		if wantService != "" && !hasService(s.Services, wantService) {
			continue
		}
		if s.CPUs-s.UsedCPUs < cpus {
			continue
		}
		if gpus > 0 && s.GPUs-s.UsedGPUs < gpus {
			continue
		}
		fits = append(fits, s)
	}
	return fits
}

// ApplyUsageDelta adjusts a sailor's used CPU/GPU counters, clamping at
// zero. Used by the control loop when assigning chores.
func (r *Registry) ApplyUsageDelta(name string, cpuDelta, gpuDelta int) error {
	var found bool
	var err error
	r.doc.WithLock(func() {
		sailors := r.load()
		s, ok := sailors[name]
		if !ok {
			return
		}
		found = true
		s.UsedCPUs = clampNonNegative(s.UsedCPUs + cpuDelta)
		s.UsedGPUs = clampNonNegative(s.UsedGPUs + gpuDelta)
		sailors[name] = s
		err = r.doc.SaveLocked(sailors)
	})
	if !found {
		return ErrUnknownSailor
	}
	return err
}

// loadSorted returns every sailor ordered by ascending name, the
// determinism the matcher and external listings rely on.
func (r *Registry) loadSorted() []types.Sailor {
	var sailors map[string]types.Sailor
	r.doc.WithLock(func() {
		sailors = r.load()
	})
	names := make([]string, 0, len(sailors))
	for name := range sailors {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]types.Sailor, 0, len(names))
	for _, name := range names {
		out = append(out, sailors[name])
	}
	return out
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func hasService(services []string, want string) bool {
	for _, s := range services {
		if s == want {
			return true
		}
	}
	return false
}
