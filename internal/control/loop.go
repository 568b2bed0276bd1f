// Package control runs the periodic scheduling tick: liveness sweep,
// time-limit enforcement, and PENDING-to-sailor matching. It is the sole
// writer that turns a snapshot of the crew, chore, and user registries into
// new chore/sailor state each tick. There is no separate reaping step: a
// terminated chore's resources are not subtracted from its sailor's used
// counters here; those counters are replaced by the sailor's next heartbeat.
package control

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hugodecasta/captain/internal/chore"
	"github.com/hugodecasta/captain/internal/crew"
	"github.com/hugodecasta/captain/internal/duration"
	"github.com/hugodecasta/captain/internal/sailorclient"
	"github.com/hugodecasta/captain/internal/types"
	"github.com/hugodecasta/captain/internal/user"
	"github.com/hugodecasta/captain/pkg/log"
	"github.com/hugodecasta/captain/pkg/metrics"
	"github.com/rs/zerolog"
)

// TickInterval is the default period between scheduling ticks.
const TickInterval = 2 * time.Second

// maxConcurrentRPCs bounds how many outbound sailor RPCs run at once across
// a single tick, so one slow sailor cannot delay the others but the loop
// also doesn't open unbounded connections when the crew is large.
const maxConcurrentRPCs = 16

// Loop is the control-loop driver. It owns no state of its own beyond the
// delivery queue: the registries remain the source of truth.
type Loop struct {
	Crew    *crew.Registry
	Chores  *chore.Registry
	Users   *user.Registry
	Client  *sailorclient.Client
	Queue   *DeliveryQueue
	Tick    time.Duration
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New constructs a Loop with TickInterval as its default period.
func New(crewReg *crew.Registry, choreReg *chore.Registry, userReg *user.Registry, client *sailorclient.Client) *Loop {
	return &Loop{
		Crew:   crewReg,
		Chores: choreReg,
		Users:  userReg,
		Client: client,
		Queue:  NewDeliveryQueue(),
		Tick:   TickInterval,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the tick loop in a background goroutine until Stop is called.
func (l *Loop) Start() {
	go l.run()
}

// Stop signals the loop to exit and waits for the current tick to finish.
func (l *Loop) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

func (l *Loop) run() {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.RunOnce(context.Background())
		case <-l.stopCh:
			return
		}
	}
}

// RunOnce executes one full scheduling tick synchronously. It is exported
// so tests (and an operator's manual "tick now" hook) can drive it directly.
func (l *Loop) RunOnce(ctx context.Context) {
	timer := metrics.NewTimer()
	now := time.Now()
	ctl := log.WithComponent("control")

	l.livenessSweep(now, ctl)
	l.sailorTimeLimitSweep(ctx, now, ctl)
	l.userTimeLimitSweep(ctx, now, ctl)
	l.matchPass(ctx, now, ctl)
	l.publishGaugeMetrics(now)

	metrics.TicksTotal.Inc()
	timer.ObserveDuration(metrics.TickDuration)
}

// livenessSweep marks every active chore on a newly-DOWN sailor FAILED.
func (l *Loop) livenessSweep(now time.Time, ctl zerolog.Logger) {
	for _, view := range l.Crew.List(now) {
		if view.DerivedStatus != types.StatusDown {
			continue
		}
		for _, c := range l.Chores.ActiveBySailor(view.Name) {
			if err := l.Chores.Fail(c.ChoreID, types.ReasonSailorLost, "", now); err != nil {
				ctl.Warn().Err(err).Int("chore_id", c.ChoreID).Msg("failed to fail chore for lost sailor")
				continue
			}
			metrics.ChoresTerminatedTotal.WithLabelValues(string(types.ChoreFailed), types.ReasonSailorLost).Inc()
			ctl.Info().Str("sailor", view.Name).Int("chore_id", c.ChoreID).Msg("sailor lost, chore failed")
		}
	}
}

// sailorTimeLimitSweep cancels chores that outran their sailor's max_time.
func (l *Loop) sailorTimeLimitSweep(ctx context.Context, now time.Time, ctl zerolog.Logger) {
	sailors := l.Crew.List(now)
	var jobs []func()
	for _, view := range sailors {
		if view.MaxTime == "" {
			continue
		}
		limit, err := duration.Parse(view.MaxTime)
		if err != nil || limit == duration.Unlimited {
			continue
		}
		sailor := view.Sailor
		for _, c := range l.Chores.ActiveBySailor(sailor.Name) {
			if c.Status != types.ChoreAssigned && c.Status != types.ChoreRunning {
				continue
			}
			if int(now.Unix()-c.RunningStart()) <= limit {
				continue
			}
			c := c
			jobs = append(jobs, func() {
				l.requestCancel(ctx, sailor, c.ChoreID, types.ReasonSailorTimeLimit, ctl)
			})
		}
	}
	runConcurrently(jobs)
}

// userTimeLimitSweep cancels the newest chores of any user over time_limit.
func (l *Loop) userTimeLimitSweep(ctx context.Context, now time.Time, ctl zerolog.Logger) {
	var jobs []func()
	for _, u := range l.Users.List() {
		limit := l.Users.TimeLimitSeconds(u.UID)
		if limit == duration.Unlimited {
			continue
		}
		active := l.Chores.ActiveByOwner(u.UID)
		for _, c := range user.ExcessByTime(active, limit, now) {
			c := c
			sailor, ok := l.Crew.Get(c.Sailor)
			jobs = append(jobs, func() {
				if !ok {
					l.Chores.Cancel(c.ChoreID, types.ReasonUserTimeLimit, now)
					return
				}
				l.requestCancel(ctx, sailor, c.ChoreID, types.ReasonUserTimeLimit, ctl)
			})
		}
	}
	runConcurrently(jobs)
}

// requestCancel issues the eager cancel RPC, commits the local CANCELED
// transition, and falls back to the delivery queue if the RPC failed.
func (l *Loop) requestCancel(ctx context.Context, sailor types.Sailor, choreID int, reason string, ctl zerolog.Logger) {
	err := l.Client.Cancel(ctx, sailor, choreID, reason)
	if err != nil {
		l.Queue.QueueCancel(sailor.Name, choreID, reason)
	} else {
		l.Queue.AckCancel(sailor.Name, choreID)
	}
	if cerr := l.Chores.Cancel(choreID, reason, time.Now()); cerr != nil {
		ctl.Warn().Err(cerr).Int("chore_id", choreID).Msg("failed to commit cancellation")
		return
	}
	metrics.ChoresTerminatedTotal.WithLabelValues(string(types.ChoreCanceled), reason).Inc()
	ctl.Info().Str("sailor", sailor.Name).Int("chore_id", choreID).Str("reason", reason).Msg("chore canceled")
}

// matchPass assigns PENDING chores to eligible sailors, FIFO over chores,
// ascending-name order over sailors, stopping on a sailor once its spare
// capacity drops below the smallest still-pending request.
func (l *Loop) matchPass(ctx context.Context, now time.Time, ctl zerolog.Logger) {
	pending := l.Chores.ListPendingSorted()
	if len(pending) == 0 {
		return
	}
	smallest := pending[0].Configuration.CPUs
	for _, c := range pending {
		if c.Configuration.CPUs < smallest {
			smallest = c.Configuration.CPUs
		}
	}

	type capacity struct {
		sailor   types.Sailor
		cpus     int
		gpus     int
	}
	sailors := l.Crew.List(now)
	sort.Slice(sailors, func(i, j int) bool { return sailors[i].Name < sailors[j].Name })
	caps := make(map[string]*capacity, len(sailors))
	var order []string
	for _, v := range sailors {
		if v.DerivedStatus != types.StatusReady && v.DerivedStatus != types.StatusWorking {
			continue
		}
		caps[v.Name] = &capacity{sailor: v.Sailor, cpus: v.CPUs - v.UsedCPUs, gpus: v.GPUs - v.UsedGPUs}
		order = append(order, v.Name)
	}

	var jobs []func()
	for _, c := range pending {
		cfg := c.Configuration
		var chosen *capacity
		for _, name := range order {
			slot := caps[name]
			if slot == nil || slot.cpus < smallest {
				continue
			}
			if cfg.Sailor != "" && slot.sailor.Name != cfg.Sailor {
				continue
			}
			if cfg.Service != "" && !hasService(slot.sailor.Services, cfg.Service) {
				continue
			}
			if slot.cpus < cfg.CPUs || (cfg.GPUs > 0 && slot.gpus < cfg.GPUs) {
				continue
			}
			chosen = slot
			break
		}
		if chosen == nil {
			continue
		}
		chosen.cpus -= cfg.CPUs
		chosen.gpus -= cfg.GPUs
		c := c
		sailor := chosen.sailor
		jobs = append(jobs, func() {
			l.assignChore(ctx, sailor, c, ctl)
		})
	}
	runConcurrently(jobs)
}

func (l *Loop) assignChore(ctx context.Context, sailor types.Sailor, c types.Chore, ctl zerolog.Logger) {
	now := time.Now()
	if err := l.Chores.Assign(c.ChoreID, sailor.Name, now); err != nil {
		ctl.Warn().Err(err).Int("chore_id", c.ChoreID).Msg("failed to commit assignment")
		return
	}
	if err := l.Crew.ApplyUsageDelta(sailor.Name, c.Configuration.CPUs, c.Configuration.GPUs); err != nil {
		ctl.Warn().Err(err).Str("sailor", sailor.Name).Msg("failed to apply usage delta")
	}
	metrics.ChoresAssignedTotal.Inc()

	l.Queue.QueueAssign(sailor.Name, c.ChoreID)
	assigned, _ := l.Chores.Get(c.ChoreID)
	if err := l.Client.Assign(ctx, sailor, assigned); err != nil {
		var rejected *sailorclient.RejectedError
		if errors.As(err, &rejected) {
			l.Queue.AckAssign(sailor.Name, c.ChoreID)
			if ferr := l.Chores.Fail(c.ChoreID, rejected.Body, "", time.Now()); ferr != nil {
				ctl.Warn().Err(ferr).Int("chore_id", c.ChoreID).Msg("failed to fail rejected chore")
				return
			}
			metrics.ChoresTerminatedTotal.WithLabelValues(string(types.ChoreFailed), "rejected by sailor").Inc()
			ctl.Info().Str("sailor", sailor.Name).Int("chore_id", c.ChoreID).Msg("sailor rejected chore, chore failed")
			return
		}
		ctl.Info().Str("sailor", sailor.Name).Int("chore_id", c.ChoreID).Msg("eager assign failed, queued for heartbeat delivery")
		return
	}
	l.Queue.AckAssign(sailor.Name, c.ChoreID)
	ctl.Info().Str("sailor", sailor.Name).Int("chore_id", c.ChoreID).Msg("chore assigned")
}

func (l *Loop) publishGaugeMetrics(now time.Time) {
	statusCounts := map[types.SailorStatus]float64{}
	var capCPUs, usedCPUs, capGPUs, usedGPUs float64
	for _, v := range l.Crew.List(now) {
		statusCounts[v.DerivedStatus]++
		capCPUs += float64(v.CPUs)
		usedCPUs += float64(v.UsedCPUs)
		capGPUs += float64(v.GPUs)
		usedGPUs += float64(v.UsedGPUs)
	}
	for _, s := range []types.SailorStatus{types.StatusReady, types.StatusWorking, types.StatusFull, types.StatusDown} {
		metrics.SailorsTotal.WithLabelValues(string(s)).Set(statusCounts[s])
	}
	metrics.SailorCPUsTotal.WithLabelValues("capacity").Set(capCPUs)
	metrics.SailorCPUsTotal.WithLabelValues("used").Set(usedCPUs)
	metrics.SailorGPUsTotal.WithLabelValues("capacity").Set(capGPUs)
	metrics.SailorGPUsTotal.WithLabelValues("used").Set(usedGPUs)

	choreCounts := map[types.ChoreStatus]float64{}
	for _, c := range l.Chores.List() {
		choreCounts[c.Status]++
	}
	for status, n := range choreCounts {
		metrics.ChoresTotal.WithLabelValues(string(status)).Set(n)
	}
}

func hasService(services []string, want string) bool {
	for _, s := range services {
		if s == want {
			return true
		}
	}
	return false
}

// runConcurrently runs each job in its own goroutine, bounded by
// maxConcurrentRPCs in flight at once, and waits for all to finish.
func runConcurrently(jobs []func()) {
	if len(jobs) == 0 {
		return
	}
	sem := make(chan struct{}, maxConcurrentRPCs)
	var wg sync.WaitGroup
	for _, job := range jobs {
		job := job
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			job()
		}()
	}
	wg.Wait()
}

