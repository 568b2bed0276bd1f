package control

import "sync"

// cancelInstruction is a queued cancel delivery for a sailor.
type cancelInstruction struct {
	ChoreID int
	Reason  string
}

// DeliveryQueue holds per-sailor assign/cancel instructions that still need
// delivering. The eager RPC the control loop issues from the match and
// enforcement passes is the fast path; anything that fails to land is
// queued here and offered again in every heartbeat reply to that sailor.
// An assign leaves the queue once it is acknowledged (a successful eager
// RPC, a heartbeat report on that chore, or the chore no longer being
// ASSIGNED); a cancel leaves it only through AckCancel after a successful
// eager cancel RPC.
type DeliveryQueue struct {
	mu      sync.Mutex
	assigns map[string][]int
	cancels map[string][]cancelInstruction
}

// NewDeliveryQueue returns an empty queue.
func NewDeliveryQueue() *DeliveryQueue {
	return &DeliveryQueue{
		assigns: make(map[string][]int),
		cancels: make(map[string][]cancelInstruction),
	}
}

// QueueAssign marks choreID as pending delivery to sailor.
func (q *DeliveryQueue) QueueAssign(sailor string, choreID int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.assigns[sailor] {
		if id == choreID {
			return
		}
	}
	q.assigns[sailor] = append(q.assigns[sailor], choreID)
}

// QueueCancel marks choreID as pending cancellation delivery to sailor.
func (q *DeliveryQueue) QueueCancel(sailor string, choreID int, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range q.cancels[sailor] {
		if c.ChoreID == choreID {
			return
		}
	}
	q.cancels[sailor] = append(q.cancels[sailor], cancelInstruction{ChoreID: choreID, Reason: reason})
}

// AckAssign removes choreID from sailor's pending-assign queue, called once
// the eager RPC or a later delivery has been confirmed.
func (q *DeliveryQueue) AckAssign(sailor string, choreID int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.assigns[sailor] = removeInt(q.assigns[sailor], choreID)
}

// AckCancel removes choreID from sailor's pending-cancel queue.
func (q *DeliveryQueue) AckCancel(sailor string, choreID int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cancels := q.cancels[sailor]
	out := cancels[:0]
	for _, c := range cancels {
		if c.ChoreID != choreID {
			out = append(out, c)
		}
	}
	q.cancels[sailor] = out
}

// PendingAssignIDs returns the chore IDs queued for delivery to sailor.
func (q *DeliveryQueue) PendingAssignIDs(sailor string) []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]int, len(q.assigns[sailor]))
	copy(out, q.assigns[sailor])
	return out
}

// PendingCancels returns the cancel instructions queued for sailor.
func (q *DeliveryQueue) PendingCancels(sailor string) []cancelInstruction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]cancelInstruction, len(q.cancels[sailor]))
	copy(out, q.cancels[sailor])
	return out
}

func removeInt(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
