// Package registry implements the Coordinator's Agent Registry (spec.md
// §4.4): bookkeeping for every registered agent's declared capabilities,
// load, reliability score, and liveness, plus candidate selection for
// the Dispatcher. Grounded on the teacher's internal/agent/registry.go
// (RWMutex-guarded map, Register/Deregister/Lookup shape), generalized
// from the teacher's fixed skill taxonomy to the spec's free-form
// capability strings and EWMA reliability scoring.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Status is the closed set of agent lifecycle states (spec.md §4.3).
type Status string

const (
	StatusIdle        Status = "Idle"
	StatusBusy        Status = "Busy"
	StatusError       Status = "Error"
	StatusOffline     Status = "Offline"
	StatusUnreachable Status = "Unreachable"
)

// DefaultReliability is the starting reliability score for a newly
// registered agent (spec.md §4.4).
const DefaultReliability = 1.0

// ReliabilityAlpha is the EWMA smoothing factor applied on every task
// completion or failure (spec.md §4.3).
const ReliabilityAlpha = 0.2

// MaxCancelNonAcks is the number of consecutive un-acknowledged cancel
// signals (spec.md §5) after which an agent is demoted to Error.
const MaxCancelNonAcks = 3

// Agent is the Registry's view of one Agent Runtime.
type Agent struct {
	ID                 string
	Capabilities        map[string]struct{}
	MaxConcurrent       int
	Status              Status
	Load                int // currently assigned task count
	Reliability         float64
	LastAssignedAt      time.Time
	LastHeartbeatAt     time.Time
	RegisteredAt        time.Time
	CancelNonAcks       int
}

func (a *Agent) hasCapabilities(required []string) bool {
	for _, c := range required {
		if _, ok := a.Capabilities[c]; !ok {
			return false
		}
	}
	return true
}

func (a *Agent) available() bool {
	return (a.Status == StatusIdle || a.Status == StatusBusy) && a.Load < a.MaxConcurrent
}

// Snapshot is an immutable copy of an Agent's state, safe to hand to
// callers outside the Registry's lock.
type Snapshot struct {
	ID              string
	Capabilities    []string
	MaxConcurrent   int
	Status          Status
	Load            int
	Reliability     float64
	LastAssignedAt  time.Time
	LastHeartbeatAt time.Time
}

func (a *Agent) snapshot() Snapshot {
	caps := make([]string, 0, len(a.Capabilities))
	for c := range a.Capabilities {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return Snapshot{
		ID:              a.ID,
		Capabilities:    caps,
		MaxConcurrent:   a.MaxConcurrent,
		Status:          a.Status,
		Load:            a.Load,
		Reliability:     a.Reliability,
		LastAssignedAt:  a.LastAssignedAt,
		LastHeartbeatAt: a.LastHeartbeatAt,
	}
}

// Registry is the Agent Registry. It holds no knowledge of transport or
// scheduling; it only tracks who exists, what they can do, and how busy
// and reliable they've been.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Register adds or replaces an agent's declared capabilities. A
// re-registration of a known id resets its status to Idle and preserves
// its reliability score (spec.md §4.4 edge case: re-registration is an
// update, not a duplicate).
func (r *Registry) Register(id string, capabilities []string, maxConcurrent int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capSet := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		capSet[c] = struct{}{}
	}

	now := time.Now()
	if existing, ok := r.agents[id]; ok {
		existing.Capabilities = capSet
		existing.MaxConcurrent = maxConcurrent
		existing.Status = StatusIdle
		existing.LastHeartbeatAt = now
		return
	}
	r.agents[id] = &Agent{
		ID:              id,
		Capabilities:    capSet,
		MaxConcurrent:   maxConcurrent,
		Status:          StatusIdle,
		Reliability:     DefaultReliability,
		RegisteredAt:    now,
		LastHeartbeatAt: now,
	}
}

// Deregister removes an agent entirely. Its in-flight tasks are the
// Dispatcher's concern, not the Registry's.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// Lookup returns a snapshot of one agent.
func (r *Registry) Lookup(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return Snapshot{}, false
	}
	return a.snapshot(), true
}

// SetStatus transitions an agent's lifecycle state.
func (r *Registry) SetStatus(id string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[id]; ok {
		a.Status = status
	}
}

// Heartbeat refreshes an agent's liveness timestamp.
func (r *Registry) Heartbeat(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[id]; ok {
		a.LastHeartbeatAt = time.Now()
		if a.Status == StatusUnreachable {
			a.Status = StatusIdle
		}
	}
}

// IncrLoad adjusts an agent's in-flight task count and, on assignment,
// its last-assigned timestamp used for round-robin tie-breaking.
func (r *Registry) IncrLoad(id string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return
	}
	a.Load += delta
	if a.Load < 0 {
		a.Load = 0
	}
	if delta > 0 {
		a.LastAssignedAt = time.Now()
		if a.Status == StatusIdle {
			a.Status = StatusBusy
		}
	} else if a.Load == 0 && a.Status == StatusBusy {
		a.Status = StatusIdle
	}
}

// RecordOutcome updates an agent's EWMA reliability score after a task
// finishes: 1.0 on success, 0.0 on failure (spec.md §4.3).
func (r *Registry) RecordOutcome(id string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return
	}
	sample := 0.0
	if success {
		sample = 1.0
	}
	a.Reliability = ReliabilityAlpha*sample + (1-ReliabilityAlpha)*a.Reliability
}

// RecordCancelAck resets an agent's non-ack streak after it honors a
// per-task cancel signal within the grace period (spec.md §5).
func (r *Registry) RecordCancelAck(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[id]; ok {
		a.CancelNonAcks = 0
	}
}

// RecordCancelNonAck records a cancel signal the agent did not acknowledge
// within the grace period, demoting it to Error after MaxCancelNonAcks
// consecutive misses (spec.md §5).
func (r *Registry) RecordCancelNonAck(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return
	}
	a.CancelNonAcks++
	if a.CancelNonAcks >= MaxCancelNonAcks {
		a.Status = StatusError
	}
}

// UnreachableSince marks agents whose last heartbeat is older than
// threshold as Unreachable and returns their ids, for the caller to emit
// AgentStatusChanged events and fail or reassign their in-flight tasks
// (spec.md §4.3).
func (r *Registry) UnreachableSince(threshold time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-threshold)
	var changed []string
	for id, a := range r.agents {
		if a.Status == StatusOffline || a.Status == StatusUnreachable {
			continue
		}
		if a.LastHeartbeatAt.Before(cutoff) {
			a.Status = StatusUnreachable
			changed = append(changed, id)
		}
	}
	return changed
}

// Candidates returns every available agent declaring all of
// requiredCapabilities, ordered deterministically for assignment:
// ascending load, then descending reliability, then oldest
// last-assignment first (round robin among otherwise-equal agents).
func (r *Registry) Candidates(requiredCapabilities []string) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Snapshot
	for _, a := range r.agents {
		if !a.available() || !a.hasCapabilities(requiredCapabilities) {
			continue
		}
		out = append(out, a.snapshot())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Load != out[j].Load {
			return out[i].Load < out[j].Load
		}
		if out[i].Reliability != out[j].Reliability {
			return out[i].Reliability > out[j].Reliability
		}
		if !out[i].LastAssignedAt.Equal(out[j].LastAssignedAt) {
			return out[i].LastAssignedAt.Before(out[j].LastAssignedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// All returns a snapshot of every registered agent, for status queries.
func (r *Registry) All() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
