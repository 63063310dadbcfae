// Package lifecycle defines the intent status state machine. Transitions are
// declared in a static table with per-edge flags so every caller (submission
// pipeline, escalation resolution, replay/retry endpoints) shares one source
// of truth for which status changes are legal.
package lifecycle

import "fmt"

// Status enumerates intent lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusEvaluating Status = "evaluating"
	StatusApproved   Status = "approved"
	StatusDenied     Status = "denied"
	StatusEscalated  Status = "escalated"
	StatusExecuting  Status = "executing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// AllStatuses lists every valid status, used for input validation.
var AllStatuses = []Status{
	StatusPending, StatusEvaluating, StatusApproved, StatusDenied,
	StatusEscalated, StatusExecuting, StatusCompleted, StatusFailed,
	StatusCancelled,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Verdict is the result of validating a proposed transition.
type Verdict string

const (
	VerdictValid              Verdict = "valid"
	VerdictTerminalState      Verdict = "terminal_state"
	VerdictInvalidTransition  Verdict = "invalid_transition"
	VerdictRequiresReason     Verdict = "requires_reason"
	VerdictRequiresPermission Verdict = "requires_permission"
)

// Event names that are not tied to a transition edge.
const (
	// EventSubmitted is the first link of every intent's chain.
	EventSubmitted = "intent.submitted"
	// EventCancelled is recorded on every cancellation edge.
	EventCancelled = "intent.cancelled"
)

// Edge describes one legal transition and its requirements.
type Edge struct {
	From Status
	To   Status
	// RequiresReason edges (all cancellations) refuse without a
	// human-supplied reason.
	RequiresReason bool
	// RequiresPermission edges (escalated resolution, replay, retry) refuse
	// without elevated permission.
	RequiresPermission bool
	// EventType is the canonical event name appended to the intent's chain
	// when this edge is taken.
	EventType string
}

// transitions is the full edge table. Keyed by source status for O(1) lookup.
var transitions = map[Status][]Edge{
	StatusPending: {
		{From: StatusPending, To: StatusEvaluating, EventType: "intent.evaluation.started"},
		{From: StatusPending, To: StatusCancelled, RequiresReason: true, EventType: "intent.cancelled"},
	},
	StatusEvaluating: {
		{From: StatusEvaluating, To: StatusApproved, EventType: "intent.approved"},
		{From: StatusEvaluating, To: StatusDenied, EventType: "intent.denied"},
		{From: StatusEvaluating, To: StatusEscalated, EventType: "intent.escalated"},
		{From: StatusEvaluating, To: StatusFailed, EventType: "intent.evaluation.failed"},
		{From: StatusEvaluating, To: StatusCancelled, RequiresReason: true, EventType: "intent.cancelled"},
	},
	StatusEscalated: {
		{From: StatusEscalated, To: StatusApproved, RequiresPermission: true, EventType: "intent.approved"},
		{From: StatusEscalated, To: StatusDenied, RequiresPermission: true, EventType: "intent.denied"},
		{From: StatusEscalated, To: StatusCancelled, RequiresReason: true, EventType: "intent.cancelled"},
	},
	StatusApproved: {
		{From: StatusApproved, To: StatusExecuting, EventType: "intent.execution.started"},
		{From: StatusApproved, To: StatusCancelled, RequiresReason: true, EventType: "intent.cancelled"},
	},
	StatusExecuting: {
		{From: StatusExecuting, To: StatusCompleted, EventType: "intent.completed"},
		{From: StatusExecuting, To: StatusFailed, EventType: "intent.failed"},
	},
	StatusDenied: {
		{From: StatusDenied, To: StatusPending, RequiresPermission: true, EventType: "intent.replayed"},
	},
	StatusFailed: {
		{From: StatusFailed, To: StatusPending, RequiresPermission: true, EventType: "intent.retried"},
	},
	// completed and cancelled are terminal.
}

// Lookup returns the edge for from→to, if one exists.
func Lookup(from, to Status) (Edge, bool) {
	for _, e := range transitions[from] {
		if e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}

// Validate checks a proposed transition and returns the verdict. hasReason
// and hasPermission describe what the caller supplied; the verdict names the
// first unmet requirement.
func Validate(from, to Status, hasReason, hasPermission bool) Verdict {
	if from.IsTerminal() {
		return VerdictTerminalState
	}
	edge, ok := Lookup(from, to)
	if !ok {
		return VerdictInvalidTransition
	}
	if edge.RequiresReason && !hasReason {
		return VerdictRequiresReason
	}
	if edge.RequiresPermission && !hasPermission {
		return VerdictRequiresPermission
	}
	return VerdictValid
}

// EventTypeFor returns the canonical event name for a legal transition.
func EventTypeFor(from, to Status) (string, error) {
	edge, ok := Lookup(from, to)
	if !ok {
		return "", fmt.Errorf("no transition %s -> %s", from, to)
	}
	return edge.EventType, nil
}

// AllowedTargets returns every destination reachable from the given status.
func AllowedTargets(from Status) []Status {
	edges := transitions[from]
	out := make([]Status, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.To)
	}
	return out
}

// ActiveStatuses are the states counted against a tenant's in-flight cap.
// Approved intents are excluded: they sit with the caller until execution
// starts and hold no engine resources.
var ActiveStatuses = []Status{
	StatusPending, StatusEvaluating, StatusEscalated, StatusExecuting,
}

// CancellableStatuses are the states from which cancelIntent may succeed.
var CancellableStatuses = []Status{
	StatusPending, StatusEvaluating, StatusEscalated,
}
