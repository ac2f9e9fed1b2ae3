package run

import "time"

// DecisionStatus is the outcome a reviewer recorded for a gate.
type DecisionStatus string

const (
	DecisionApprove        DecisionStatus = "approve"
	DecisionRequestChanges DecisionStatus = "request_changes"
)

// Valid reports whether the status is one of the recognized outcomes.
func (s DecisionStatus) Valid() bool {
	return s == DecisionApprove || s == DecisionRequestChanges
}

// GateDecision is one recorded human-review decision for a gate.
type GateDecision struct {
	GateID           string         `json:"gate_id"`
	Status           DecisionStatus `json:"status"`
	RequestedChanges string         `json:"requested_changes,omitempty"`
	DecidedAt        time.Time      `json:"decided_at"`
}

// DecisionStore holds every gate decision recorded for a single run: the
// most recent decision per gate plus a bounded append-only history.
type DecisionStore struct {
	LatestByGate map[string]GateDecision `json:"latest_by_gate"`
	History      []GateDecision          `json:"history"`
}

// NewDecisionStore returns an empty decision store.
func NewDecisionStore() *DecisionStore {
	return &DecisionStore{
		LatestByGate: make(map[string]GateDecision),
		History:      []GateDecision{},
	}
}
