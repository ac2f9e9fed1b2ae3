package event

import "time"

// LogPayload accompanies TypeLog events.
type LogPayload struct {
	Message string `json:"message"`
}

// StepPayload accompanies TypeStepStarted and TypeStepFinished events.
type StepPayload struct {
	Step   string `json:"step"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ArtifactPayload accompanies TypeArtifactWritten events.
type ArtifactPayload struct {
	Step string `json:"step"`
	Name string `json:"name"`
}

// ErrorPayload accompanies TypeError events.
type ErrorPayload struct {
	Message string `json:"message"`
}

// StatusPayload accompanies TypeStatus events.
type StatusPayload struct {
	Status string `json:"status"`
}

// GatePayload accompanies TypeGateRequired and TypeGateDecision events.
type GatePayload struct {
	GateID     string    `json:"gate_id"`
	ResumeFrom string    `json:"resume_from,omitempty"`
	Message    string    `json:"message,omitempty"`
	Decision   string    `json:"decision,omitempty"`
	At         time.Time `json:"at"`
}
