package jobs

import (
	"fmt"
	"strings"

	"lesnet-viewer/internal/api"
)

// State is the lifecycle position of a model run as seen by the viewer.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitted  State = "submitted"
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

// Terminal reports whether s ends polling.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// StatusFor maps a server status string to a state.
func StatusFor(status string) (State, bool) {
	switch status {
	case api.StatusQueued:
		return StateQueued, true
	case api.StatusProcessing:
		return StateProcessing, true
	case api.StatusCompleted:
		return StateCompleted, true
	case api.StatusFailed:
		return StateError, true
	}
	return "", false
}

// Apply returns the state reached from cur when the server reports status.
// Only an in-flight run accepts server statuses.
func Apply(cur State, status string) (State, error) {
	next, ok := StatusFor(status)
	if !ok {
		return cur, fmt.Errorf("unknown run status %q", status)
	}
	switch cur {
	case StateSubmitted, StateQueued, StateProcessing:
		return next, nil
	}
	return cur, fmt.Errorf("run in state %s cannot move to %s", cur, next)
}

// Status is what the job panel shows.
type Status struct {
	State State  `json:"state"`
	Label string `json:"label"`
	Text  string `json:"text"`
	// QueuePosition is 1-based; 0 when unknown
	QueuePosition int `json:"queuePosition,omitempty"`
}

// Busy reports whether the submit control should be disabled.
func (s Status) Busy() bool {
	return s.State != StateIdle && !s.State.Terminal()
}

func idleStatus() Status {
	return Status{State: StateIdle}
}

func submittingStatus() Status {
	return Status{State: StateSubmitted, Label: "Submitting", Text: "Connecting to server..."}
}

// statusView renders a queued or processing status.
func statusView(s State, queuePosition *int) Status {
	switch s {
	case StateQueued:
		st := Status{State: s, Label: "Queued", Text: "Waiting in queue... Please wait."}
		if queuePosition != nil {
			st.QueuePosition = *queuePosition + 1
		}
		return st
	case StateProcessing:
		return Status{State: s, Label: "Processing", Text: "Running model... This may take a few minutes."}
	case StateCompleted:
		return Status{State: s, Label: "Completed", Text: "Model run complete. Loading results..."}
	}
	return Status{State: s}
}

// NoticeKind selects the styling of a user-visible message.
type NoticeKind string

const (
	NoticeValidation  NoticeKind = "validation"
	NoticeServer      NoticeKind = "server"
	NoticeConnection  NoticeKind = "connection"
	NoticeMissingData NoticeKind = "missing_data"
	NoticeModel       NoticeKind = "model"
)

// Notice is a user-visible job message.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

const (
	msgRequired      = "Please fill in all required fields"
	msgUnreachable   = "Connection Error: Could not reach the server. Please check your internet connection and try again in a few moments."
	msgNotResponding = "Connection Error: The server is not responding. Your request may still be processing. Please wait a moment and try again later."
	msgSubmitFailed  = "Failed to submit model run"
	msgRunFailed     = "An error occurred while running the model"
)

// ClassifyRunError turns the result of a failed run into a notice. Errors
// about missing input data get their own kind.
func ClassifyRunError(result *api.RunResult) Notice {
	if result == nil || result.Error == "" {
		return Notice{Kind: NoticeModel, Message: msgRunFailed}
	}
	if strings.Contains(result.Error, "missing data") {
		return Notice{Kind: NoticeMissingData, Message: "Data Issue: " + result.Error}
	}
	return Notice{Kind: NoticeModel, Message: "Model Error: " + result.Error}
}

func serverNotice(message string) Notice {
	if message == "" {
		message = msgSubmitFailed
	}
	return Notice{Kind: NoticeServer, Message: "Server Error: " + message}
}
