package pipeline

import "fmt"

// ProgressEvent is one progress update from a run.
type ProgressEvent struct {
	Stage   string
	Percent int
	Detail  string
}

// ProgressReporter fans progress events out through a buffered channel.
type ProgressReporter struct {
	ch chan ProgressEvent
}

// NewProgressReporter creates a ProgressReporter with a buffered channel of size 64.
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{
		ch: make(chan ProgressEvent, 64),
	}
}

// Emit sends a progress event in a non-blocking fashion.
// If the channel is full, the event is silently dropped.
// The signature matches ProgressFunc so a reporter's Emit can be passed
// straight to Orchestrator.Run.
func (pr *ProgressReporter) Emit(stage string, percent int, detail string) {
	select {
	case pr.ch <- ProgressEvent{Stage: stage, Percent: percent, Detail: detail}:
	default:
		// Drop the event if the channel is full.
	}
}

// Subscribe returns a read-only channel for consuming progress events.
func (pr *ProgressReporter) Subscribe() <-chan ProgressEvent {
	return pr.ch
}

// Close closes the progress event channel.
func (pr *ProgressReporter) Close() {
	close(pr.ch)
}

// FormatProgress formats a ProgressEvent as a human-readable status line.
func FormatProgress(event ProgressEvent) string {
	if event.Detail == "" {
		return fmt.Sprintf("[%3d%%] %s", event.Percent, event.Stage)
	}
	return fmt.Sprintf("[%3d%%] %s: %s", event.Percent, event.Stage, event.Detail)
}
