package model

import "time"

// OutcomeStatus is the terminal state of a processed item.
type OutcomeStatus string

const (
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeDraft   OutcomeStatus = "draft"
	OutcomeReplied OutcomeStatus = "replied"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome is the recorded result of running one Item through the
// pipeline. It is never mutated after it has been appended to the
// activity log.
type Outcome struct {
	Item

	// OutcomeID uniquely identifies this outcome in the activity log.
	OutcomeID string `json:"outcome_id"`

	// Reply is the generated reply text (empty for skipped items).
	Reply string `json:"reply"`

	// Status is the final classification.
	Status OutcomeStatus `json:"status"`

	// Truncated reports whether the body was cut before inference.
	Truncated bool `json:"truncated,omitempty"`

	// Error holds the send failure message for failed outcomes.
	Error string `json:"error,omitempty"`

	// ProcessedAt is when the pipeline reached its decision.
	ProcessedAt time.Time `json:"processed_at"`

	// RecordedAt is when the outcome was appended to the store.
	RecordedAt time.Time `json:"recorded_at"`
}
