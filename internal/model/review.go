package model

import "time"

// ReviewPriority orders the manual review queue
type ReviewPriority int

const (
	PriorityHigh   ReviewPriority = 1
	PriorityMedium ReviewPriority = 2
	PriorityLow    ReviewPriority = 3
)

func (p ReviewPriority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ReviewStatus is the lifecycle state of a review entry
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewInReview  ReviewStatus = "in_review"
	ReviewCompleted ReviewStatus = "completed"
)

// ReviewEntry is one item in the manual review queue
type ReviewEntry struct {
	ID            string         `json:"id"`
	ScriptID      string         `json:"script_id"`
	EvaluationID  string         `json:"evaluation_id"`
	Reason        ReviewReason   `json:"reason"`
	Priority      ReviewPriority `json:"priority"`
	Status        ReviewStatus   `json:"status"`
	OriginalScore float64        `json:"original_score"`
	ManualScore   *float64       `json:"manual_score,omitempty"`
	Notes         string         `json:"reviewer_notes"`
	FlaggedAt     time.Time      `json:"flagged_at"`
	ReviewedAt    *time.Time     `json:"reviewed_at,omitempty"`
}
