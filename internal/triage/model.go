package triage

import (
	"time"

	"github.com/linnemanlabs/grievance/internal/complaint"
	"github.com/linnemanlabs/grievance/internal/routing"
)

// Assessment is the outcome of the pure pipeline stages for one description.
type Assessment struct {
	Scores       complaint.Distribution
	Category     complaint.Category
	TopScore     float64
	Urgency      complaint.Urgency
	Recipient    routing.Recipient
	ModelVersion string
	Duration     time.Duration
}

// Result is returned to the caller of Submit.
type Result struct {
	ID                  string                 `json:"id"`
	Category            complaint.Category     `json:"predicted_category"`
	TopScore            float64                `json:"category_score"`
	Urgency             complaint.Urgency      `json:"assigned_urgency"`
	Department          string                 `json:"department"`
	NotificationOutcome string                 `json:"notification_outcome"`
	Scores              complaint.Distribution `json:"all_category_scores"`
	ModelVersion        string                 `json:"model_version,omitempty"`
}

// Notification is everything a delivery channel needs about one complaint.
type Notification struct {
	ComplaintID string             `json:"complaint_id"`
	Category    complaint.Category `json:"category"`
	Urgency     complaint.Urgency  `json:"urgency"`
	Recipient   routing.Recipient  `json:"recipient"`
	Submitter   complaint.Identity `json:"submitter"`
	Location    string             `json:"location"`
	Description string             `json:"description"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Notification outcomes reported when no channel produced its own.
const (
	OutcomeDisabled     = "notification disabled"
	OutcomeFailedPrefix = "notification failed: "
)
