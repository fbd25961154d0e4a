package complaint

import (
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"
)

// MinFieldLen is the shortest accepted location or description.
const MinFieldLen = 5

// RoleAdmin is the identity role allowed to list and update every complaint.
const RoleAdmin = "admin"

// Identity is the authenticated submitter as established by the identity boundary.
type Identity struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
}

// IsAdmin reports whether the identity carries the admin role.
func (id Identity) IsAdmin() bool { return id.Role == RoleAdmin }

// Submission is one complaint as handed to the orchestrator.
type Submission struct {
	Description     string
	Location        string
	Submitter       Identity
	UrgencyOverride Urgency
}

// Validate applies the request-level checks done before classification.
// Overrides outside low/medium/high are rejected here; the urgency policy
// itself passes any non-empty override through.
func (s *Submission) Validate() error {
	var problems []string
	if len(strings.TrimSpace(s.Description)) < MinFieldLen {
		problems = append(problems, fmt.Sprintf("description must be at least %d characters", MinFieldLen))
	}
	if len(strings.TrimSpace(s.Location)) < MinFieldLen {
		problems = append(problems, fmt.Sprintf("location must be at least %d characters", MinFieldLen))
	}
	if strings.TrimSpace(s.Submitter.Name) == "" {
		problems = append(problems, "submitter name is required")
	}
	if email := strings.TrimSpace(s.Submitter.Email); email == "" {
		problems = append(problems, "submitter email is required")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		problems = append(problems, fmt.Sprintf("submitter email %q is not a valid address", email))
	}
	if s.UrgencyOverride != "" && !s.UrgencyOverride.Known() {
		problems = append(problems, fmt.Sprintf("urgency must be one of low, medium, high (got %q)", s.UrgencyOverride))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// Record is a persisted complaint.
type Record struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Email             string       `json:"email"`
	Location          string       `json:"location"`
	Description       string       `json:"description"`
	Urgency           Urgency      `json:"urgency"`
	PredictedCategory Category     `json:"predicted_category"`
	CategoryScores    Distribution `json:"category_scores"`
	CreatedAt         time.Time    `json:"created_at"`
	Status            Status       `json:"status"`
}

// ListFilter narrows and pages a listing. An empty Email lists every record.
type ListFilter struct {
	Email  string
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
	// MaxPage keeps (page-1)*limit within an int for every accepted limit.
	MaxPage = math.MaxInt / MaxPageLimit
)

// Page converts 1-based page/limit query values into a ListFilter, clamping
// limit to [1, MaxPageLimit] and page to [1, MaxPage].
func Page(email string, page, limit int) ListFilter {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	return ListFilter{Email: email, Limit: limit, Offset: (page - 1) * limit}
}
