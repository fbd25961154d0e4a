package complaint

import "fmt"

// Urgency is the priority level attached to a complaint.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Rank orders urgency levels low < medium < high. Unknown values rank 0.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyLow:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyHigh:
		return 3
	default:
		return 0
	}
}

// Known reports whether u is one of the three defined levels.
func (u Urgency) Known() bool { return u.Rank() > 0 }

// ParseUrgency validates s as an urgency level.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(s)
	if !u.Known() {
		return "", fmt.Errorf("%w: urgency must be one of low, medium, high (got %q)", ErrValidation, s)
	}
	return u, nil
}

// Status is the administrative lifecycle state of a stored complaint.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusClosed     Status = "closed"
)

// ParseStatus validates s as a complaint status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOpen, StatusInProgress, StatusClosed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: status must be one of open, in-progress, closed (got %q)", ErrValidation, s)
	}
}
