// Package urgency maps classifier confidence to an urgency level.
package urgency

import "github.com/linnemanlabs/grievance/internal/complaint"

// Confidence thresholds. A top score at or above HighThreshold is high,
// at or above MediumThreshold is medium, anything lower is low.
const (
	HighThreshold   = 0.8
	MediumThreshold = 0.5
)

// Assign returns the override verbatim when one is supplied, otherwise the
// level implied by topScore. Overrides are not checked for membership here;
// the request boundary does that.
func Assign(topScore float64, override complaint.Urgency) complaint.Urgency {
	if override != "" {
		return override
	}
	switch {
	case topScore >= HighThreshold:
		return complaint.UrgencyHigh
	case topScore >= MediumThreshold:
		return complaint.UrgencyMedium
	default:
		return complaint.UrgencyLow
	}
}
