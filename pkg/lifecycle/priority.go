package lifecycle

import (
	"github.com/elonfeng/storyradar/pkg/oracle"
	"github.com/elonfeng/storyradar/pkg/story"
)

// DerivePriority maps the oracle's priority indicators to a thread priority.
// Missing people and active searches are critical; legal proceedings or
// strong public interest are high; anything else is graded on the mean of
// the three numeric indicators.
func DerivePriority(ind oracle.PriorityIndicators) story.Priority {
	switch {
	case ind.MissingPerson || ind.ActiveSearch:
		return story.PriorityCritical
	case ind.LegalProceedings || ind.PublicInterest >= 80:
		return story.PriorityHigh
	}
	avg := float64(ind.PublicInterest+ind.TimeSensitivity+ind.OngoingRisk) / 3
	switch {
	case avg >= 70:
		return story.PriorityHigh
	case avg >= 40:
		return story.PriorityMedium
	default:
		return story.PriorityLow
	}
}
