package extract

import (
	"strings"
	"time"

	"github.com/dohr-michael/dayflow/internal/domain"
)

var highPriorityKeywords = []string{"urgent", "asap", "important", "critical", "!"}
var lowPriorityKeywords = []string{"optional", "tentative", "maybe", "fyi"}
var criticalKeywords = []string{"critical", "must", "required"}
var urgentKeywords = []string{"urgent", "asap", "immediately"}

// PriorityFromText derives a priority from title and description keywords.
func PriorityFromText(title, description string) domain.Priority {
	text := strings.ToLower(title + " " + description)
	for _, k := range highPriorityKeywords {
		if strings.Contains(text, k) {
			return domain.PriorityHigh
		}
	}
	for _, k := range lowPriorityKeywords {
		if strings.Contains(text, k) {
			return domain.PriorityLow
		}
	}
	return domain.PriorityNormal
}

// PriorityForDeadline raises a priority to high when an explicit deadline
// lands inside the next 24 hours. The deadline rule outranks keyword hints,
// so even an "optional" item due today surfaces as high.
func PriorityForDeadline(p domain.Priority, due, ref time.Time) domain.Priority {
	if due.IsZero() || ref.IsZero() {
		return p
	}
	if !due.Before(ref) && due.Sub(ref) <= 24*time.Hour {
		return domain.PriorityHigh
	}
	return p
}

// FlagsFromText derives the critical and urgent flags from keywords.
func FlagsFromText(title, description string) (critical, urgent bool) {
	text := strings.ToLower(title + " " + description)
	for _, k := range criticalKeywords {
		if strings.Contains(text, k) {
			critical = true
			break
		}
	}
	for _, k := range urgentKeywords {
		if strings.Contains(text, k) {
			urgent = true
			break
		}
	}
	return critical, urgent
}

// PriorityFromManagerScale maps the task manager's 1..4 scale (4 most
// important) onto the normalized priority plus flags.
func PriorityFromManagerScale(p int) (domain.Priority, bool, bool) {
	switch {
	case p >= 4:
		return domain.PriorityHigh, true, true
	case p == 3:
		return domain.PriorityHigh, true, false
	case p == 2:
		return domain.PriorityNormal, false, false
	default:
		return domain.PriorityLow, false, false
	}
}

// ManagerScaleFromPriority is the outbound inverse used when pushing local
// tasks to the external manager. The urgent flag distinguishes 4 from 3 so
// inbound items round-trip.
func ManagerScaleFromPriority(p domain.Priority, urgent bool) int {
	switch {
	case p == domain.PriorityHigh && urgent:
		return 4
	case p == domain.PriorityHigh:
		return 3
	case p == domain.PriorityLow:
		return 1
	default:
		return 2
	}
}
