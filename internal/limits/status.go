package limits

import "fmt"

// Kind tags the variants of a limit evaluation result.
type Kind int

const (
	// KindNoLimit means no enabled limit exists for the package.
	KindNoLimit Kind = iota
	// KindWithinLimit means usage is below the daily budget.
	KindWithinLimit
	// KindExceeded means usage has reached or passed the daily budget.
	KindExceeded
)

// String returns the kind name for logs.
func (k Kind) String() string {
	switch k {
	case KindNoLimit:
		return "NO_LIMIT"
	case KindWithinLimit:
		return "WITHIN_LIMIT"
	case KindExceeded:
		return "EXCEEDED"
	default:
		return "UNKNOWN"
	}
}

// Status is the transient result of one evaluation tick. It is produced and
// consumed within a single cycle and never persisted. UsedMinutes and
// LimitMinutes are meaningful only when Kind is not KindNoLimit.
type Status struct {
	Kind         Kind
	UsedMinutes  int
	LimitMinutes int

	// Degraded marks a status derived from the last persisted row (or from
	// nothing at all) after a failed evaluation step. The value is still the
	// right answer to display, but it is not a fresh decision: enforcement
	// side effects must not act on it or forget state because of it.
	Degraded bool
}

// NoLimit returns the status for a package without an enabled limit.
func NoLimit() Status {
	return Status{Kind: KindNoLimit}
}

// Within returns a within-limit status.
func Within(used, limit int) Status {
	return Status{Kind: KindWithinLimit, UsedMinutes: used, LimitMinutes: limit}
}

// Exceeded returns an exceeded status.
func Exceeded(used, limit int) Status {
	return Status{Kind: KindExceeded, UsedMinutes: used, LimitMinutes: limit}
}

// Remaining returns the whole minutes left before the budget is reached,
// never negative.
func (s Status) Remaining() int {
	if s.Kind != KindWithinLimit {
		return 0
	}
	remaining := s.LimitMinutes - s.UsedMinutes
	if remaining < 0 {
		return 0
	}
	return remaining
}

// String renders the status for logs and the check command.
func (s Status) String() string {
	if s.Kind == KindNoLimit {
		return "NO_LIMIT"
	}
	return fmt.Sprintf("%s %d/%d min", s.Kind, s.UsedMinutes, s.LimitMinutes)
}
