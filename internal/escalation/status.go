package escalation

// Status is the lifecycle state of an escalation record.
//
// Valid transitions: open -> in_progress -> resolved|closed, and open may
// resolve or close directly. resolved and closed are terminal; a new
// escalation for the same customer needs a new record.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

var transitions = map[Status]map[Status]bool{
	StatusOpen: {
		StatusInProgress: true,
		StatusResolved:   true,
		StatusClosed:     true,
	},
	StatusInProgress: {
		StatusResolved: true,
		StatusClosed:   true,
	},
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether the record leaves the active set in this status.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// Active reports whether a record in this status still blocks automated
// handling of the customer.
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusInProgress
}

func (s Status) CanTransitionTo(next Status) bool {
	return transitions[s][next]
}
