package reconcile

import "paysync/internal/domain/paymentsrepo"

// transitions lists, for every status, the statuses it may move to directly.
var transitions = map[paymentsrepo.Status][]paymentsrepo.Status{
	paymentsrepo.StatusPending:   {paymentsrepo.StatusConfirmed, paymentsrepo.StatusFailed},
	paymentsrepo.StatusConfirmed: {paymentsrepo.StatusRefunded},
}

func CanTransition(from, to paymentsrepo.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s paymentsrepo.Status) bool {
	return len(transitions[s]) == 0
}

// Reached reports whether a record currently in status current has already
// passed through target, so applying target again is a no-op.
func Reached(current, target paymentsrepo.Status) bool {
	if current == target {
		return true
	}
	for _, next := range transitions[target] {
		if Reached(current, next) {
			return true
		}
	}
	return false
}

type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeRejected       Outcome = "rejected"
)

// decide evaluates moving a record in status current to target.
func decide(current, target paymentsrepo.Status) Outcome {
	switch {
	case Reached(current, target):
		return OutcomeAlreadyApplied
	case CanTransition(current, target):
		return OutcomeApplied
	default:
		return OutcomeRejected
	}
}
