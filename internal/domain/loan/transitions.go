package loan

import "bnpl-engine/internal/domain/errs"

var allowedTransitions = map[Status][]Status{
	StatusDraft:      {StatusPendingKYC, StatusEligible, StatusActive, StatusCancelled},
	StatusPendingKYC: {StatusEligible, StatusCancelled},
	StatusEligible:   {StatusActive, StatusCancelled},
	StatusActive: {
		StatusGrace, StatusOverdue, StatusDelinquent, StatusDisputeOpen, StatusDisputed,
		StatusPartiallyRecovered, StatusClosed, StatusDefaulted,
	},
	StatusGrace: {
		StatusActive, StatusOverdue, StatusDelinquent, StatusDisputeOpen, StatusDisputed,
		StatusPartiallyRecovered, StatusClosed, StatusDefaulted,
	},
	StatusOverdue: {
		StatusActive, StatusDelinquent, StatusDisputeOpen, StatusDisputed,
		StatusPartiallyRecovered, StatusClosed, StatusDefaulted,
	},
	StatusDelinquent: {
		StatusActive, StatusDelinquent, StatusPartiallyRecovered, StatusDisputeOpen, StatusDisputed,
		StatusClosed, StatusDefaulted,
	},
	StatusDisputeOpen: {StatusDisputed, StatusActive, StatusOverdue, StatusDelinquent, StatusClosed},
	StatusDisputed:    {StatusActive, StatusOverdue, StatusDelinquent, StatusClosed, StatusDefaulted},
	StatusPartiallyRecovered: {
		StatusActive, StatusPartiallyRecovered, StatusOverdue, StatusDelinquent, StatusDisputeOpen,
		StatusDisputed, StatusClosed, StatusDefaulted,
	},
	StatusDefaulted: {StatusClosed},
	StatusClosed:    {},
	StatusCancelled: {},
}

// KnownStatus reports whether s is one of the loan states.
func KnownStatus(s Status) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is on the allow-list.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an InvalidTransitionError naming both states when
// from -> to is not allowed.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &errs.InvalidTransitionError{From: string(from), To: string(to)}
	}
	return nil
}
