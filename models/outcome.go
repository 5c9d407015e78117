package models

// OutcomeStatus classifies how a single field extraction ended.
type OutcomeStatus string

const (
	// OutcomeFound means a strategy produced a value.
	OutcomeFound OutcomeStatus = "found"
	// OutcomeMissing means every strategy ran and nothing matched.
	OutcomeMissing OutcomeStatus = "missing"
	// OutcomeFailed means extraction broke; Value holds the field default.
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome is the result of one sub-extraction. Value is always usable:
// on Missing or Failed it holds the field's default.
type Outcome[T any] struct {
	Value    T
	Status   OutcomeStatus
	Strategy string // name of the strategy that matched, if any
	Err      error
}

// Found returns a successful outcome produced by strategy.
func Found[T any](value T, strategy string) Outcome[T] {
	return Outcome[T]{Value: value, Status: OutcomeFound, Strategy: strategy}
}

// Missing returns an outcome carrying the field default.
func Missing[T any](fallback T) Outcome[T] {
	return Outcome[T]{Value: fallback, Status: OutcomeMissing}
}

// Failed returns an outcome carrying the field default and the cause.
func Failed[T any](fallback T, err error) Outcome[T] {
	return Outcome[T]{Value: fallback, Status: OutcomeFailed, Err: err}
}

// OK reports whether a strategy produced the value.
func (o Outcome[T]) OK() bool { return o.Status == OutcomeFound }
