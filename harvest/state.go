// Package harvest drives a run: one identifier at a time through
// resolution, extraction and persistence, keeping the browser session
// healthy along the way.
package harvest

import (
	"github.com/use-agent/partharvest/models"
)

// ItemStatus is where an identifier ended up.
type ItemStatus string

const (
	ItemCommitted ItemStatus = "committed"
	ItemSkipped   ItemStatus = "skipped"
)

// ItemOutcome records how one identifier was handled.
type ItemOutcome struct {
	Identifier string
	Status     ItemStatus
	Code       string
	Err        error
}

// RunState is the result set and bookkeeping of a run. Each step takes the
// state and returns the updated value.
type RunState struct {
	Results  []*models.ProductRecord
	Outcomes []ItemOutcome

	Committed int
	Skipped   int

	Halted     bool
	HaltReason string

	// dirty is set while Results holds records the sink has not written.
	dirty bool
}

func (s RunState) commit(rec *models.ProductRecord) RunState {
	s.Results = append(s.Results, rec)
	s.Outcomes = append(s.Outcomes, ItemOutcome{Identifier: rec.Identifier, Status: ItemCommitted})
	s.Committed++
	s.dirty = true
	return s
}

func (s RunState) skip(identifier string, err error) RunState {
	s.Outcomes = append(s.Outcomes, ItemOutcome{
		Identifier: identifier,
		Status:     ItemSkipped,
		Code:       models.CodeOf(err),
		Err:        err,
	})
	s.Skipped++
	return s
}

func (s RunState) halt(reason string) RunState {
	s.Halted = true
	s.HaltReason = reason
	return s
}

// Processed is the number of identifiers that reached a final state.
func (s RunState) Processed() int { return s.Committed + s.Skipped }
