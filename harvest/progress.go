package harvest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/partharvest/models"
)

// Progress is the run view shared with the status API. Counters are atomic;
// the few strings sit behind a mutex.
type Progress struct {
	requested atomic.Int64
	committed atomic.Int64
	skipped   atomic.Int64
	restarts  atomic.Int64
	rotations atomic.Int64
	halted    atomic.Bool

	mu         sync.Mutex
	current    string
	haltReason string
	lastError  *models.ErrorDetail
	startedAt  time.Time
	finishedAt *time.Time

	csvPath  string
	jsonPath string
}

// NewProgress creates a progress view for a run writing to the given
// artifact paths.
func NewProgress(csvPath, jsonPath string) *Progress {
	return &Progress{csvPath: csvPath, jsonPath: jsonPath}
}

func (p *Progress) start(requested int) {
	p.requested.Store(int64(requested))
	p.mu.Lock()
	p.startedAt = time.Now()
	p.mu.Unlock()
}

func (p *Progress) setCurrent(identifier string) {
	p.mu.Lock()
	p.current = identifier
	p.mu.Unlock()
}

func (p *Progress) record(status ItemStatus, err error) {
	switch status {
	case ItemCommitted:
		p.committed.Add(1)
	case ItemSkipped:
		p.skipped.Add(1)
	}
	if err == nil {
		return
	}
	detail := &models.ErrorDetail{Code: models.CodeOf(err), Message: err.Error()}
	var he *models.HarvestError
	if errors.As(err, &he) {
		detail = he.ToDetail()
	}
	p.mu.Lock()
	p.lastError = detail
	p.mu.Unlock()
}

func (p *Progress) setSessions(restarts, rotations int) {
	p.restarts.Store(int64(restarts))
	p.rotations.Store(int64(rotations))
}

func (p *Progress) finish(state RunState) {
	now := time.Now()
	p.halted.Store(state.Halted)
	p.mu.Lock()
	p.current = ""
	p.haltReason = state.HaltReason
	p.finishedAt = &now
	p.mu.Unlock()
}

// Done reports whether the run has finished.
func (p *Progress) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finishedAt != nil
}

// Snapshot returns a consistent-enough copy for display.
func (p *Progress) Snapshot() models.RunSummary {
	committed := int(p.committed.Load())
	skipped := int(p.skipped.Load())

	p.mu.Lock()
	defer p.mu.Unlock()
	s := models.RunSummary{
		Requested:  int(p.requested.Load()),
		Processed:  committed + skipped,
		Committed:  committed,
		Skipped:    skipped,
		Restarts:   int(p.restarts.Load()),
		Rotations:  int(p.rotations.Load()),
		Current:    p.current,
		Halted:     p.halted.Load(),
		HaltReason: p.haltReason,
		LastError:  p.lastError,
		StartedAt:  p.startedAt,
		CSVPath:    p.csvPath,
		JSONPath:   p.jsonPath,
	}
	if p.finishedAt != nil {
		t := *p.finishedAt
		s.FinishedAt = &t
	}
	return s
}
