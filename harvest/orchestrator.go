package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/use-agent/partharvest/config"
	"github.com/use-agent/partharvest/models"
	"github.com/use-agent/partharvest/scraper"
)

// SessionManager owns the browser session the loop works in.
type SessionManager interface {
	Acquire(ctx context.Context) (*scraper.Session, error)
	MarkRequest() int
	Requests() int
	Restart(ctx context.Context, reason string) (*scraper.Session, error)
	RotateIdentity(ctx context.Context) (*scraper.Session, error)
	RecoverPage(ctx context.Context) (*scraper.Session, error)
	Connected(ctx context.Context) bool
	HasProxies() bool
	Restarts() int
	Rotations() int
}

// Resolver loads the product page of an identifier.
type Resolver interface {
	Resolve(ctx context.Context, tab scraper.Tab, identifier string) (string, error)
}

// Extractor reads the loaded product page.
type Extractor interface {
	Extract(ctx context.Context, tab scraper.Tab, identifier string) (*models.ProductRecord, error)
}

// Sink persists the full result set.
type Sink interface {
	Commit(records []*models.ProductRecord) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Sessions  SessionManager
	Resolver  Resolver
	Extractor Extractor
	Sink      Sink
	Progress  *Progress
}

// Orchestrator processes identifiers strictly one after another.
type Orchestrator struct {
	deps      Deps
	policy    scraper.Policy
	pacingMin time.Duration
	pacingMax time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand
}

// New creates an orchestrator. A nil Progress gets a private one.
func New(deps Deps, cfg config.HarvestConfig) *Orchestrator {
	if deps.Progress == nil {
		deps.Progress = NewProgress("", "")
	}
	return &Orchestrator{
		deps:      deps,
		policy:    scraper.Policy{RestartEvery: cfg.RestartEvery, RotateEvery: cfg.RotateEvery},
		pacingMin: cfg.PacingMin,
		pacingMax: cfg.PacingMax,
		sleep:     scraper.Sleep,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// errFatal marks failures that end the run.
var errFatal = errors.New("run cannot continue")

// Run works through identifiers and returns the final state. It stops early
// on interruption or when the browser cannot be brought back; everything
// committed up to that point stays on disk.
func (o *Orchestrator) Run(ctx context.Context, identifiers []string) RunState {
	state := RunState{Results: []*models.ProductRecord{}}
	progress := o.deps.Progress
	progress.start(len(identifiers))
	defer func() { progress.finish(state) }()

	for i, id := range identifiers {
		if err := ctx.Err(); err != nil {
			state = state.halt("interrupted")
			break
		}

		log := slog.With("identifier", id, "item", i+1, "of", len(identifiers))
		progress.setCurrent(id)

		var err error
		state, err = o.step(ctx, state, id, log)
		if err != nil {
			state = state.halt(err.Error())
			log.Error("run halted", "error", err)
			break
		}
		if ctx.Err() != nil {
			state = state.halt("interrupted")
			break
		}
		if i == len(identifiers)-1 {
			break
		}

		// ── Pacing ───────────────────────────────────────────────────
		delay := o.pacingDelay()
		log.Info("waiting before next request", "delay", delay.Round(100*time.Millisecond))
		if err := o.sleep(ctx, delay); err != nil {
			state = state.halt("interrupted")
			break
		}

		// ── Session policy ───────────────────────────────────────────
		if err := o.applyPolicy(ctx, log); err != nil {
			state = state.halt(err.Error())
			log.Error("run halted", "error", err)
			break
		}
		progress.setSessions(o.deps.Sessions.Restarts(), o.deps.Sessions.Rotations())
	}

	// A failed commit leaves records unwritten; try once more before exit.
	if state.dirty {
		state = o.flush(state)
	}
	progress.setSessions(o.deps.Sessions.Restarts(), o.deps.Sessions.Rotations())
	return state
}

// step processes one identifier and counts it against the session it ran
// in. The returned error is fatal for the run; per-identifier failures are
// recorded in the state.
func (o *Orchestrator) step(ctx context.Context, state RunState, id string, log *slog.Logger) (RunState, error) {
	session, err := o.deps.Sessions.Acquire(ctx)
	if err != nil && ctx.Err() == nil {
		log.Warn("no browser session, restarting", "error", err)
		session, err = o.deps.Sessions.Restart(ctx, "acquire failed")
	}
	if err != nil {
		// A launch cut short by an interrupt is not a broken browser.
		if ctx.Err() != nil {
			err = models.NewHarvestError(models.ErrCodeInterrupted, "interrupted before harvesting", err)
			state = state.skip(id, err)
			o.deps.Progress.record(ItemSkipped, err)
			return state, nil
		}
		state = state.skip(id, err)
		o.deps.Progress.record(ItemSkipped, err)
		return state, fmt.Errorf("%w: browser unavailable: %v", errFatal, err)
	}

	log.Info("harvesting")
	rec, err := o.harvest(ctx, session.Tab(), id)
	o.deps.Sessions.MarkRequest()
	if err != nil {
		state = state.skip(id, err)
		o.deps.Progress.record(ItemSkipped, err)
		log.Warn("identifier skipped", "code", models.CodeOf(err), "error", err)

		if models.IsCode(err, models.ErrCodeInterrupted) || ctx.Err() != nil {
			return state, nil
		}
		if err := o.recoverSession(ctx, err, log); err != nil {
			return state, err
		}
		return state, nil
	}

	state = state.commit(rec)
	o.deps.Progress.record(ItemCommitted, nil)
	state = o.flush(state)
	log.Info("record saved", "total", len(state.Results))
	return state, nil
}

// harvest resolves and extracts one identifier. Panics from the browser
// layer are turned into errors.
func (o *Orchestrator) harvest(ctx context.Context, tab scraper.Tab, id string) (rec *models.ProductRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("recovered panic", "identifier", id, "stack", string(debug.Stack()))
			rec, err = nil, models.NewHarvestError(models.ErrCodeInternal, "panic while harvesting", fmt.Errorf("%v", r))
		}
	}()

	if _, err := o.deps.Resolver.Resolve(ctx, tab, id); err != nil {
		return nil, err
	}
	rec, err = o.deps.Extractor.Extract(ctx, tab, id)
	if err != nil {
		return nil, err
	}
	if rec.Identifier != id {
		return nil, models.NewHarvestError(models.ErrCodeInternal, fmt.Sprintf("record for %q returned for %q", rec.Identifier, id), nil)
	}
	return rec, nil
}

// recoverSession brings the session back after a failed identifier. A
// clean "not found" needs nothing. Otherwise a dead browser is restarted
// and a broken page is replaced; failing both ends the run.
func (o *Orchestrator) recoverSession(ctx context.Context, cause error, log *slog.Logger) error {
	code := models.CodeOf(cause)
	if code == models.ErrCodeResolution {
		return nil
	}

	if !o.deps.Sessions.Connected(ctx) {
		log.Warn("browser disconnected, restarting")
		if _, err := o.deps.Sessions.Restart(ctx, "browser disconnected"); err != nil {
			return fmt.Errorf("%w: restart after disconnect: %v", errFatal, err)
		}
		return nil
	}

	switch code {
	case models.ErrCodePageUnreadable, models.ErrCodeInternal, models.ErrCodeBrowserDisconnected:
	default:
		return nil
	}
	if _, err := o.deps.Sessions.RecoverPage(ctx); err != nil {
		log.Warn("page recovery failed, restarting", "error", err)
		if _, err := o.deps.Sessions.Restart(ctx, "page recovery failed"); err != nil {
			return fmt.Errorf("%w: restart after page failure: %v", errFatal, err)
		}
	}
	return nil
}

// applyPolicy restarts or rotates the session as the policy asks.
func (o *Orchestrator) applyPolicy(ctx context.Context, log *slog.Logger) error {
	requests := o.deps.Sessions.Requests()
	switch o.policy.Decide(requests, o.deps.Sessions.HasProxies()) {
	case scraper.ActionRestart:
		if _, err := o.deps.Sessions.Restart(ctx, fmt.Sprintf("session served %d items", requests)); err != nil {
			return fmt.Errorf("%w: scheduled restart: %v", errFatal, err)
		}
	case scraper.ActionRotate:
		if _, err := o.deps.Sessions.RotateIdentity(ctx); err != nil {
			log.Warn("identity rotation failed, restarting", "error", err)
			if _, err := o.deps.Sessions.Restart(ctx, "rotation failed"); err != nil {
				return fmt.Errorf("%w: restart after rotation: %v", errFatal, err)
			}
		}
	}
	return nil
}

// flush hands the result set to the sink. A failure is logged and retried
// with the next commit.
func (o *Orchestrator) flush(state RunState) RunState {
	if err := o.deps.Sink.Commit(state.Results); err != nil {
		slog.Error("commit failed, results kept in memory", "records", len(state.Results), "error", err)
		return state
	}
	state.dirty = false
	return state
}

// pacingDelay is uniform in [pacingMin, pacingMax].
func (o *Orchestrator) pacingDelay() time.Duration {
	if o.pacingMax <= o.pacingMin {
		return o.pacingMin
	}
	return o.pacingMin + time.Duration(o.rng.Int63n(int64(o.pacingMax-o.pacingMin)+1))
}
