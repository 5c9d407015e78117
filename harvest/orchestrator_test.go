package harvest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/use-agent/partharvest/config"
	"github.com/use-agent/partharvest/models"
	"github.com/use-agent/partharvest/scraper"
	"github.com/use-agent/partharvest/scraper/scrapertest"
)

type fakeSessions struct {
	session  *scraper.Session
	requests int
	proxies  bool

	disconnected bool
	acquireErr   error
	restartErr   error
	onAcquire    func()
	onRestart    func()
	rotateErr    error
	recoverErr   error

	restarts  int
	rotations int
	events    []string
}

func (f *fakeSessions) Acquire(context.Context) (*scraper.Session, error) {
	if f.onAcquire != nil {
		f.onAcquire()
	}
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	if f.session == nil {
		f.session = scraper.NewSession(scraper.Identity{}, &scrapertest.Tab{})
		f.requests = 0
	}
	return f.session, nil
}

func (f *fakeSessions) MarkRequest() int { f.requests++; return f.requests }
func (f *fakeSessions) Requests() int    { return f.requests }
func (f *fakeSessions) HasProxies() bool { return f.proxies }
func (f *fakeSessions) Restarts() int    { return f.restarts }
func (f *fakeSessions) Rotations() int   { return f.rotations }

func (f *fakeSessions) Restart(ctx context.Context, reason string) (*scraper.Session, error) {
	f.events = append(f.events, "restart")
	if f.onRestart != nil {
		f.onRestart()
	}
	f.session = nil
	if f.restartErr != nil {
		return nil, f.restartErr
	}
	f.disconnected = false
	f.restarts++
	return f.Acquire(ctx)
}

func (f *fakeSessions) RotateIdentity(context.Context) (*scraper.Session, error) {
	f.events = append(f.events, "rotate")
	if f.rotateErr != nil {
		return nil, f.rotateErr
	}
	f.rotations++
	return f.session, nil
}

func (f *fakeSessions) RecoverPage(context.Context) (*scraper.Session, error) {
	f.events = append(f.events, "recover")
	return f.session, f.recoverErr
}

func (f *fakeSessions) Connected(context.Context) bool {
	f.events = append(f.events, "probe")
	return !f.disconnected
}

// fakeResolver fails or panics per identifier.
type fakeResolver struct {
	errs   map[string]error
	panics map[string]bool
	onCall func(id string)
}

func (r *fakeResolver) Resolve(_ context.Context, _ scraper.Tab, id string) (string, error) {
	if r.onCall != nil {
		r.onCall(id)
	}
	if r.panics[id] {
		panic("element not found")
	}
	if err := r.errs[id]; err != nil {
		return "", err
	}
	return "https://www.sick.com/p/" + id, nil
}

type fakeExtractor struct {
	errs    map[string]error
	renamed map[string]string
}

func (e *fakeExtractor) Extract(_ context.Context, _ scraper.Tab, id string) (*models.ProductRecord, error) {
	if err := e.errs[id]; err != nil {
		return nil, err
	}
	rec := models.NewProductRecord(id)
	if other, ok := e.renamed[id]; ok {
		rec.Identifier = other
	}
	rec.Name = "name of " + id
	return rec, nil
}

type fakeSink struct {
	fail    int
	commits [][]string
}

func (s *fakeSink) Commit(records []*models.ProductRecord) error {
	if s.fail > 0 {
		s.fail--
		return errors.New("disk full")
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.Identifier
	}
	s.commits = append(s.commits, ids)
	return nil
}

type harness struct {
	sessions  *fakeSessions
	resolver  *fakeResolver
	extractor *fakeExtractor
	sink      *fakeSink
	progress  *Progress
	delays    []time.Duration
	orch      *Orchestrator
}

func newHarness(cfg config.HarvestConfig) *harness {
	h := &harness{
		sessions:  &fakeSessions{},
		resolver:  &fakeResolver{},
		extractor: &fakeExtractor{},
		sink:      &fakeSink{},
		progress:  NewProgress("out/products.csv", "out/products.json"),
	}
	h.orch = New(Deps{
		Sessions:  h.sessions,
		Resolver:  h.resolver,
		Extractor: h.extractor,
		Sink:      h.sink,
		Progress:  h.progress,
	}, cfg)
	h.orch.sleep = func(ctx context.Context, d time.Duration) error {
		h.delays = append(h.delays, d)
		return ctx.Err()
	}
	return h
}

func defaultHarvest() config.HarvestConfig {
	return config.HarvestConfig{
		RestartEvery: 20,
		RotateEvery:  5,
		PacingMin:    3 * time.Second,
		PacingMax:    7 * time.Second,
	}
}

func identifiersOf(records []*models.ProductRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.Identifier
	}
	return ids
}

func TestRun_CommitsEveryRecord(t *testing.T) {
	h := newHarness(defaultHarvest())

	state := h.orch.Run(context.Background(), []string{"a", "b", "c"})

	require.False(t, state.Halted)
	require.Equal(t, 3, state.Committed)
	require.Equal(t, []string{"a", "b", "c"}, identifiersOf(state.Results))
	require.Equal(t, [][]string{{"a"}, {"a", "b"}, {"a", "b", "c"}}, h.sink.commits)

	require.Len(t, h.delays, 2, "no pacing after the last item")
	for _, d := range h.delays {
		require.GreaterOrEqual(t, d, 3*time.Second)
		require.LessOrEqual(t, d, 7*time.Second)
	}
	require.Equal(t, 3, h.sessions.requests)
}

func TestRun_SkipsFailures(t *testing.T) {
	h := newHarness(defaultHarvest())
	notFound := models.NewHarvestError(models.ErrCodeResolution, "no result link", scraper.ErrNotFound)
	h.resolver.errs = map[string]error{"b": notFound}
	h.extractor.errs = map[string]error{"c": models.NewHarvestError(models.ErrCodePageUnreadable, "snapshot", nil)}

	state := h.orch.Run(context.Background(), []string{"a", "b", "c", "d"})

	require.False(t, state.Halted)
	require.Equal(t, []string{"a", "d"}, identifiersOf(state.Results))
	require.Equal(t, 2, state.Skipped)
	require.Equal(t, []ItemOutcome{
		{Identifier: "a", Status: ItemCommitted},
		{Identifier: "b", Status: ItemSkipped, Code: models.ErrCodeResolution, Err: notFound},
		{Identifier: "c", Status: ItemSkipped, Code: models.ErrCodePageUnreadable, Err: h.extractor.errs["c"]},
		{Identifier: "d", Status: ItemCommitted},
	}, state.Outcomes)

	// "not found" needs no recovery; an unreadable page gets a new one.
	require.Equal(t, []string{"probe", "recover"}, h.sessions.events)
	require.Equal(t, 4, state.Processed())
}

func TestRun_RecoversFromPanic(t *testing.T) {
	h := newHarness(defaultHarvest())
	h.resolver.panics = map[string]bool{"a": true}

	state := h.orch.Run(context.Background(), []string{"a", "b"})

	require.Equal(t, []string{"b"}, identifiersOf(state.Results))
	require.Equal(t, models.ErrCodeInternal, state.Outcomes[0].Code)
	require.Equal(t, []string{"probe", "recover"}, h.sessions.events)
}

func TestRun_RestartsDisconnectedBrowser(t *testing.T) {
	h := newHarness(defaultHarvest())
	h.resolver.errs = map[string]error{"a": models.NewHarvestError(models.ErrCodeNavigation, "target closed", nil)}
	h.sessions.disconnected = true

	state := h.orch.Run(context.Background(), []string{"a", "b"})

	require.False(t, state.Halted)
	require.Equal(t, []string{"b"}, identifiersOf(state.Results))
	require.Equal(t, []string{"probe", "restart"}, h.sessions.events)
	require.Equal(t, 1, h.sessions.restarts)
	require.Equal(t, 1, h.sessions.requests, "counter restarts with the new session")
}

func TestRun_HaltsWhenRestartFails(t *testing.T) {
	h := newHarness(defaultHarvest())
	h.resolver.errs = map[string]error{"b": models.NewHarvestError(models.ErrCodeNavigation, "target closed", nil)}
	h.sessions.disconnected = true
	h.sessions.restartErr = errors.New("chrome failed to start")

	state := h.orch.Run(context.Background(), []string{"a", "b", "c"})

	require.True(t, state.Halted)
	require.Contains(t, state.HaltReason, "chrome failed to start")
	require.Equal(t, []string{"a"}, identifiersOf(state.Results))
	require.Equal(t, 2, state.Processed(), "c is never attempted")
	require.Equal(t, [][]string{{"a"}}, h.sink.commits)
}

func TestRun_InterruptedWhileAcquiring(t *testing.T) {
	h := newHarness(defaultHarvest())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sessions.acquireErr = context.Canceled
	h.sessions.onAcquire = cancel

	state := h.orch.Run(ctx, []string{"a", "b"})

	require.True(t, state.Halted)
	require.Equal(t, "interrupted", state.HaltReason)
	require.Len(t, state.Outcomes, 1)
	require.Equal(t, models.ErrCodeInterrupted, state.Outcomes[0].Code)
	require.NotContains(t, h.sessions.events, "restart")
}

func TestRun_InterruptedWhileRestarting(t *testing.T) {
	h := newHarness(defaultHarvest())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sessions.acquireErr = errors.New("no page")
	h.sessions.restartErr = context.Canceled
	h.sessions.onRestart = cancel

	state := h.orch.Run(ctx, []string{"a", "b"})

	require.True(t, state.Halted)
	require.Equal(t, "interrupted", state.HaltReason)
	require.Equal(t, []string{"restart"}, h.sessions.events)
	require.Equal(t, models.ErrCodeInterrupted, state.Outcomes[0].Code)
	require.Equal(t, 1, state.Processed())
}

func TestRun_NavigationFailureWithLiveBrowser(t *testing.T) {
	h := newHarness(defaultHarvest())
	h.resolver.errs = map[string]error{"a": models.NewHarvestError(models.ErrCodeNavigation, "timeout", nil)}

	state := h.orch.Run(context.Background(), []string{"a", "b"})

	require.Equal(t, []string{"b"}, identifiersOf(state.Results))
	require.Equal(t, []string{"probe"}, h.sessions.events)
}

func TestRun_SessionPolicy(t *testing.T) {
	cfg := defaultHarvest()
	cfg.RestartEvery = 3
	cfg.RotateEvery = 2
	ids := []string{"1", "2", "3", "4", "5", "6", "7"}

	t.Run("with proxies", func(t *testing.T) {
		h := newHarness(cfg)
		h.sessions.proxies = true
		h.orch.Run(context.Background(), ids)
		require.Equal(t, []string{"rotate", "restart", "rotate", "restart"}, h.sessions.events)
		require.Equal(t, 2, h.progress.Snapshot().Restarts)
		require.Equal(t, 2, h.progress.Snapshot().Rotations)
	})

	t.Run("without proxies", func(t *testing.T) {
		h := newHarness(cfg)
		h.orch.Run(context.Background(), ids)
		require.Equal(t, []string{"restart", "restart"}, h.sessions.events)
	})

	t.Run("rotation failure falls back to restart", func(t *testing.T) {
		h := newHarness(cfg)
		h.sessions.proxies = true
		h.sessions.rotateErr = errors.New("context disposed")
		state := h.orch.Run(context.Background(), ids[:3])
		require.False(t, state.Halted)
		require.Equal(t, []string{"rotate", "restart"}, h.sessions.events)
	})
}

func TestRun_Interrupted(t *testing.T) {
	h := newHarness(defaultHarvest())
	ctx, cancel := context.WithCancel(context.Background())
	h.orch.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	state := h.orch.Run(ctx, []string{"a", "b", "c"})

	require.True(t, state.Halted)
	require.Equal(t, "interrupted", state.HaltReason)
	require.Equal(t, []string{"a"}, identifiersOf(state.Results))
	require.Equal(t, [][]string{{"a"}}, h.sink.commits)
}

func TestRun_InterruptedMidItem(t *testing.T) {
	h := newHarness(defaultHarvest())
	ctx, cancel := context.WithCancel(context.Background())
	h.resolver.onCall = func(id string) {
		if id == "b" {
			cancel()
		}
	}
	h.resolver.errs = map[string]error{"b": models.NewHarvestError(models.ErrCodeInterrupted, "search navigation interrupted", context.Canceled)}

	state := h.orch.Run(ctx, []string{"a", "b", "c"})

	require.True(t, state.Halted)
	require.Equal(t, []string{"a"}, identifiersOf(state.Results))
	require.Equal(t, models.ErrCodeInterrupted, state.Outcomes[1].Code)
	require.Empty(t, h.sessions.events, "no recovery on interrupt")
}

func TestRun_DuplicatesProcessedAgain(t *testing.T) {
	h := newHarness(defaultHarvest())
	state := h.orch.Run(context.Background(), []string{"a", "a"})
	require.Equal(t, []string{"a", "a"}, identifiersOf(state.Results))
}

func TestRun_RecordMustMatchIdentifier(t *testing.T) {
	h := newHarness(defaultHarvest())
	h.extractor.renamed = map[string]string{"a": "zzz"}

	state := h.orch.Run(context.Background(), []string{"a"})

	require.Empty(t, state.Results)
	require.Equal(t, models.ErrCodeInternal, state.Outcomes[0].Code)
}

func TestRun_FailedCommitIsRetried(t *testing.T) {
	h := newHarness(defaultHarvest())
	h.sink.fail = 1

	state := h.orch.Run(context.Background(), []string{"a"})

	require.Equal(t, 1, state.Committed)
	require.Equal(t, [][]string{{"a"}}, h.sink.commits, "flushed on exit")
}

func TestRun_Progress(t *testing.T) {
	h := newHarness(defaultHarvest())
	h.resolver.errs = map[string]error{"b": models.NewHarvestError(models.ErrCodeResolution, "none", nil)}

	require.False(t, h.progress.Done())
	h.orch.Run(context.Background(), []string{"a", "b"})

	got := h.progress.Snapshot()
	require.True(t, h.progress.Done())
	require.Equal(t, 2, got.Requested)
	require.Equal(t, 2, got.Processed)
	require.Equal(t, 1, got.Committed)
	require.Equal(t, 1, got.Skipped)
	require.Empty(t, got.Current)
	require.False(t, got.Halted)
	require.NotNil(t, got.FinishedAt)
	require.Equal(t, "out/products.csv", got.CSVPath)
	require.NotNil(t, got.LastError)
	require.Equal(t, models.ErrCodeResolution, got.LastError.Code)
	require.Equal(t, "none", got.LastError.Message)
}

func TestPacingDelay(t *testing.T) {
	h := newHarness(config.HarvestConfig{PacingMin: time.Second, PacingMax: time.Second})
	require.Equal(t, time.Second, h.orch.pacingDelay())
}
