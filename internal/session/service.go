package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/codeterm/internal/events"
	"github.com/felixgeelhaar/codeterm/internal/runner"
	"github.com/felixgeelhaar/fortify/bulkhead"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptySource     = errors.New("source is empty")
	ErrDebugActive     = errors.New("debug session is active")
	ErrRunInProgress   = errors.New("run already in progress")
	ErrNotDebugging    = errors.New("no active debug session")
	ErrInvalidLine     = errors.New("line must be 1 or greater")
	ErrEmptyWatch      = errors.New("watch name is empty")
	ErrRunRejected     = errors.New("run rejected")
	ErrNoRunInFlight   = errors.New("no run in flight")
)

// Config holds session service configuration
type Config struct {
	DelayMin       time.Duration // lower bound of the simulated compile+run latency
	DelayMax       time.Duration
	MaxIterations  int
	MaxOutputBytes int
	Perf           PerfConfig

	MaxConcurrentRuns int
	MaxQueuedRuns     int
	QueueTimeout      time.Duration
}

// DefaultConfig returns default session service configuration
func DefaultConfig() Config {
	return Config{
		DelayMin:          800 * time.Millisecond,
		DelayMax:          1500 * time.Millisecond,
		MaxIterations:     runner.DefaultMaxIterations,
		MaxOutputBytes:    runner.DefaultMaxOutputBytes,
		Perf:              DefaultPerfConfig(),
		MaxConcurrentRuns: 8,
		MaxQueuedRuns:     32,
		QueueTimeout:      10 * time.Second,
	}
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the wall clock
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithRandom overrides the randomness source
func WithRandom(r Random) Option {
	return func(s *Service) { s.rnd = r }
}

// WithPublisher sets the lifecycle event publisher
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithExecutor overrides the execution engine
func WithExecutor(e runner.Executor) Option {
	return func(s *Service) { s.engine = e }
}

// WithStore overrides the session store
func WithStore(st Store) Option {
	return func(s *Service) { s.store = st }
}

// Service manages terminal sessions
type Service struct {
	cfg       Config
	store     Store
	engine    runner.Executor
	publisher events.Publisher
	clock     Clock
	bulkhead  bulkhead.Bulkhead[*runner.ExecutionResult]

	rndMu sync.Mutex
	rnd   Random

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	cancels map[string]*runHandle
	wg      sync.WaitGroup
}

// runHandle registers the cancel func of one run in flight. Each run owns
// its handle, so a finished run never unregisters its successor.
type runHandle struct {
	cancel context.CancelFunc
}

// NewService creates a new session service
func NewService(cfg Config, opts ...Option) *Service {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 8
	}
	if cfg.MaxQueuedRuns < 0 {
		cfg.MaxQueuedRuns = 0
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = 10 * time.Second
	}

	s := &Service{
		cfg:       cfg,
		store:     NewMemoryStore(),
		engine:    runner.NewEngine(runner.EngineConfig{MaxIterations: cfg.MaxIterations, MaxOutputBytes: cfg.MaxOutputBytes}),
		publisher: events.NopPublisher{},
		clock:     RealClock(),
		rnd:       NewRandom(),
		locks:     make(map[string]*sync.Mutex),
		cancels:   make(map[string]*runHandle),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bulkhead = bulkhead.New[*runner.ExecutionResult](bulkhead.Config{
		MaxConcurrent: cfg.MaxConcurrentRuns,
		MaxQueue:      cfg.MaxQueuedRuns,
		QueueTimeout:  cfg.QueueTimeout,
	})
	return s
}

// RunRequest contains data for running code. A nil Source runs the
// session's current buffer.
type RunRequest struct {
	Source *string
}

// RunOutcome is the session after a run plus the engine result. Result is
// nil when the run was cancelled or rejected.
type RunOutcome struct {
	Session *Session
	Result  *runner.ExecutionResult
}

// Create starts a new terminal session seeded with the language template
func (s *Service) Create(ctx context.Context, lang runner.Language) (*Session, error) {
	if !lang.IsValid() {
		return nil, fmt.Errorf("%w: %s", runner.ErrUnsupportedLanguage, lang)
	}
	session, err := NewSession(lang, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	s.publish(ctx, events.TypeSessionCreated, session, nil)
	return session, nil
}

// Get retrieves a session by ID
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.load(id)
}

// List returns all sessions
func (s *Service) List(ctx context.Context) ([]*Session, error) {
	return s.store.List()
}

// Delete removes a session, cancelling any run in flight
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := s.remove(ctx, id, events.TypeSessionDeleted, nil)
	return err
}

// remove deletes a session under its lock and publishes event. A session
// that keep reports true for is left in place.
func (s *Service) remove(ctx context.Context, id string, event events.Type, keep func(*Session) bool) (bool, error) {
	lock := s.lock(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.load(id)
	if err != nil {
		return false, err
	}
	if keep != nil && keep(session) {
		return false, nil
	}
	s.cancelRun(id)
	if err := s.store.Delete(id); err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()

	s.publish(ctx, event, session, nil)
	return true, nil
}

// SetLanguage switches the session language, replacing the source buffer
// with the new template
func (s *Service) SetLanguage(ctx context.Context, id string, lang runner.Language) (*Session, error) {
	if !lang.IsValid() {
		return nil, fmt.Errorf("%w: %s", runner.ErrUnsupportedLanguage, lang)
	}
	session, err := s.mutate(id, func(sess *Session, now time.Time) error {
		return sess.SetLanguage(lang, now)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeLanguageChanged, session, nil)
	return session, nil
}

// UpdateSource replaces the session source buffer
func (s *Service) UpdateSource(ctx context.Context, id, source string) (*Session, error) {
	return s.mutate(id, func(sess *Session, now time.Time) error {
		sess.UpdateSource(source, now)
		return nil
	})
}

// ClearOutput empties the session transcript
func (s *Service) ClearOutput(ctx context.Context, id string) (*Session, error) {
	return s.mutate(id, func(sess *Session, now time.Time) error {
		sess.ClearOutput(now)
		return nil
	})
}

// Run executes the session source through the simulated toolchain and
// blocks until the transcript is complete
func (s *Service) Run(ctx context.Context, id string, req RunRequest) (*RunOutcome, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	snapshot, run, err := s.beginRun(ctx, id, req, cancel)
	if err != nil {
		return nil, err
	}
	defer s.untrackRun(id, run)

	return s.completeRun(runCtx, snapshot, run)
}

// RunAsync starts a run in the background once the guard has accepted it
// and returns the session in its Running state
func (s *Service) RunAsync(ctx context.Context, id string, req RunRequest) (*Session, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	snapshot, run, err := s.beginRun(ctx, id, req, cancel)
	if err != nil {
		cancel()
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer s.untrackRun(id, run)
		if _, err := s.completeRun(runCtx, snapshot, run); err != nil {
			slog.Warn("background run did not complete", "session_id", id, "error", err)
		}
	}()

	return snapshot, nil
}

// CancelRun aborts the run in flight for a session
func (s *Service) CancelRun(ctx context.Context, id string) error {
	if _, err := s.load(id); err != nil {
		return err
	}
	if !s.cancelRun(id) {
		return ErrNoRunInFlight
	}
	return nil
}

// beginRun applies the entry guard, writes the banner lines and registers
// cancel for the run while the session lock is held
func (s *Service) beginRun(ctx context.Context, id string, req RunRequest, cancel context.CancelFunc) (*Session, *runHandle, error) {
	var run *runHandle
	session, err := s.mutate(id, func(sess *Session, now time.Time) error {
		source := sess.Source
		if req.Source != nil {
			source = *req.Source
		}
		if strings.TrimSpace(source) == "" {
			return ErrEmptySource
		}
		if sess.Debug.Active {
			return ErrDebugActive
		}
		if sess.Running {
			return ErrRunInProgress
		}

		cfg, err := runner.ConfigFor(sess.Language)
		if err != nil {
			return err
		}
		sess.Source = source
		sess.Running = true
		sess.LastResult = nil
		sess.Transcript = bannerLines(cfg)
		sess.UpdatedAt = now
		run = s.trackRun(sess.ID, cancel)
		return nil
	})
	if err != nil {
		if run != nil {
			s.untrackRun(id, run)
		}
		return nil, nil, err
	}
	s.publish(ctx, events.TypeRunStarted, session, nil)
	return session, run, nil
}

// completeRun waits out the simulated latency, executes the engine once on
// the entry snapshot and records the outcome
func (s *Service) completeRun(ctx context.Context, snapshot *Session, run *runHandle) (*RunOutcome, error) {
	cfg, err := runner.ConfigFor(snapshot.Language)
	if err != nil {
		return nil, err
	}

	start := s.clock.Now()
	delay := s.delay()
	result, runErr := s.bulkhead.Execute(ctx, func(ctx context.Context) (*runner.ExecutionResult, error) {
		select {
		case <-s.clock.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return s.engine.Execute(snapshot.Source, snapshot.Language), nil
	})
	elapsed := s.clock.Now().Sub(start)

	var perf PerformanceSample
	if runErr == nil && result.Error == nil {
		perf = s.samplePerf(elapsed)
	}

	cancelled := runErr != nil && ctx.Err() != nil
	session, err := s.mutate(snapshot.ID, func(sess *Session, now time.Time) error {
		s.untrackRun(sess.ID, run)
		switch {
		case cancelled:
			sess.Running = false
			sess.UpdatedAt = now
			sess.appendLines(lineCancelled)
		case runErr != nil:
			sess.Running = false
			sess.UpdatedAt = now
			sess.appendLines(fmt.Sprintf(lineRejectedFormat, runErr))
		default:
			sess.applyOutcome(cfg, result, elapsed, perf, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case cancelled:
		s.publish(ctx, events.TypeRunCancelled, session, nil)
		return &RunOutcome{Session: session}, ctx.Err()
	case runErr != nil:
		slog.Warn("run rejected by bulkhead", "session_id", session.ID, "error", runErr)
		return &RunOutcome{Session: session}, fmt.Errorf("%w: %v", ErrRunRejected, runErr)
	case result.Error != nil:
		s.publish(ctx, events.TypeRunFailed, session, map[string]any{
			"kind":  string(result.Error.Kind),
			"error": result.Error.Message,
		})
	default:
		s.publish(ctx, events.TypeRunCompleted, session, map[string]any{
			"elapsed_ms": elapsed.Milliseconds(),
		})
	}

	slog.Debug("run finished",
		"session_id", session.ID,
		"language", session.Language,
		"ok", result.OK(),
		"elapsed", elapsed,
	)
	return &RunOutcome{Session: session, Result: result}, nil
}

// StartDebug activates the mock debugger on the current source
func (s *Service) StartDebug(ctx context.Context, id string) (*Session, error) {
	session, err := s.mutate(id, func(sess *Session, now time.Time) error {
		if strings.TrimSpace(sess.Source) == "" {
			return ErrEmptySource
		}
		if sess.Running {
			return ErrRunInProgress
		}
		if sess.Debug.Active {
			return ErrDebugActive
		}
		cfg, err := runner.ConfigFor(sess.Language)
		if err != nil {
			return err
		}
		sess.Debug.start(sess.Source, cfg.FileName, s.cfg.Perf)
		sess.appendLines(debugStartedLine(cfg, sess.Debug.LineCount))
		sess.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeDebugStarted, session, map[string]any{"line_count": session.Debug.LineCount})
	return session, nil
}

// StepOver advances the debugger by one line
func (s *Service) StepOver(ctx context.Context, id string) (*Session, error) {
	session, err := s.mutate(id, func(sess *Session, now time.Time) error {
		if !sess.Debug.Active {
			return ErrNotDebugging
		}
		cfg, err := runner.ConfigFor(sess.Language)
		if err != nil {
			return err
		}
		sess.Debug.stepOver(cfg.FileName, s.cfg.Perf)
		sess.appendLines(steppedLine(sess.Debug.CurrentLine))
		sess.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeDebugStepped, session, map[string]any{"line": session.Debug.CurrentLine})
	return session, nil
}

// StopDebug terminates the debugger. Stopping an inactive debugger is a no-op.
func (s *Service) StopDebug(ctx context.Context, id string) (*Session, error) {
	wasActive := false
	session, err := s.mutate(id, func(sess *Session, now time.Time) error {
		if !sess.Debug.Active {
			return nil
		}
		wasActive = true
		sess.Debug.stop()
		sess.appendLines(lineDebugStopped)
		sess.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if wasActive {
		s.publish(ctx, events.TypeDebugStopped, session, nil)
	}
	return session, nil
}

// AddBreakpoint marks a line. Breakpoints are display state only.
func (s *Service) AddBreakpoint(ctx context.Context, id string, line int) (*Session, error) {
	if line < 1 {
		return nil, ErrInvalidLine
	}
	return s.mutate(id, func(sess *Session, now time.Time) error {
		sess.Debug.addBreakpoint(line)
		sess.UpdatedAt = now
		return nil
	})
}

// RemoveBreakpoint unmarks a line
func (s *Service) RemoveBreakpoint(ctx context.Context, id string, line int) (*Session, error) {
	if line < 1 {
		return nil, ErrInvalidLine
	}
	return s.mutate(id, func(sess *Session, now time.Time) error {
		sess.Debug.removeBreakpoint(line)
		sess.UpdatedAt = now
		return nil
	})
}

// AddWatch adds a watch name
func (s *Service) AddWatch(ctx context.Context, id, name string) (*Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyWatch
	}
	return s.mutate(id, func(sess *Session, now time.Time) error {
		sess.Debug.addWatch(name)
		sess.UpdatedAt = now
		return nil
	})
}

// RemoveWatch removes a watch name
func (s *Service) RemoveWatch(ctx context.Context, id, name string) (*Session, error) {
	name = strings.TrimSpace(name)
	return s.mutate(id, func(sess *Session, now time.Time) error {
		sess.Debug.removeWatch(name)
		sess.UpdatedAt = now
		return nil
	})
}

// ExpireIdle deletes sessions untouched for longer than ttl. Sessions with a
// run in flight are kept. Each expired session publishes session.expired in
// place of session.deleted.
func (s *Service) ExpireIdle(ctx context.Context, ttl time.Duration) (int, error) {
	sessions, err := s.store.List()
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	cutoff := s.clock.Now().Add(-ttl)
	active := func(sess *Session) bool {
		return sess.Running || !sess.UpdatedAt.Before(cutoff)
	}
	expired := 0
	for _, session := range sessions {
		if active(session) {
			continue
		}
		removed, err := s.remove(ctx, session.ID, events.TypeSessionExpired, active)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			return expired, err
		}
		if removed {
			expired++
		}
	}
	return expired, nil
}

// Shutdown cancels background runs and waits for them to finish
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, run := range s.cancels {
		run.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mutate serialises a read-modify-write of one session
func (s *Service) mutate(id string, fn func(sess *Session, now time.Time) error) (*Session, error) {
	lock := s.lock(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if err := fn(session, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.store.Save(session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

func (s *Service) load(id string) (*Session, error) {
	session, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

func (s *Service) lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Service) trackRun(id string, cancel context.CancelFunc) *runHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &runHandle{cancel: cancel}
	s.cancels[id] = run
	return run
}

// untrackRun removes run if it is still the registered run of the session
func (s *Service) untrackRun(id string, run *runHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancels[id] == run {
		delete(s.cancels, id)
	}
}

func (s *Service) cancelRun(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.cancels[id]
	if ok {
		run.cancel()
	}
	return ok
}

func (s *Service) delay() time.Duration {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return randomDelay(s.cfg.DelayMin, s.cfg.DelayMax, s.rnd)
}

func (s *Service) samplePerf(elapsed time.Duration) PerformanceSample {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return s.cfg.Perf.sampleRun(elapsed, s.rnd)
}

// publish delivers a lifecycle event. Failures are logged and never
// returned to the caller.
func (s *Service) publish(ctx context.Context, typ events.Type, session *Session, data map[string]any) {
	event := events.New(typ, session.ID, string(session.Language), data)
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		slog.Warn("failed to publish terminal event",
			"type", typ,
			"session_id", session.ID,
			"error", err,
		)
	}
}
