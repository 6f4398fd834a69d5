package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/codeterm/internal/events"
	"github.com/felixgeelhaar/codeterm/internal/runner"
)

// fakeClock advances instantly when a delay is requested. With block set,
// delays never elapse.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	block bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if c.block {
		return ch
	}
	c.now = c.now.Add(d)
	ch <- c.now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeRandom replays scripted values, repeating the last one when exhausted
type fakeRandom struct {
	ints   []int
	floats []float64
}

func (r *fakeRandom) IntN(n int) int {
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[0]
	if len(r.ints) > 1 {
		r.ints = r.ints[1:]
	}
	return v % n
}

func (r *fakeRandom) Float64() float64 {
	if len(r.floats) == 0 {
		return 0
	}
	v := r.floats[0]
	if len(r.floats) > 1 {
		r.floats = r.floats[1:]
	}
	return v
}

// recordingPublisher captures published events. onPublish, when set, runs
// after each event is recorded.
type recordingPublisher struct {
	mu        sync.Mutex
	events    []events.Event
	err       error
	onPublish func(events.Event)
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	hook, err := p.onPublish, p.err
	p.mu.Unlock()
	if hook != nil {
		hook(event)
	}
	return err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type testEnv struct {
	svc   *Service
	clock *fakeClock
	rnd   *fakeRandom
	pub   *recordingPublisher
}

func setupTestService(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		clock: newFakeClock(),
		// delay draw, heap increment draw
		rnd: &fakeRandom{ints: []int{200, 5}, floats: []float64{0.5}},
		pub: &recordingPublisher{},
	}
	env.svc = NewService(DefaultConfig(),
		WithClock(env.clock),
		WithRandom(env.rnd),
		WithPublisher(env.pub),
	)
	return env
}

func createSession(t *testing.T, svc *Service, lang runner.Language) *Session {
	t.Helper()
	sess, err := svc.Create(context.Background(), lang)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return sess
}

func assertTranscript(t *testing.T, got, want []string) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Errorf("transcript mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestService_Create(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	sess := createSession(t, env.svc, runner.LanguageJava)

	tmpl, _ := runner.Template(runner.LanguageJava)
	if sess.Source != tmpl {
		t.Error("new session source should be the language template")
	}
	if sess.IsRunning() || sess.IsDebugging() {
		t.Error("new session should be idle")
	}

	loaded, err := env.svc.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if loaded.ID != sess.ID {
		t.Errorf("ID = %q; want %q", loaded.ID, sess.ID)
	}

	if _, err := env.svc.Create(ctx, runner.Language("cobol")); err == nil {
		t.Error("Create() should reject unsupported languages")
	}
	if got := env.pub.types(); !slices.Equal(got, []events.Type{events.TypeSessionCreated}) {
		t.Errorf("events = %v", got)
	}
}

func TestService_Get_NotFound(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.Get(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() error = %v; want ErrSessionNotFound", err)
	}
}

func TestService_Run_Success(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	sess := createSession(t, env.svc, runner.LanguagePython)

	outcome, err := env.svc.Run(ctx, sess.ID, RunRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	assertTranscript(t, outcome.Session.Transcript, []string{
		"Compiling main.py with Python 3.11.4...",
		"$ python3 main.py",
		"Compilation successful",
		"Running main.py...",
		"Program completed in 1000ms with exit code 0",
		"",
		"--- Output ---",
		"1",
		"4",
		"9",
		"16",
		"25",
	})

	perf := outcome.Session.Perf
	if perf.ElapsedMs != 1000 {
		t.Errorf("ElapsedMs = %d; want 1000", perf.ElapsedMs)
	}
	if perf.HeapUsedBytes != 10*mb {
		t.Errorf("HeapUsedBytes = %d; want %d", perf.HeapUsedBytes, 10*mb)
	}
	if perf.HeapTotalBytes != 64*mb {
		t.Errorf("HeapTotalBytes = %d; want %d", perf.HeapTotalBytes, 64*mb)
	}
	if perf.CPUPercent != 45 {
		t.Errorf("CPUPercent = %v; want 45", perf.CPUPercent)
	}

	if outcome.Session.Running {
		t.Error("Running should be cleared after completion")
	}
	if outcome.Session.RunCount != 1 {
		t.Errorf("RunCount = %d; want 1", outcome.Session.RunCount)
	}
	if outcome.Result == nil || outcome.Result.Error != nil {
		t.Fatalf("Result = %+v; want success", outcome.Result)
	}

	want := []events.Type{events.TypeSessionCreated, events.TypeRunStarted, events.TypeRunCompleted}
	if got := env.pub.types(); !slices.Equal(got, want) {
		t.Errorf("events = %v; want %v", got, want)
	}
}

func TestService_Run_NoOutput(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	sess := createSession(t, env.svc, runner.LanguagePython)

	src := "x = 1"
	outcome, err := env.svc.Run(ctx, sess.ID, RunRequest{Source: &src})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	last := outcome.Session.Transcript[len(outcome.Session.Transcript)-1]
	if last != "(no output)" {
		t.Errorf("last transcript line = %q; want %q", last, "(no output)")
	}
	if outcome.Session.Source != src {
		t.Error("Run() with an explicit source should store that source")
	}
}

func TestService_Run_FailureLeavesPerfUnchanged(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	sess := createSession(t, env.svc, runner.LanguageJava)

	src := "public class Main {\n    void run() {}\n}"
	outcome, err := env.svc.Run(ctx, sess.ID, RunRequest{Source: &src})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	assertTranscript(t, outcome.Session.Transcript, []string{
		"Compiling Main.java with OpenJDK 17.0.2 (javac)...",
		"$ javac Main.java && java Main",
		"error: main method not found in class Main, please define the main method as:",
		"   public static void main(String[] args)",
		"Program failed with exit code 1",
	})
	if outcome.Session.Perf != (PerformanceSample{}) {
		t.Errorf("Perf = %+v; want unchanged zero sample", outcome.Session.Perf)
	}
	if outcome.Result.Error == nil {
		t.Error("Result should carry the compile error")
	}

	types := env.pub.types()
	if types[len(types)-1] != events.TypeRunFailed {
		t.Errorf("last event = %s; want %s", types[len(types)-1], events.TypeRunFailed)
	}
}

func TestService_Run_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown session", func(t *testing.T) {
		env := setupTestService(t)
		_, err := env.svc.Run(ctx, "missing", RunRequest{})
		if !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("error = %v; want ErrSessionNotFound", err)
		}
	})

	t.Run("whitespace source", func(t *testing.T) {
		env := setupTestService(t)
		sess := createSession(t, env.svc, runner.LanguageC)
		blank := "  \n\t "
		_, err := env.svc.Run(ctx, sess.ID, RunRequest{Source: &blank})
		if !errors.Is(err, ErrEmptySource) {
			t.Fatalf("error = %v; want ErrEmptySource", err)
		}
		after, _ := env.svc.Get(ctx, sess.ID)
		if after.Source == blank || len(after.Transcript) != 0 {
			t.Error("rejected run must not change state")
		}
	})

	t.Run("debug active", func(t *testing.T) {
		env := setupTestService(t)
		sess := createSession(t, env.svc, runner.LanguageC)
		if _, err := env.svc.StartDebug(ctx, sess.ID); err != nil {
			t.Fatalf("StartDebug() error = %v", err)
		}
		before, _ := env.svc.Get(ctx, sess.ID)

		_, err := env.svc.Run(ctx, sess.ID, RunRequest{})
		if !errors.Is(err, ErrDebugActive) {
			t.Fatalf("error = %v; want ErrDebugActive", err)
		}
		after, _ := env.svc.Get(ctx, sess.ID)
		assertTranscript(t, after.Transcript, before.Transcript)
	})
}

func TestService_RunAsync_ExclusiveAndCancellable(t *testing.T) {
	env := setupTestService(t)
	env.clock.block = true
	ctx := context.Background()
	sess := createSession(t, env.svc, runner.LanguageCPP)

	running, err := env.svc.RunAsync(ctx, sess.ID, RunRequest{})
	if err != nil {
		t.Fatalf("RunAsync() error = %v", err)
	}
	if !running.IsRunning() {
		t.Fatal("RunAsync() should return the session in its running state")
	}
	assertTranscript(t, running.Transcript, []string{
		"Compiling main.cpp with G++ 11.4.0 (C++17)...",
		"$ g++ -std=c++17 -Wall -o main main.cpp && ./main",
	})

	if _, err := env.svc.Run(ctx, sess.ID, RunRequest{}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second Run() error = %v; want ErrRunInProgress", err)
	}
	if _, err := env.svc.StartDebug(ctx, sess.ID); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("StartDebug() error = %v; want ErrRunInProgress", err)
	}

	if err := env.svc.CancelRun(ctx, sess.ID); err != nil {
		t.Fatalf("CancelRun() error = %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.svc.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	after, _ := env.svc.Get(ctx, sess.ID)
	if after.IsRunning() {
		t.Error("cancelled run should clear Running")
	}
	if last := after.Transcript[len(after.Transcript)-1]; last != "Run cancelled" {
		t.Errorf("last transcript line = %q; want %q", last, "Run cancelled")
	}
	if after.Perf != (PerformanceSample{}) {
		t.Error("cancelled run must not update performance")
	}
	if err := env.svc.CancelRun(ctx, sess.ID); !errors.Is(err, ErrNoRunInFlight) {
		t.Errorf("CancelRun() with nothing running = %v; want ErrNoRunInFlight", err)
	}
}

func TestService_RunStartedOnCompletionStaysCancellable(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	sess := createSession(t, env.svc, runner.LanguagePython)

	var (
		once     sync.Once
		asyncErr error
	)
	// A second run accepted while the first is still returning must keep
	// its own cancel registration.
	env.pub.onPublish = func(e events.Event) {
		if e.Type != events.TypeRunCompleted {
			return
		}
		once.Do(func() {
			env.clock.mu.Lock()
			env.clock.block = true
			env.clock.mu.Unlock()
			_, asyncErr = env.svc.RunAsync(ctx, sess.ID, RunRequest{})
		})
	}

	if _, err := env.svc.Run(ctx, sess.ID, RunRequest{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if asyncErr != nil {
		t.Fatalf("RunAsync() from completion error = %v", asyncErr)
	}

	current, err := env.svc.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !current.IsRunning() {
		t.Fatal("second run should be in flight")
	}
	if err := env.svc.CancelRun(ctx, sess.ID); err != nil {
		t.Fatalf("CancelRun() error = %v; want the second run cancelled", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.svc.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	after, _ := env.svc.Get(ctx, sess.ID)
	if after.IsRunning() {
		t.Error("cancelled run should clear Running")
	}
}

func TestService_Run_ContextCancelled(t *testing.T) {
	env := setupTestService(t)
	env.clock.block = true
	sess := createSession(t, env.svc, runner.LanguagePython)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	outcome, err := env.svc.Run(ctx, sess.ID, RunRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v; want context.Canceled", err)
	}
	if outcome == nil || outcome.Result != nil {
		t.Fatalf("outcome = %+v; want session without result", outcome)
	}
	if outcome.Session.IsRunning() {
		t.Error("Running should be cleared")
	}
}

func TestService_DebugLifecycle(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	sess := createSession(t, env.svc, runner.LanguagePython)

	started, err := env.svc.StartDebug(ctx, sess.ID)
	if err != nil {
		t.Fatalf("StartDebug() error = %v", err)
	}
	d := started.Debug
	if !d.Active || d.CurrentLine != 1 || d.LineCount != 4 {
		t.Fatalf("debug = %+v; want active at line 1 of 4", d)
	}
	if len(d.Breakpoints) != 0 {
		t.Error("breakpoints should start empty")
	}
	names := make([]string, 0, len(d.Variables))
	for _, v := range d.Variables {
		names = append(names, v.Name)
	}
	if !slices.Equal(names, []string{"i", "sum", "message", "numbers"}) {
		t.Errorf("variables = %v", names)
	}
	if d.Perf.HeapUsedBytes != 12*mb || d.Perf.CPUPercent != 5 {
		t.Errorf("debug perf = %+v", d.Perf)
	}
	if last := started.Transcript[len(started.Transcript)-1]; last != "Debug session started for main.py (4 lines), paused at line 1" {
		t.Errorf("start line = %q", last)
	}

	if _, err := env.svc.StartDebug(ctx, sess.ID); !errors.Is(err, ErrDebugActive) {
		t.Errorf("second StartDebug() error = %v; want ErrDebugActive", err)
	}

	stepped, err := env.svc.StepOver(ctx, sess.ID)
	if err != nil {
		t.Fatalf("StepOver() error = %v", err)
	}
	if stepped.Debug.CurrentLine != 2 {
		t.Errorf("CurrentLine = %d; want 2", stepped.Debug.CurrentLine)
	}
	if stepped.Debug.Variables[0].Value != "1" {
		t.Errorf("counter = %s; want 1", stepped.Debug.Variables[0].Value)
	}
	if stepped.Debug.Perf.HeapUsedBytes != 12*mb+512*kb {
		t.Errorf("HeapUsedBytes = %d", stepped.Debug.Perf.HeapUsedBytes)
	}
	if stepped.Debug.Perf.CPUPercent != 7 {
		t.Errorf("CPUPercent = %v; want 7", stepped.Debug.Perf.CPUPercent)
	}
	if stepped.Debug.CallStack[0] != "main() at main.py:2" {
		t.Errorf("top frame = %q", stepped.Debug.CallStack[0])
	}
	if last := stepped.Transcript[len(stepped.Transcript)-1]; last != "Stepped to line 2" {
		t.Errorf("step line = %q", last)
	}

	stopped, err := env.svc.StopDebug(ctx, sess.ID)
	if err != nil {
		t.Fatalf("StopDebug() error = %v", err)
	}
	if stopped.IsDebugging() {
		t.Error("StopDebug() should deactivate the debugger")
	}
	if last := stopped.Transcript[len(stopped.Transcript)-1]; last != "Debug session terminated" {
		t.Errorf("stop line = %q", last)
	}

	again, err := env.svc.StopDebug(ctx, sess.ID)
	if err != nil {
		t.Fatalf("second StopDebug() error = %v", err)
	}
	assertTranscript(t, again.Transcript, stopped.Transcript)

	if _, err := env.svc.StepOver(ctx, sess.ID); !errors.Is(err, ErrNotDebugging) {
		t.Errorf("StepOver() after stop error = %v; want ErrNotDebugging", err)
	}
}

func TestService_StepOver_WrapsAfterLineCount(t *testing.T) {
	sources := []string{
		"print(1)",
		"print(1)\nprint(2)\n",
		"a\nb\nc\nd\ne\nf\ng",
	}

	for _, src := range sources {
		env := setupTestService(t)
		ctx := context.Background()
		sess := createSession(t, env.svc, runner.LanguagePython)
		if _, err := env.svc.UpdateSource(ctx, sess.ID, src); err != nil {
			t.Fatalf("UpdateSource() error = %v", err)
		}
		started, err := env.svc.StartDebug(ctx, sess.ID)
		if err != nil {
			t.Fatalf("StartDebug() error = %v", err)
		}

		var last *Session
		for i := 0; i < started.Debug.LineCount; i++ {
			last, err = env.svc.StepOver(ctx, sess.ID)
			if err != nil {
				t.Fatalf("StepOver() error = %v", err)
			}
			if last.Debug.CurrentLine < 1 || last.Debug.CurrentLine > last.Debug.LineCount {
				t.Fatalf("CurrentLine %d out of range [1, %d]", last.Debug.CurrentLine, last.Debug.LineCount)
			}
		}
		if last.Debug.CurrentLine != started.Debug.CurrentLine {
			t.Errorf("source %q: CurrentLine after %d steps = %d; want %d",
				src, started.Debug.LineCount, last.Debug.CurrentLine, started.Debug.CurrentLine)
		}
	}
}

func TestService_StepOver_CPUCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Perf.StepCPUDelta = 60
	svc := NewService(cfg, WithClock(newFakeClock()), WithRandom(&fakeRandom{}))
	ctx := context.Background()
	sess := createSession(t, svc, runner.LanguageC)

	if _, err := svc.StartDebug(ctx, sess.ID); err != nil {
		t.Fatalf("StartDebug() error = %v", err)
	}
	var got *Session
	for i := 0; i < 3; i++ {
		got, _ = svc.StepOver(ctx, sess.ID)
	}
	if got.Debug.Perf.CPUPercent != 100 {
		t.Errorf("CPUPercent = %v; want 100", got.Debug.Perf.CPUPercent)
	}
}

func TestService_StartDebug_EmptySource(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	sess := createSession(t, env.svc, runner.LanguageJava)
	env.svc.UpdateSource(ctx, sess.ID, "   ")

	if _, err := env.svc.StartDebug(ctx, sess.ID); !errors.Is(err, ErrEmptySource) {
		t.Errorf("StartDebug() error = %v; want ErrEmptySource", err)
	}
}

func TestService_Breakpoints(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	sess := createSession(t, env.svc, runner.LanguagePython)
	env.svc.StartDebug(ctx, sess.ID)

	for _, line := range []int{3, 1, 3, 2} {
		if _, err := env.svc.AddBreakpoint(ctx, sess.ID, line); err != nil {
			t.Fatalf("AddBreakpoint(%d) error = %v", line, err)
		}
	}
	got, _ := env.svc.Get(ctx, sess.ID)
	if !slices.Equal(got.Debug.Breakpoints, []int{1, 2, 3}) {
		t.Errorf("Breakpoints = %v; want [1 2 3]", got.Debug.Breakpoints)
	}

	got, _ = env.svc.RemoveBreakpoint(ctx, sess.ID, 9)
	if len(got.Debug.Breakpoints) != 3 {
		t.Error("removing a non-member should be a no-op")
	}
	got, _ = env.svc.RemoveBreakpoint(ctx, sess.ID, 2)
	if !slices.Equal(got.Debug.Breakpoints, []int{1, 3}) {
		t.Errorf("Breakpoints = %v; want [1 3]", got.Debug.Breakpoints)
	}

	// Breakpoints never pause stepping
	got, _ = env.svc.StepOver(ctx, sess.ID)
	got, _ = env.svc.StepOver(ctx, sess.ID)
	if got.Debug.CurrentLine != 3 {
		t.Errorf("CurrentLine = %d; want 3", got.Debug.CurrentLine)
	}

	if _, err := env.svc.AddBreakpoint(ctx, sess.ID, 0); !errors.Is(err, ErrInvalidLine) {
		t.Errorf("AddBreakpoint(0) error = %v; want ErrInvalidLine", err)
	}
}

func TestService_Watches(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	sess := createSession(t, env.svc, runner.LanguagePython)
	env.svc.StartDebug(ctx, sess.ID)

	env.svc.AddWatch(ctx, sess.ID, "message")
	env.svc.AddWatch(ctx, sess.ID, "message")
	got, err := env.svc.AddWatch(ctx, sess.ID, "total")
	if err != nil {
		t.Fatalf("AddWatch() error = %v", err)
	}

	want := []Watch{
		{Name: "message", Value: `"Hello, World!"`},
		{Name: "total", Value: "not available"},
	}
	if !slices.Equal(got.Debug.WatchValues(), want) {
		t.Errorf("WatchValues() = %v; want %v", got.Debug.WatchValues(), want)
	}

	got, _ = env.svc.RemoveWatch(ctx, sess.ID, "message")
	if !slices.Equal(got.Debug.Watches, []string{"total"}) {
		t.Errorf("Watches = %v; want [total]", got.Debug.Watches)
	}

	if _, err := env.svc.AddWatch(ctx, sess.ID, "  "); !errors.Is(err, ErrEmptyWatch) {
		t.Errorf("AddWatch(blank) error = %v; want ErrEmptyWatch", err)
	}
}

func TestService_SetLanguage(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	sess := createSession(t, env.svc, runner.LanguagePython)
	env.svc.UpdateSource(ctx, sess.ID, "print('edited')")

	got, err := env.svc.SetLanguage(ctx, sess.ID, runner.LanguageC)
	if err != nil {
		t.Fatalf("SetLanguage() error = %v", err)
	}
	tmpl, _ := runner.Template(runner.LanguageC)
	if got.Language != runner.LanguageC || got.Source != tmpl {
		t.Error("SetLanguage() should replace the whole buffer with the template")
	}

	if _, err := env.svc.SetLanguage(ctx, sess.ID, runner.Language("go")); err == nil {
		t.Error("SetLanguage() should reject unsupported languages")
	}
}

func TestService_ClearOutput(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	sess := createSession(t, env.svc, runner.LanguagePython)
	env.svc.Run(ctx, sess.ID, RunRequest{})

	got, err := env.svc.ClearOutput(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ClearOutput() error = %v", err)
	}
	if len(got.Transcript) != 0 || got.TranscriptText() != "" {
		t.Errorf("Transcript = %q; want empty", got.Transcript)
	}
}

func TestService_Delete(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	sess := createSession(t, env.svc, runner.LanguagePython)

	if err := env.svc.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := env.svc.Get(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
	if err := env.svc.Delete(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Delete() error = %v; want ErrSessionNotFound", err)
	}
}

func TestService_ExpireIdle(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	old := createSession(t, env.svc, runner.LanguagePython)
	env.clock.Advance(time.Hour)
	fresh := createSession(t, env.svc, runner.LanguageJava)

	n, err := env.svc.ExpireIdle(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("ExpireIdle() error = %v", err)
	}
	if n != 1 {
		t.Errorf("expired = %d; want 1", n)
	}
	if _, err := env.svc.Get(ctx, old.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Error("idle session should be expired")
	}
	if _, err := env.svc.Get(ctx, fresh.ID); err != nil {
		t.Error("fresh session should survive")
	}

	var expiredEvents, deletedEvents int
	for _, typ := range env.pub.types() {
		switch typ {
		case events.TypeSessionExpired:
			expiredEvents++
		case events.TypeSessionDeleted:
			deletedEvents++
		}
	}
	if expiredEvents != 1 || deletedEvents != 0 {
		t.Errorf("expired/deleted events = %d/%d; want 1/0", expiredEvents, deletedEvents)
	}
}

func TestService_ExpireIdle_KeepsRunningSession(t *testing.T) {
	env := setupTestService(t)
	env.clock.block = true
	ctx := context.Background()
	sess := createSession(t, env.svc, runner.LanguagePython)

	if _, err := env.svc.RunAsync(ctx, sess.ID, RunRequest{}); err != nil {
		t.Fatalf("RunAsync() error = %v", err)
	}
	env.clock.Advance(time.Hour)

	n, err := env.svc.ExpireIdle(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("ExpireIdle() error = %v", err)
	}
	if n != 0 {
		t.Errorf("expired = %d; want 0", n)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.svc.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestService_PublishFailureIsNotFatal(t *testing.T) {
	env := setupTestService(t)
	env.pub.err = errors.New("broker down")

	sess, err := env.svc.Create(context.Background(), runner.LanguagePython)
	if err != nil {
		t.Fatalf("Create() should ignore publish failures, got %v", err)
	}
	if _, err := env.svc.Run(context.Background(), sess.ID, RunRequest{}); err != nil {
		t.Fatalf("Run() should ignore publish failures, got %v", err)
	}
}

func TestService_List(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	first := createSession(t, env.svc, runner.LanguagePython)
	env.clock.Advance(time.Second)
	second := createSession(t, env.svc, runner.LanguageC)

	list, err := env.svc.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Errorf("List() order wrong: %v", list)
	}
}
