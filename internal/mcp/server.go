package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/codeterm/internal/runner"
	"github.com/felixgeelhaar/codeterm/internal/session"
	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"
)

// Server wraps the MCP server with terminal functionality
type Server struct {
	mcpServer      *server.Server
	sessionService session.TerminalService
	engine         runner.Executor
}

// Config contains configuration for the MCP server
type Config struct {
	SessionService session.TerminalService
	Engine         runner.Executor // defaults to the heuristic engine
	Version        string
}

// NewServer creates a new MCP server for the code terminal
func NewServer(cfg Config) *Server {
	s := &Server{
		sessionService: cfg.SessionService,
		engine:         cfg.Engine,
	}
	if s.engine == nil {
		s.engine = runner.NewEngine(runner.EngineConfig{})
	}
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "codeterm",
		Version: version,
	}, server.WithInstructions(`
codeterm is a simulated code terminal for Python, Java, C and C++.
Programs are never compiled or executed: output is predicted from the
common shapes of beginner programs (a counted loop around a print, or
straight-line print calls).

Available tools:
- terminal_template: Get the starter program for a language
- terminal_execute: Predict the output of a program without a session
- terminal_start: Open a terminal session for a language
- terminal_run: Run the session source and return the transcript
- terminal_debug: Drive the mock debugger (start, step, stop, break, clear, watch, unwatch)
- terminal_status: Show the session transcript, performance and debug state
- terminal_stop: Close a terminal session
`))

	s.registerTools()

	return s
}

// registerTools registers all terminal MCP tools
func (s *Server) registerTools() {
	s.mcpServer.Tool("terminal_template").
		Description("Get the starter program for python, java, c or cpp.").
		Handler(s.handleTemplate)

	s.mcpServer.Tool("terminal_execute").
		Description("Predict the output of a program without opening a session.").
		Handler(s.handleExecute)

	s.mcpServer.Tool("terminal_start").
		Description("Open a terminal session seeded with the language template.").
		Handler(s.handleStart)

	s.mcpServer.Tool("terminal_run").
		Description("Run the session source through the simulated toolchain.").
		Handler(s.handleRun)

	s.mcpServer.Tool("terminal_debug").
		Description("Drive the mock step debugger of a session.").
		Handler(s.handleDebug)

	s.mcpServer.Tool("terminal_status").
		Description("Get the transcript, performance sample and debug state of a session.").
		Handler(s.handleStatus)

	s.mcpServer.Tool("terminal_stop").
		Description("Close a terminal session.").
		Handler(s.handleStop)
}

// Input/Output types for tools

type TemplateInput struct {
	Language string `json:"language" jsonschema:"description=Language: python, java, c or cpp,enum=python,enum=java,enum=c,enum=cpp"`
}

type TemplateOutput struct {
	Language string `json:"language"`
	FileName string `json:"file_name"`
	Template string `json:"template"`
}

type ExecuteInput struct {
	Language string `json:"language" jsonschema:"description=Language: python, java, c or cpp"`
	Source   string `json:"source" jsonschema:"description=Program source"`
}

type ExecuteOutput struct {
	OK        bool   `json:"ok"`
	Output    string `json:"output"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

type StartInput struct {
	Language string `json:"language" jsonschema:"description=Language: python, java, c or cpp"`
	Source   string `json:"source,omitempty" jsonschema:"description=Initial source (defaults to the language template)"`
}

type StartOutput struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
	FileName  string `json:"file_name"`
	Source    string `json:"source"`
}

type RunInput struct {
	SessionID string  `json:"session_id" jsonschema:"description=Session ID from terminal_start"`
	Source    *string `json:"source,omitempty" jsonschema:"description=Replace the session source before running"`
}

type RunOutput struct {
	OK         bool    `json:"ok"`
	Output     string  `json:"output"`
	Transcript string  `json:"transcript"`
	ElapsedMs  int64   `json:"elapsed_ms"`
	HeapUsedMB float64 `json:"heap_used_mb"`
	CPUPercent float64 `json:"cpu_percent"`
}

type DebugInput struct {
	SessionID string `json:"session_id" jsonschema:"description=Session ID from terminal_start"`
	Action    string `json:"action" jsonschema:"description=Debugger action,enum=start,enum=step,enum=stop,enum=break,enum=clear,enum=watch,enum=unwatch"`
	Line      int    `json:"line,omitempty" jsonschema:"description=Line for break and clear"`
	Name      string `json:"name,omitempty" jsonschema:"description=Variable name for watch and unwatch"`
}

type DebugOutput struct {
	Active      bool               `json:"active"`
	CurrentLine int                `json:"current_line"`
	LineCount   int                `json:"line_count"`
	Breakpoints []int              `json:"breakpoints"`
	Variables   []session.Variable `json:"variables"`
	CallStack   []string           `json:"call_stack"`
	Watches     []session.Watch    `json:"watches"`
}

type StatusInput struct {
	SessionID string `json:"session_id" jsonschema:"description=Session ID from terminal_start"`
}

type StatusOutput struct {
	SessionID   string      `json:"session_id"`
	Language    string      `json:"language"`
	Transcript  string      `json:"transcript"`
	IsRunning   bool        `json:"is_running"`
	IsDebugging bool        `json:"is_debugging"`
	RunCount    int         `json:"run_count"`
	Performance string      `json:"performance"`
	Debug       DebugOutput `json:"debug"`
}

type StopInput struct {
	SessionID string `json:"session_id" jsonschema:"description=Session ID to close"`
}

type StopOutput struct {
	Message string `json:"message"`
}

// Tool handlers

func (s *Server) handleTemplate(ctx context.Context, input TemplateInput) (TemplateOutput, error) {
	lang, err := runner.ParseLanguage(input.Language)
	if err != nil {
		return TemplateOutput{}, err
	}
	cfg, _ := runner.ConfigFor(lang)

	return TemplateOutput{
		Language: lang.String(),
		FileName: cfg.FileName,
		Template: cfg.Template,
	}, nil
}

func (s *Server) handleExecute(ctx context.Context, input ExecuteInput) (ExecuteOutput, error) {
	lang, err := runner.ParseLanguage(input.Language)
	if err != nil {
		return ExecuteOutput{}, err
	}

	result := s.engine.Execute(input.Source, lang)
	if result.Error != nil {
		return ExecuteOutput{
			ErrorKind: string(result.Error.Kind),
			Error:     result.Error.Message,
		}, nil
	}
	return ExecuteOutput{OK: true, Output: result.Output}, nil
}

func (s *Server) handleStart(ctx context.Context, input StartInput) (StartOutput, error) {
	lang, err := runner.ParseLanguage(input.Language)
	if err != nil {
		return StartOutput{}, err
	}

	sess, err := s.sessionService.Create(ctx, lang)
	if err != nil {
		return StartOutput{}, fmt.Errorf("failed to create session: %w", err)
	}
	if input.Source != "" {
		sess, err = s.sessionService.UpdateSource(ctx, sess.ID, input.Source)
		if err != nil {
			return StartOutput{}, fmt.Errorf("failed to set source: %w", err)
		}
	}

	view := sess.View()
	return StartOutput{
		SessionID: view.ID,
		Language:  view.Language.String(),
		FileName:  view.FileName,
		Source:    view.Source,
	}, nil
}

func (s *Server) handleRun(ctx context.Context, input RunInput) (RunOutput, error) {
	outcome, err := s.sessionService.Run(ctx, input.SessionID, session.RunRequest{Source: input.Source})
	if err != nil {
		return RunOutput{}, fmt.Errorf("run failed: %w", err)
	}

	sess := outcome.Session
	out := RunOutput{
		OK:         outcome.Result.OK(),
		Output:     outcome.Result.Output,
		Transcript: sess.TranscriptText(),
	}
	if out.OK {
		out.ElapsedMs = sess.Perf.ElapsedMs
		out.HeapUsedMB = sess.Perf.HeapUsedMB()
		out.CPUPercent = sess.Perf.CPUPercent
	}
	return out, nil
}

func (s *Server) handleDebug(ctx context.Context, input DebugInput) (DebugOutput, error) {
	var (
		sess *session.Session
		err  error
	)
	switch strings.ToLower(input.Action) {
	case "start":
		sess, err = s.sessionService.StartDebug(ctx, input.SessionID)
	case "step", "next":
		sess, err = s.sessionService.StepOver(ctx, input.SessionID)
	case "stop":
		sess, err = s.sessionService.StopDebug(ctx, input.SessionID)
	case "break":
		sess, err = s.sessionService.AddBreakpoint(ctx, input.SessionID, input.Line)
	case "clear":
		sess, err = s.sessionService.RemoveBreakpoint(ctx, input.SessionID, input.Line)
	case "watch":
		sess, err = s.sessionService.AddWatch(ctx, input.SessionID, input.Name)
	case "unwatch":
		sess, err = s.sessionService.RemoveWatch(ctx, input.SessionID, input.Name)
	default:
		return DebugOutput{}, fmt.Errorf("unknown debug action %q", input.Action)
	}
	if err != nil {
		return DebugOutput{}, fmt.Errorf("debug %s failed: %w", input.Action, err)
	}

	return debugOutput(sess.View().Debug), nil
}

func (s *Server) handleStatus(ctx context.Context, input StatusInput) (StatusOutput, error) {
	sess, err := s.sessionService.Get(ctx, input.SessionID)
	if err != nil {
		return StatusOutput{}, fmt.Errorf("session not found: %w", err)
	}

	view := sess.View()
	p := view.Performance
	return StatusOutput{
		SessionID:   view.ID,
		Language:    view.Language.String(),
		Transcript:  view.Transcript,
		IsRunning:   view.IsRunning,
		IsDebugging: view.IsDebugging,
		RunCount:    view.RunCount,
		Performance: fmt.Sprintf("heap %.1f/%.1f MB, %d ms, cpu %.1f%%",
			p.HeapUsedMB(), p.HeapTotalMB(), p.ElapsedMs, p.CPUPercent),
		Debug: debugOutput(view.Debug),
	}, nil
}

func (s *Server) handleStop(ctx context.Context, input StopInput) (StopOutput, error) {
	if err := s.sessionService.Delete(ctx, input.SessionID); err != nil {
		return StopOutput{}, fmt.Errorf("failed to delete session: %w", err)
	}

	return StopOutput{
		Message: "Session closed",
	}, nil
}

func debugOutput(d session.DebugView) DebugOutput {
	return DebugOutput{
		Active:      d.Active,
		CurrentLine: d.CurrentLine,
		LineCount:   d.LineCount,
		Breakpoints: d.Breakpoints,
		Variables:   d.Variables,
		CallStack:   d.CallStack,
		Watches:     d.Watches,
	}
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
