package session

import (
	"context"
	"time"

	"github.com/felixgeelhaar/codeterm/internal/runner"
)

// TerminalService defines the session operations used by the daemon
// handlers, the MCP server and the CLI
type TerminalService interface {
	Create(ctx context.Context, lang runner.Language) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	Delete(ctx context.Context, id string) error

	SetLanguage(ctx context.Context, id string, lang runner.Language) (*Session, error)
	UpdateSource(ctx context.Context, id, source string) (*Session, error)
	ClearOutput(ctx context.Context, id string) (*Session, error)

	Run(ctx context.Context, id string, req RunRequest) (*RunOutcome, error)
	RunAsync(ctx context.Context, id string, req RunRequest) (*Session, error)
	CancelRun(ctx context.Context, id string) error

	StartDebug(ctx context.Context, id string) (*Session, error)
	StepOver(ctx context.Context, id string) (*Session, error)
	StopDebug(ctx context.Context, id string) (*Session, error)
	AddBreakpoint(ctx context.Context, id string, line int) (*Session, error)
	RemoveBreakpoint(ctx context.Context, id string, line int) (*Session, error)
	AddWatch(ctx context.Context, id, name string) (*Session, error)
	RemoveWatch(ctx context.Context, id, name string) (*Session, error)

	ExpireIdle(ctx context.Context, ttl time.Duration) (int, error)
}

// Ensure Service implements TerminalService
var _ TerminalService = (*Service)(nil)

// Store defines the persistence interface for sessions
type Store interface {
	Save(session *Session) error
	Get(id string) (*Session, error)
	Delete(id string) error
	List() ([]*Session, error)
	Exists(id string) bool
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
