package session

import (
	"time"

	"github.com/felixgeelhaar/codeterm/internal/runner"
)

// View is the display projection of a session
type View struct {
	ID          string            `json:"id"`
	Language    runner.Language   `json:"language"`
	FileName    string            `json:"file_name"`
	Source      string            `json:"source"`
	Transcript  string            `json:"transcript"`
	Lines       []string          `json:"lines"`
	IsRunning   bool              `json:"is_running"`
	IsDebugging bool              `json:"is_debugging"`
	Performance PerformanceSample `json:"performance"`
	Debug       DebugView         `json:"debug"`
	RunCount    int               `json:"run_count"`
	LastRunAt   *time.Time        `json:"last_run_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// DebugView is the display projection of the debugger
type DebugView struct {
	Active      bool              `json:"active"`
	CurrentLine int               `json:"current_line"`
	LineCount   int               `json:"line_count"`
	Breakpoints []int             `json:"breakpoints"`
	Variables   []Variable        `json:"variables"`
	CallStack   []string          `json:"call_stack"`
	Watches     []Watch           `json:"watches"`
	Performance PerformanceSample `json:"performance"`
}

// View returns the display projection
func (s *Session) View() View {
	c := s.Clone()
	fileName := ""
	if cfg, err := runner.ConfigFor(c.Language); err == nil {
		fileName = cfg.FileName
	}
	d := c.Debug
	return View{
		ID:          c.ID,
		Language:    c.Language,
		FileName:    fileName,
		Source:      c.Source,
		Transcript:  c.TranscriptText(),
		Lines:       c.Transcript,
		IsRunning:   c.IsRunning(),
		IsDebugging: c.IsDebugging(),
		Performance: c.Perf,
		Debug: DebugView{
			Active:      d.Active,
			CurrentLine: d.CurrentLine,
			LineCount:   d.LineCount,
			Breakpoints: nonNil(d.Breakpoints),
			Variables:   nonNil(d.Variables),
			CallStack:   nonNil(d.CallStack),
			Watches:     d.WatchValues(),
			Performance: d.Perf,
		},
		RunCount:  c.RunCount,
		LastRunAt: c.LastRunAt,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
