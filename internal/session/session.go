package session

import (
	"slices"
	"strings"
	"time"

	"github.com/felixgeelhaar/codeterm/internal/runner"
	"github.com/google/uuid"
)

// Session is one simulated terminal: a language, its source buffer, the
// transcript of the last run and the debug state
type Session struct {
	ID         string                  `json:"id"`
	Language   runner.Language         `json:"language"`
	Source     string                  `json:"source"`
	Transcript []string                `json:"transcript"`
	Perf       PerformanceSample       `json:"performance"`
	Running    bool                    `json:"running"`
	Debug      DebugSession            `json:"debug"`
	LastResult *runner.ExecutionResult `json:"last_result,omitempty"`

	// Statistics
	RunCount  int        `json:"run_count"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a session whose source buffer holds the language template
func NewSession(lang runner.Language, now time.Time) (*Session, error) {
	tmpl, err := runner.Template(lang)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:         uuid.New().String(),
		Language:   lang,
		Source:     tmpl,
		Transcript: []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsRunning reports whether a run is in flight
func (s *Session) IsRunning() bool {
	return s.Running
}

// IsDebugging reports whether the debug session is active
func (s *Session) IsDebugging() bool {
	return s.Debug.Active
}

// TranscriptText joins the transcript lines for display
func (s *Session) TranscriptText() string {
	return strings.Join(s.Transcript, "\n")
}

// SetLanguage switches language and replaces the whole source buffer with
// the new language's template
func (s *Session) SetLanguage(lang runner.Language, now time.Time) error {
	tmpl, err := runner.Template(lang)
	if err != nil {
		return err
	}
	s.Language = lang
	s.Source = tmpl
	s.UpdatedAt = now
	return nil
}

// UpdateSource replaces the source buffer
func (s *Session) UpdateSource(source string, now time.Time) {
	s.Source = source
	s.UpdatedAt = now
}

// ClearOutput empties the transcript
func (s *Session) ClearOutput(now time.Time) {
	s.Transcript = []string{}
	s.UpdatedAt = now
}

func (s *Session) appendLines(lines ...string) {
	s.Transcript = append(s.Transcript, lines...)
}

// Clone returns a deep copy
func (s *Session) Clone() *Session {
	c := *s
	c.Transcript = slices.Clone(s.Transcript)
	if c.Transcript == nil {
		c.Transcript = []string{}
	}
	c.Debug = s.Debug.clone()
	if s.LastResult != nil {
		r := *s.LastResult
		if s.LastResult.Error != nil {
			e := *s.LastResult.Error
			r.Error = &e
		}
		c.LastResult = &r
	}
	if s.LastRunAt != nil {
		t := *s.LastRunAt
		c.LastRunAt = &t
	}
	return &c
}

// lineCount is the number of source lines, ignoring trailing newlines
func lineCount(source string) int {
	trimmed := strings.TrimRight(source, "\n")
	if trimmed == "" {
		return 1
	}
	return strings.Count(trimmed, "\n") + 1
}
