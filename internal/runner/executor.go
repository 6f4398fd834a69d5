package runner

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxIterations bounds simulated loops
	DefaultMaxIterations = 1000

	// DefaultMaxOutputBytes bounds the synthesized output of one execution
	DefaultMaxOutputBytes = 256 << 10

	// MaxOutputBytesLimit is the largest output cap an engine accepts. No
	// evaluated string value grows past it.
	MaxOutputBytesLimit = 1 << 20
)

// ErrorKind classifies a simulated failure
type ErrorKind string

const (
	ErrorKindCompile ErrorKind = "compile"
	ErrorKindRuntime ErrorKind = "runtime"
)

// ExecutionError is a simulated compiler or runtime failure
type ExecutionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// ExecutionResult is produced fresh by every Execute call. When Error is set
// Output is empty.
type ExecutionResult struct {
	Output string          `json:"output"`
	Error  *ExecutionError `json:"error,omitempty"`
}

// OK reports whether the simulated program ran without error
func (r *ExecutionResult) OK() bool {
	return r.Error == nil
}

func compileError(format string, args ...any) *ExecutionResult {
	return &ExecutionResult{Error: &ExecutionError{Kind: ErrorKindCompile, Message: fmt.Sprintf(format, args...)}}
}

func runtimeError(format string, args ...any) *ExecutionResult {
	return &ExecutionResult{Error: &ExecutionError{Kind: ErrorKindRuntime, Message: fmt.Sprintf(format, args...)}}
}

// LanguageExecutor simulates compilation and execution for one language
type LanguageExecutor interface {
	// Language returns the language this executor handles
	Language() Language

	// Execute scans source and synthesizes its output
	Execute(source string) *ExecutionResult
}

// ExecutorRegistry manages language executors
type ExecutorRegistry struct {
	executors map[Language]LanguageExecutor
}

// NewExecutorRegistry creates a new executor registry
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{
		executors: make(map[Language]LanguageExecutor),
	}
}

// Register adds an executor to the registry
func (r *ExecutorRegistry) Register(exec LanguageExecutor) {
	r.executors[exec.Language()] = exec
}

// Get returns the executor for a language
func (r *ExecutorRegistry) Get(lang Language) (LanguageExecutor, error) {
	exec, ok := r.executors[lang]
	if !ok {
		return nil, fmt.Errorf("no executor registered for language: %s", lang)
	}
	return exec, nil
}

// SupportedLanguages returns all languages with registered executors
func (r *ExecutorRegistry) SupportedLanguages() []Language {
	langs := make([]Language, 0, len(r.executors))
	for _, lang := range SupportedLanguages() {
		if _, ok := r.executors[lang]; ok {
			langs = append(langs, lang)
		}
	}
	return langs
}

// Executor is the engine contract consumed by the run orchestrator
type Executor interface {
	Execute(source string, lang Language) *ExecutionResult
}

// Limits bounds the work a single simulated execution may do
type Limits struct {
	MaxIterations  int
	MaxOutputBytes int
}

func (l Limits) withDefaults() Limits {
	if l.MaxIterations <= 0 {
		l.MaxIterations = DefaultMaxIterations
	}
	if l.MaxOutputBytes <= 0 {
		l.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if l.MaxOutputBytes > MaxOutputBytesLimit {
		l.MaxOutputBytes = MaxOutputBytesLimit
	}
	return l
}

// EngineConfig holds engine settings
type EngineConfig struct {
	MaxIterations  int
	MaxOutputBytes int
}

// Engine dispatches execution to the registered language executors
type Engine struct {
	registry *ExecutorRegistry
}

// NewEngine creates an engine with all four language executors registered
func NewEngine(cfg EngineConfig) *Engine {
	limits := Limits{MaxIterations: cfg.MaxIterations, MaxOutputBytes: cfg.MaxOutputBytes}
	registry := NewExecutorRegistry()
	registry.Register(NewPythonExecutor(limits))
	registry.Register(NewJavaExecutor(limits))
	registry.Register(NewCExecutor(limits))
	registry.Register(NewCPPExecutor(limits))
	return &Engine{registry: registry}
}

// Registry returns the underlying executor registry
func (e *Engine) Registry() *ExecutorRegistry {
	return e.registry
}

// Execute runs the heuristic simulation. It never panics: unexpected
// failures are reported through ExecutionResult.Error.
func (e *Engine) Execute(source string, lang Language) (result *ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = runtimeError("internal error: %v", r)
		}
	}()

	exec, err := e.registry.Get(lang)
	if err != nil {
		return runtimeError("%v", err)
	}
	result = exec.Execute(source)
	if result == nil {
		return &ExecutionResult{}
	}
	if result.Error != nil {
		result.Output = ""
	}
	return result
}

var _ Executor = (*Engine)(nil)

// loopSpec is a recognised counting loop with its body statement
type loopSpec struct {
	name       string
	start, end int64
	step       int64
	cond       string // "<", "<=", ">", ">=", "!="
	bodyStart  int    // offset of the loop body in the scanned text
}

func (l loopSpec) holds(v int64) bool {
	switch l.cond {
	case "<":
		return v < l.end
	case "<=":
		return v <= l.end
	case ">":
		return v > l.end
	case ">=":
		return v >= l.end
	case "!=":
		return v != l.end
	}
	return false
}

// values returns the iteration values, stopping after max iterations
func (l loopSpec) values(max int) ([]int64, bool) {
	var vals []int64
	for v := l.start; l.holds(v); v += l.step {
		if len(vals) >= max {
			return vals, true
		}
		vals = append(vals, v)
	}
	return vals, false
}

func truncationNotice(max int) string {
	return fmt.Sprintf("... output truncated after %d iterations\n", max)
}

func outputLimitNotice(max int) string {
	return fmt.Sprintf("... output truncated after %d bytes\n", max)
}

// outputBuffer accumulates program output up to a byte cap
type outputBuffer struct {
	b    strings.Builder
	max  int
	full bool
}

func newOutputBuffer(max int) *outputBuffer {
	return &outputBuffer{max: max}
}

// write appends s and reports whether more output is accepted. Text past
// the cap is dropped at a rune boundary.
func (o *outputBuffer) write(s string) bool {
	if o.full {
		return false
	}
	room := o.max - o.b.Len()
	if len(s) <= room {
		o.b.WriteString(s)
		return true
	}
	o.b.WriteString(truncateBytes(s, room))
	o.full = true
	return false
}

// result finishes the output, appending the byte cap notice or, for a loop
// stopped by the iteration cap, the iteration notice
func (o *outputBuffer) result(iterationsCut bool, maxIterations int) *ExecutionResult {
	switch {
	case o.full:
		if !strings.HasSuffix(o.b.String(), "\n") {
			o.b.WriteByte('\n')
		}
		o.b.WriteString(outputLimitNotice(o.max))
	case iterationsCut:
		o.b.WriteString(truncationNotice(maxIterations))
	}
	return &ExecutionResult{Output: o.b.String()}
}

// truncateBytes cuts s to at most n bytes without splitting a rune
func truncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// outputCall is one call to an output function found in the source
type outputCall struct {
	offset int    // start of the call
	method string // first group of the call pattern, if any
	args   string
}

// findCalls returns every call matched by open, a pattern ending at the
// call's opening parenthesis. Each call ends at its own closing parenthesis,
// so several calls may share a line. An unbalanced call runs to the last ')'
// on its line.
func findCalls(text string, open *regexp.Regexp) []outputCall {
	var calls []outputCall
	for offset := 0; offset < len(text); {
		m := open.FindStringSubmatchIndex(text[offset:])
		if m == nil {
			break
		}
		call := outputCall{offset: offset + m[0]}
		if len(m) >= 4 && m[2] >= 0 {
			call.method = text[offset+m[2] : offset+m[3]]
		}
		start := offset + m[1]
		end, ok := closingParen(text, start)
		if !ok {
			line := text[start:]
			if nl := strings.IndexByte(line, '\n'); nl >= 0 {
				line = line[:nl]
			}
			i := strings.LastIndexByte(line, ')')
			if i < 0 {
				offset = start
				continue
			}
			end = start + i
		}
		call.args = text[start:end]
		calls = append(calls, call)
		offset = end + 1
	}
	return calls
}

var blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)

// stripComments blanks out comment lines so they are never matched as
// statements. Line structure is preserved.
func stripComments(source, prefix string) string {
	if prefix == "//" {
		source = blockCommentPattern.ReplaceAllStringFunc(source, func(c string) string {
			return strings.Repeat("\n", strings.Count(c, "\n"))
		})
	}
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}

// lineAt returns the 1-based line number of a byte offset
func lineAt(source string, offset int) int {
	if offset > len(source) {
		offset = len(source)
	}
	return strings.Count(source[:offset], "\n") + 1
}

var (
	cLoopPattern = regexp.MustCompile(
		`\bfor\s*\(\s*(?:(?:const\s+)?(?:int|long|short|unsigned|size_t|auto)\s+)?([A-Za-z_]\w*)\s*=\s*([^;]+);\s*([A-Za-z_]\w*)\s*(<=|>=|!=|<|>)\s*([^;]+);\s*([^)]*)\)`)
	incrementPattern = regexp.MustCompile(`^(?:([A-Za-z_]\w*)\s*(\+\+|--)|(\+\+|--)\s*([A-Za-z_]\w*)|([A-Za-z_]\w*)\s*([+-])=\s*(.+))$`)
)

// findCLoop recognises a C-family counting loop header
func findCLoop(text string) (loopSpec, bool) {
	m := cLoopPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return loopSpec{}, false
	}
	group := func(n int) string { return text[m[2*n]:m[2*n+1]] }

	name := group(1)
	if group(3) != name {
		return loopSpec{}, false
	}
	start, ok := evalInt(strings.TrimSpace(group(2)), cDialect)
	if !ok {
		return loopSpec{}, false
	}
	end, ok := evalInt(strings.TrimSpace(group(5)), cDialect)
	if !ok {
		return loopSpec{}, false
	}
	step, ok := parseIncrement(strings.TrimSpace(group(6)), name)
	if !ok {
		return loopSpec{}, false
	}
	return loopSpec{
		name:      name,
		start:     start,
		end:       end,
		step:      step,
		cond:      group(4),
		bodyStart: m[1],
	}, true
}

func parseIncrement(update, name string) (int64, bool) {
	m := incrementPattern.FindStringSubmatch(update)
	if m == nil {
		return 0, false
	}
	switch {
	case m[1] != "":
		if m[1] != name {
			return 0, false
		}
		return signedStep(m[2]), true
	case m[4] != "":
		if m[4] != name {
			return 0, false
		}
		return signedStep(m[3]), true
	default:
		if m[5] != name {
			return 0, false
		}
		k, ok := evalInt(strings.TrimSpace(m[7]), cDialect)
		if !ok {
			return 0, false
		}
		if m[6] == "-" {
			k = -k
		}
		return k, true
	}
}

func signedStep(op string) int64 {
	if op == "--" {
		return -1
	}
	return 1
}
