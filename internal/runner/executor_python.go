package runner

import (
	"regexp"
	"strings"
)

var (
	pythonForKeyword  = regexp.MustCompile(`\bfor\b`)
	pythonLoopPattern = regexp.MustCompile(`\bfor\s+([A-Za-z_]\w*)\s+in\s+range\s*\(([^)]*)\)\s*:`)
	pythonPrintCall   = regexp.MustCompile(`\bprint\(`)
)

// PythonExecutor simulates the Python interpreter
type PythonExecutor struct {
	config LanguageConfig
	limits Limits
}

// NewPythonExecutor creates a new Python executor
func NewPythonExecutor(limits Limits) *PythonExecutor {
	return &PythonExecutor{
		config: DefaultLanguageConfigs()[LanguagePython],
		limits: limits.withDefaults(),
	}
}

// Language returns the language this executor handles
func (e *PythonExecutor) Language() Language {
	return LanguagePython
}

// Execute validates the source then synthesizes output
func (e *PythonExecutor) Execute(source string) *ExecutionResult {
	if loc := pythonForKeyword.FindStringIndex(source); loc != nil &&
		!strings.Contains(source, ":") && !strings.Contains(source, "print") {
		return compileError("  File \"%s\", line %d\nSyntaxError: expected ':'", e.config.FileName, lineAt(source, loc[0]))
	}

	text := stripComments(source, e.config.CommentPrefix)

	loop, ok, failure := e.findLoop(text)
	if failure != nil {
		return failure
	}
	if ok {
		return e.runLoop(text, loop)
	}

	out := newOutputBuffer(e.limits.MaxOutputBytes)
	for _, call := range findCalls(text, pythonPrintCall) {
		if !out.write(renderPythonPrint(call.args, nil)) {
			break
		}
	}
	return out.result(false, 0)
}

func (e *PythonExecutor) findLoop(text string) (loopSpec, bool, *ExecutionResult) {
	m := pythonLoopPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return loopSpec{}, false, nil
	}
	name := text[m[2]:m[3]]
	rawArgs := strings.TrimSpace(text[m[4]:m[5]])
	if rawArgs == "" {
		return loopSpec{}, false, nil
	}

	args := strings.Split(rawArgs, ",")
	bounds := make([]int64, 0, len(args))
	for _, a := range args {
		n, ok := evalInt(strings.TrimSpace(a), pythonDialect)
		if !ok {
			return loopSpec{}, false, nil
		}
		bounds = append(bounds, n)
	}

	loop := loopSpec{name: name, step: 1, bodyStart: m[1]}
	switch len(bounds) {
	case 1:
		loop.end = bounds[0]
	case 2:
		loop.start, loop.end = bounds[0], bounds[1]
	case 3:
		loop.start, loop.end, loop.step = bounds[0], bounds[1], bounds[2]
	default:
		return loopSpec{}, false, nil
	}
	if loop.step == 0 {
		return loopSpec{}, false, runtimeError("Traceback (most recent call last):\n  File \"%s\", line %d, in <module>\nValueError: range() arg 3 must not be zero",
			e.config.FileName, lineAt(text, m[0]))
	}
	loop.cond = "<"
	if loop.step < 0 {
		loop.cond = ">"
	}
	return loop, true, nil
}

func (e *PythonExecutor) runLoop(text string, loop loopSpec) *ExecutionResult {
	calls := findCalls(text[loop.bodyStart:], pythonPrintCall)
	if len(calls) == 0 {
		return &ExecutionResult{}
	}
	values, truncated := loop.values(e.limits.MaxIterations)
	out := newOutputBuffer(e.limits.MaxOutputBytes)
	for _, v := range values {
		if !out.write(renderPythonPrint(calls[0].args, &binding{name: loop.name, value: v})) {
			break
		}
	}
	return out.result(truncated, e.limits.MaxIterations)
}

// renderPythonPrint renders the argument list of a print call. Positional
// arguments are joined by sep; end terminates the line.
func renderPythonPrint(argList string, b *binding) string {
	sep, end := " ", "\n"
	var rendered []string
	size := 0
	if strings.TrimSpace(argList) != "" {
		for _, arg := range splitTopLevel(argList, ",") {
			if size > maxValueBytes {
				break
			}
			arg = strings.TrimSpace(arg)
			if key, val, ok := keywordArg(arg); ok {
				lit, isLit := singleLiteral(val)
				switch {
				case key == "sep" && isLit:
					sep = lit
				case key == "end" && isLit:
					end = lit
				}
				continue
			}
			text := renderPythonArg(arg, b)
			size += len(text) + len(sep)
			rendered = append(rendered, text)
		}
	}
	return strings.Join(rendered, sep) + end
}

var keywordArgPattern = regexp.MustCompile(`^([A-Za-z_]\w*)\s*=\s*([^=].*)$`)

func keywordArg(arg string) (string, string, bool) {
	m := keywordArgPattern.FindStringSubmatch(arg)
	if m == nil {
		return "", "", false
	}
	return m[1], strings.TrimSpace(m[2]), true
}

// Ensure PythonExecutor implements LanguageExecutor
var _ LanguageExecutor = (*PythonExecutor)(nil)
