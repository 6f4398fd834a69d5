package runner

import (
	"regexp"
	"sort"
	"strings"
)

var (
	cMainPattern   = regexp.MustCompile(`\bmain\s*\(`)
	cPrintfCall    = regexp.MustCompile(`\bprintf\s*\(`)
	cPrintfKeyword = regexp.MustCompile(`\bprintf\b`)
	cppCoutKeyword = regexp.MustCompile(`\b(?:std::)?cout\b`)
	cppCoutStmt    = regexp.MustCompile(`\b(?:std::)?cout\s*<<[^;]*;`)
)

// CExecutor simulates gcc. The same executor serves C++ with cout support.
type CExecutor struct {
	config LanguageConfig
	lang   Language
	limits Limits
}

// NewCExecutor creates a new C executor
func NewCExecutor(limits Limits) *CExecutor {
	return &CExecutor{
		config: DefaultLanguageConfigs()[LanguageC],
		lang:   LanguageC,
		limits: limits.withDefaults(),
	}
}

// NewCPPExecutor creates a new C++ executor
func NewCPPExecutor(limits Limits) *CExecutor {
	return &CExecutor{
		config: DefaultLanguageConfigs()[LanguageCPP],
		lang:   LanguageCPP,
		limits: limits.withDefaults(),
	}
}

// Language returns the language this executor handles
func (e *CExecutor) Language() Language {
	return e.lang
}

// Execute validates the source then synthesizes output
func (e *CExecutor) Execute(source string) *ExecutionResult {
	if failure := e.validate(source); failure != nil {
		return failure
	}

	text := stripComments(source, e.config.CommentPrefix)

	if loop, ok := findCLoop(text); ok {
		stmt, ok := e.firstStatement(text[loop.bodyStart:])
		if !ok {
			return &ExecutionResult{}
		}
		values, truncated := loop.values(e.limits.MaxIterations)
		out := newOutputBuffer(e.limits.MaxOutputBytes)
		for _, v := range values {
			if !out.write(e.render(stmt, &binding{name: loop.name, value: v})) {
				break
			}
		}
		return out.result(truncated, e.limits.MaxIterations)
	}

	out := newOutputBuffer(e.limits.MaxOutputBytes)
	for _, stmt := range e.statements(text) {
		if !out.write(e.render(stmt, nil)) {
			break
		}
	}
	return out.result(false, 0)
}

func (e *CExecutor) validate(source string) *ExecutionResult {
	if !cMainPattern.MatchString(source) {
		return compileError("/usr/bin/ld: in function `_start':\n(.text+0x1b): undefined reference to `main'\ncollect2: error: ld returned 1 exit status")
	}
	if e.lang == LanguageCPP && cppCoutKeyword.MatchString(source) && !strings.Contains(source, "iostream") {
		return compileError("%s: error: 'cout' was not declared in this scope; did you forget to '#include <iostream>'?", e.config.FileName)
	}
	if e.lang == LanguageC && cPrintfKeyword.MatchString(source) && !strings.Contains(source, "stdio.h") {
		return compileError("%s: error: implicit declaration of function 'printf'; add '#include <stdio.h>'", e.config.FileName)
	}
	return nil
}

// statement is one output call found in the source
type statement struct {
	offset int
	cout   bool
	body   string // printf argument list or the full cout statement
}

func (e *CExecutor) statements(text string) []statement {
	var stmts []statement
	for _, call := range findCalls(text, cPrintfCall) {
		stmts = append(stmts, statement{offset: call.offset, body: call.args})
	}
	if e.lang == LanguageCPP {
		for _, m := range cppCoutStmt.FindAllStringIndex(text, -1) {
			stmts = append(stmts, statement{offset: m[0], cout: true, body: strings.TrimSuffix(text[m[0]:m[1]], ";")})
		}
	}
	sort.Slice(stmts, func(i, j int) bool {
		return stmts[i].offset < stmts[j].offset
	})
	return stmts
}

func (e *CExecutor) firstStatement(text string) (statement, bool) {
	stmts := e.statements(text)
	if len(stmts) == 0 {
		return statement{}, false
	}
	return stmts[0], true
}

func (e *CExecutor) render(stmt statement, b *binding) string {
	if stmt.cout {
		return renderCout(stmt.body, b)
	}
	return renderPrintf(splitTopLevel(stmt.body, ","), b)
}

// Ensure CExecutor implements LanguageExecutor
var _ LanguageExecutor = (*CExecutor)(nil)
