package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/codeterm/internal/runner"
)

// Transcript lines emitted by the run lifecycle
const (
	lineCompiled       = "Compilation successful"
	lineOutputHeader   = "--- Output ---"
	lineNoOutput       = "(no output)"
	lineFailed         = "Program failed with exit code 1"
	lineCancelled      = "Run cancelled"
	lineDebugStopped   = "Debug session terminated"
	lineRejectedFormat = "Run rejected: %v"
)

// bannerLines are the two lines that open every run
func bannerLines(cfg runner.LanguageConfig) []string {
	return []string{
		fmt.Sprintf("Compiling %s with %s...", cfg.FileName, cfg.Compiler),
		"$ " + cfg.CompilerCommand,
	}
}

// successLines report a completed run followed by the output section
func successLines(cfg runner.LanguageConfig, elapsed time.Duration, output string) []string {
	lines := []string{
		lineCompiled,
		fmt.Sprintf("Running %s...", cfg.FileName),
		fmt.Sprintf("Program completed in %dms with exit code 0", elapsed.Milliseconds()),
		"",
		lineOutputHeader,
	}
	return append(lines, outputLines(output)...)
}

// failureLines report the error text then the failed banner
func failureLines(execErr *runner.ExecutionError) []string {
	lines := strings.Split(strings.TrimRight(execErr.Message, "\n"), "\n")
	return append(lines, lineFailed)
}

func outputLines(output string) []string {
	trimmed := strings.TrimSuffix(output, "\n")
	if trimmed == "" && output == "" {
		return []string{lineNoOutput}
	}
	return strings.Split(trimmed, "\n")
}

func debugStartedLine(cfg runner.LanguageConfig, lines int) string {
	return fmt.Sprintf("Debug session started for %s (%d lines), paused at line 1", cfg.FileName, lines)
}

func steppedLine(line int) string {
	return fmt.Sprintf("Stepped to line %d", line)
}

// applyOutcome records the engine result on the session. Failures leave the
// performance sample untouched.
func (s *Session) applyOutcome(cfg runner.LanguageConfig, result *runner.ExecutionResult, elapsed time.Duration, perf PerformanceSample, now time.Time) {
	s.Running = false
	s.LastResult = result
	s.RunCount++
	s.LastRunAt = &now
	s.UpdatedAt = now
	if result.Error != nil {
		s.appendLines(failureLines(result.Error)...)
		return
	}
	s.appendLines(successLines(cfg, elapsed, result.Output)...)
	s.Perf = perf
}
