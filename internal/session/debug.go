package session

import (
	"fmt"
	"slices"
	"strconv"
)

// counterVariable is the canned variable incremented on every step
const counterVariable = "i"

// notAvailable is shown for watches that match no variable
const notAvailable = "not available"

// Variable is one entry of the canned variable set
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Watch is a watch expression with its display value
type Watch struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// DebugSession is the mock step debugger. Its variables, stack and metrics
// are illustrative and unrelated to the program being debugged.
type DebugSession struct {
	Active      bool              `json:"active"`
	Breakpoints []int             `json:"breakpoints"` // sorted, unique
	CurrentLine int               `json:"current_line"`
	LineCount   int               `json:"line_count"`
	Variables   []Variable        `json:"variables"`
	CallStack   []string          `json:"call_stack"`
	Watches     []string          `json:"watches"`
	Perf        PerformanceSample `json:"performance"`
	Steps       int               `json:"steps"`
}

func (d DebugSession) clone() DebugSession {
	c := d
	c.Breakpoints = slices.Clone(d.Breakpoints)
	c.Variables = slices.Clone(d.Variables)
	c.CallStack = slices.Clone(d.CallStack)
	c.Watches = slices.Clone(d.Watches)
	return c
}

func cannedVariables() []Variable {
	return []Variable{
		{Name: counterVariable, Type: "int", Value: "0"},
		{Name: "sum", Type: "int", Value: "0"},
		{Name: "message", Type: "string", Value: `"Hello, World!"`},
		{Name: "numbers", Type: "array", Value: "[1, 2, 3, 4, 5]"},
	}
}

func cannedCallStack(fileName string, line int) []string {
	return []string{
		topFrame(fileName, line),
		"<runtime entry>",
	}
}

func topFrame(fileName string, line int) string {
	return fmt.Sprintf("main() at %s:%d", fileName, line)
}

// start seeds the canned debug state for source
func (d *DebugSession) start(source, fileName string, perf PerfConfig) {
	*d = DebugSession{
		Active:      true,
		Breakpoints: []int{},
		CurrentLine: 1,
		LineCount:   lineCount(source),
		Variables:   cannedVariables(),
		CallStack:   cannedCallStack(fileName, 1),
		Watches:     slices.Clone(d.Watches),
		Perf:        perf.debugSample(),
	}
	if d.Watches == nil {
		d.Watches = []string{}
	}
}

// stepOver advances one line, wrapping from the last line back to line 1
func (d *DebugSession) stepOver(fileName string, perf PerfConfig) {
	d.CurrentLine = d.CurrentLine%d.LineCount + 1
	d.Steps++
	for i := range d.Variables {
		if d.Variables[i].Name != counterVariable {
			continue
		}
		n, err := strconv.Atoi(d.Variables[i].Value)
		if err == nil {
			d.Variables[i].Value = strconv.Itoa(n + 1)
		}
	}
	if len(d.CallStack) > 0 {
		d.CallStack[0] = topFrame(fileName, d.CurrentLine)
	}
	d.Perf = perf.step(d.Perf)
}

// stop resets the debug state. Watches survive for the next session.
func (d *DebugSession) stop() {
	watches := d.Watches
	*d = DebugSession{Breakpoints: []int{}, Watches: watches}
}

// addBreakpoint inserts line keeping the set sorted and unique
func (d *DebugSession) addBreakpoint(line int) {
	i, found := slices.BinarySearch(d.Breakpoints, line)
	if found {
		return
	}
	d.Breakpoints = slices.Insert(d.Breakpoints, i, line)
}

// removeBreakpoint deletes line; a non-member is a no-op
func (d *DebugSession) removeBreakpoint(line int) {
	i, found := slices.BinarySearch(d.Breakpoints, line)
	if !found {
		return
	}
	d.Breakpoints = slices.Delete(d.Breakpoints, i, i+1)
}

// HasBreakpoint reports whether line carries a breakpoint
func (d DebugSession) HasBreakpoint(line int) bool {
	_, found := slices.BinarySearch(d.Breakpoints, line)
	return found
}

func (d *DebugSession) addWatch(name string) {
	if slices.Contains(d.Watches, name) {
		return
	}
	d.Watches = append(d.Watches, name)
}

func (d *DebugSession) removeWatch(name string) {
	d.Watches = slices.DeleteFunc(d.Watches, func(w string) bool { return w == name })
}

// WatchValues resolves every watch against the canned variables
func (d DebugSession) WatchValues() []Watch {
	watches := make([]Watch, 0, len(d.Watches))
	for _, name := range d.Watches {
		value := notAvailable
		if d.Active {
			for _, v := range d.Variables {
				if v.Name == name {
					value = v.Value
					break
				}
			}
		}
		watches = append(watches, Watch{Name: name, Value: value})
	}
	return watches
}
