// Package console renders terminal sessions for the CLI: a styled
// transcript, the performance panel and the debug inspector.
package console

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/felixgeelhaar/codeterm/internal/session"
	"github.com/olekukonko/tablewriter"
)

// LineKind classifies a transcript line for styling
type LineKind int

const (
	KindOutput LineKind = iota
	KindBanner
	KindCommand
	KindSuccess
	KindHeader
	KindError
	KindFailure
	KindDebug
	KindInfo
)

// Renderer formats session state. Without color the text is emitted
// unchanged so output is stable when piped.
type Renderer struct {
	color bool

	banner  lipgloss.Style
	command lipgloss.Style
	success lipgloss.Style
	header  lipgloss.Style
	errText lipgloss.Style
	failure lipgloss.Style
	debug   lipgloss.Style
	info    lipgloss.Style
	current lipgloss.Style
	marker  lipgloss.Style
}

// NewRenderer creates a renderer
func NewRenderer(color bool) *Renderer {
	r := &Renderer{color: color}
	r.banner = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	r.command = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	r.success = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	r.header = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	r.errText = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	r.failure = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	r.debug = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	r.info = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	r.current = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11"))
	r.marker = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	return r
}

// Classify assigns a kind to every transcript line. Lines between the
// command banner and the failure banner are error text. Lines after the
// output header are program output until a debug line appears.
func Classify(lines []string) []LineKind {
	kinds := make([]LineKind, len(lines))
	inOutput := false
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "Compiling "):
			kinds[i] = KindBanner
			inOutput = false
		case strings.HasPrefix(line, "$ "):
			kinds[i] = KindCommand
		case line == "--- Output ---":
			kinds[i] = KindHeader
			inOutput = true
		case strings.HasPrefix(line, "Debug session"), strings.HasPrefix(line, "Stepped to line"):
			kinds[i] = KindDebug
			inOutput = false
		case inOutput:
			kinds[i] = KindOutput
		case line == "Compilation successful", strings.HasPrefix(line, "Program completed"):
			kinds[i] = KindSuccess
		case strings.HasPrefix(line, "Program failed"), line == "Run cancelled", strings.HasPrefix(line, "Run rejected"):
			kinds[i] = KindFailure
		case strings.HasPrefix(line, "Running "), line == "":
			kinds[i] = KindInfo
		default:
			kinds[i] = KindError
		}
	}
	return kinds
}

// Transcript renders the transcript, one styled line per entry
func (r *Renderer) Transcript(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	kinds := Classify(lines)
	var b strings.Builder
	for i, line := range lines {
		b.WriteString(r.paint(r.style(kinds[i]), line))
		b.WriteByte('\n')
	}
	return b.String()
}

func (r *Renderer) paint(style lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return style.Render(text)
}

func (r *Renderer) style(kind LineKind) lipgloss.Style {
	switch kind {
	case KindBanner:
		return r.banner
	case KindCommand:
		return r.command
	case KindSuccess:
		return r.success
	case KindHeader:
		return r.header
	case KindError:
		return r.errText
	case KindFailure:
		return r.failure
	case KindDebug:
		return r.debug
	case KindInfo:
		return r.info
	default:
		return lipgloss.NewStyle()
	}
}

// Performance renders the metrics panel
func (r *Renderer) Performance(p session.PerformanceSample) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})

	table.Append([]string{"Heap used", fmt.Sprintf("%.1f MB", p.HeapUsedMB())})
	table.Append([]string{"Heap total", fmt.Sprintf("%.1f MB", p.HeapTotalMB())})
	table.Append([]string{"Heap usage", fmt.Sprintf("%.1f%%", p.HeapPercent())})
	table.Append([]string{"Execution time", fmt.Sprintf("%d ms", p.ElapsedMs)})
	table.Append([]string{"CPU", fmt.Sprintf("%.1f%%", p.CPUPercent)})

	table.Render()
	return buf.String()
}

// Inspector renders the debug panel: position, variables, call stack and
// watches
func (r *Renderer) Inspector(d session.DebugSession) string {
	if !d.Active {
		return r.paint(r.info, "Debugger inactive") + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", r.paint(r.debug, fmt.Sprintf("Paused at line %d of %d", d.CurrentLine, d.LineCount)))
	if len(d.Breakpoints) > 0 {
		bps := make([]string, len(d.Breakpoints))
		for i, bp := range d.Breakpoints {
			bps[i] = fmt.Sprintf("%d", bp)
		}
		fmt.Fprintf(&b, "Breakpoints: %s\n", strings.Join(bps, ", "))
	}

	b.WriteString("\nVariables\n")
	vars := make([][]string, 0, len(d.Variables))
	for _, v := range d.Variables {
		vars = append(vars, []string{v.Name, v.Type, v.Value})
	}
	b.WriteString(renderTable([]string{"Name", "Type", "Value"}, vars))

	b.WriteString("\nCall stack\n")
	for i, frame := range d.CallStack {
		fmt.Fprintf(&b, "  #%d %s\n", i, frame)
	}

	if watches := d.WatchValues(); len(watches) > 0 {
		b.WriteString("\nWatches\n")
		rows := make([][]string, 0, len(watches))
		for _, w := range watches {
			rows = append(rows, []string{w.Name, w.Value})
		}
		b.WriteString(renderTable([]string{"Expression", "Value"}, rows))
	}
	return b.String()
}

// Source renders the buffer with a line-number gutter. Breakpoints are
// marked with "*" and the current debug line with ">".
func (r *Renderer) Source(source string, d session.DebugSession) string {
	lines := strings.Split(strings.TrimRight(source, "\n"), "\n")
	width := len(fmt.Sprintf("%d", len(lines)))

	var b strings.Builder
	for i, line := range lines {
		n := i + 1
		bp := " "
		if d.HasBreakpoint(n) {
			bp = r.paint(r.marker, "*")
		}
		cur := " "
		if d.Active && d.CurrentLine == n {
			cur = ">"
		}
		text := fmt.Sprintf("%s%s %*d | %s", bp, cur, width, n, line)
		if cur == ">" {
			text = r.paint(r.current, text)
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String()
}

func renderTable(header []string, rows [][]string) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
	return buf.String()
}
