package runner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// binding is the loop variable visible while rendering a loop body
type binding struct {
	name  string
	value int64
}

func (b *binding) env() map[string]Value {
	if b == nil {
		return nil
	}
	return map[string]Value{b.name: IntValue(b.value)}
}

// renderValue resolves a single print argument to text. The order is:
// the bare loop variable, a single quoted literal, an evaluable expression,
// textual substitution of the loop variable, and finally the raw argument.
func renderValue(arg string, b *binding, d Dialect) (Value, bool) {
	arg = strings.TrimSpace(arg)
	if b != nil && arg == b.name {
		return IntValue(b.value), true
	}
	if lit, ok := singleLiteral(arg); ok {
		return StringValue(lit), true
	}
	if v, err := Evaluate(arg, b.env(), d); err == nil {
		return v, true
	}
	if b != nil && containsIdent(arg, b.name) {
		return StringValue(substituteIdent(arg, b.name, strconv.FormatInt(b.value, 10))), false
	}
	return StringValue(arg), false
}

func renderArg(arg string, b *binding, d Dialect) string {
	v, _ := renderValue(arg, b, d)
	return v.String()
}

// singleLiteral reports whether arg is exactly one quoted string literal
func singleLiteral(arg string) (string, bool) {
	if len(arg) < 2 || (arg[0] != '"' && arg[0] != '\'') {
		return "", false
	}
	runes := []rune(arg)
	s, end, err := scanQuoted(runes, 0)
	if err != nil || end != len(runes) {
		return "", false
	}
	return s, true
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// walkIdents calls fn for every identifier outside quoted literals
func walkIdents(src string, fn func(start, end int)) {
	runes := []rune(src)
	for i := 0; i < len(runes); {
		c := runes[i]
		switch {
		case c == '"' || c == '\'':
			_, next, err := scanQuoted(runes, i)
			if err != nil {
				return
			}
			i = next
		case c == '_' || unicode.IsLetter(c):
			start := i
			for i < len(runes) && isIdentRune(runes[i]) {
				i++
			}
			fn(start, i)
		case unicode.IsDigit(c):
			for i < len(runes) && isIdentRune(runes[i]) {
				i++
			}
		default:
			i++
		}
	}
}

func containsIdent(src, name string) bool {
	found := false
	runes := []rune(src)
	walkIdents(src, func(start, end int) {
		if string(runes[start:end]) == name {
			found = true
		}
	})
	return found
}

func substituteIdent(src, name, value string) string {
	runes := []rune(src)
	var b strings.Builder
	last := 0
	walkIdents(src, func(start, end int) {
		if string(runes[start:end]) != name {
			return
		}
		b.WriteString(string(runes[last:start]))
		b.WriteString(value)
		last = end
	})
	b.WriteString(string(runes[last:]))
	return b.String()
}

// splitTopLevel splits on sep when it appears outside quotes and brackets
func splitTopLevel(src, sep string) []string {
	var parts []string
	depth := 0
	start := 0
	runes := []rune(src)
	sepRunes := []rune(sep)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '"' || c == '\'':
			_, next, err := scanQuoted(runes, i)
			if err != nil {
				i = len(runes)
				continue
			}
			i = next - 1
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case depth == 0 && hasPrefixAt(runes, i, sepRunes):
			parts = append(parts, string(runes[start:i]))
			i += len(sepRunes) - 1
			start = i + 1
		}
	}
	return append(parts, string(runes[start:]))
}

// closingParen returns the index of the ')' matching an already opened
// parenthesis, scanning from start and skipping quoted literals
func closingParen(src string, start int) (int, bool) {
	depth := 1
	for i := start; i < len(src); i++ {
		switch src[i] {
		case '"', '\'':
			j, ok := closingQuote(src, i)
			if !ok {
				return 0, false
			}
			i = j
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// closingQuote returns the index of the quote closing the literal at start
func closingQuote(src string, start int) (int, bool) {
	quote := src[start]
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case quote:
			return i, true
		case '\n':
			return 0, false
		}
	}
	return 0, false
}

func hasPrefixAt(runes []rune, i int, prefix []rune) bool {
	if i+len(prefix) > len(runes) {
		return false
	}
	for j, r := range prefix {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}

// interpolateFString renders a Python f-string body
func interpolateFString(body string, b *binding) string {
	var out strings.Builder
	runes := []rune(body)
	for i := 0; i < len(runes) && out.Len() <= maxValueBytes; i++ {
		c := runes[i]
		switch {
		case c == '{' && i+1 < len(runes) && runes[i+1] == '{':
			out.WriteRune('{')
			i++
		case c == '}' && i+1 < len(runes) && runes[i+1] == '}':
			out.WriteRune('}')
			i++
		case c == '{':
			end := i + 1
			for end < len(runes) && runes[end] != '}' {
				end++
			}
			if end >= len(runes) {
				out.WriteString(string(runes[i:]))
				return out.String()
			}
			out.WriteString(renderArg(string(runes[i+1:end]), b, pythonDialect))
			i = end
		default:
			out.WriteRune(c)
		}
	}
	return out.String()
}

var fStringPattern = regexp.MustCompile(`^[fF]("(.*)"|'(.*)')$`)

// renderPythonArg handles f-strings before falling back to the shared rules
func renderPythonArg(arg string, b *binding) string {
	arg = strings.TrimSpace(arg)
	if m := fStringPattern.FindStringSubmatch(arg); m != nil {
		body := m[2]
		if m[3] != "" {
			body = m[3]
		}
		if body, ok := singleLiteral(`"` + strings.ReplaceAll(body, `"`, `\"`) + `"`); ok {
			return interpolateFString(body, b)
		}
	}
	return renderArg(arg, b, pythonDialect)
}

var printfSpecPattern = regexp.MustCompile(`%[-+ 0#]*\d*(?:\.\d+)?(?:l|ll|h)?[diufscxX%]`)

// renderPrintf formats a printf call. The first argument is the format
// string; specifiers consume the remaining arguments in order. Inside a loop
// with no explicit arguments the first integer specifier receives the loop value.
func renderPrintf(args []string, b *binding) string {
	if len(args) == 0 {
		return ""
	}
	format, ok := singleLiteral(strings.TrimSpace(args[0]))
	if !ok {
		return strings.TrimSpace(args[0])
	}
	rest := args[1:]
	loopFill := b != nil && len(rest) == 0
	next := 0
	return printfSpecPattern.ReplaceAllStringFunc(format, func(spec string) string {
		if spec == "%%" {
			return "%"
		}
		verb := spec[len(spec)-1]
		if loopFill {
			if verb == 'd' || verb == 'i' {
				loopFill = false
				return formatSpec(spec, IntValue(b.value), true)
			}
			return spec
		}
		if next >= len(rest) {
			return spec
		}
		v, ok := renderValue(rest[next], b, cDialect)
		next++
		return formatSpec(spec, v, ok)
	})
}

func formatSpec(spec string, v Value, resolved bool) string {
	verb := spec[len(spec)-1]
	goSpec := strings.NewReplacer("ll", "", "l", "", "h", "").Replace(spec[:len(spec)-1])
	switch verb {
	case 'd', 'i', 'u':
		if !resolved || !v.IsNumeric() {
			return v.String()
		}
		return fmt.Sprintf(goSpec+"d", v.Int())
	case 'x', 'X':
		if !resolved || !v.IsNumeric() {
			return v.String()
		}
		return fmt.Sprintf(goSpec+string(verb), v.Int())
	case 'f':
		if !resolved || !v.IsNumeric() {
			return v.String()
		}
		return fmt.Sprintf(goSpec+"f", v.Float())
	case 'c':
		if v.IsInt() {
			return string(rune(v.i))
		}
		return v.String()
	default:
		return fmt.Sprintf(goSpec+"s", v.String())
	}
}

// renderCout renders the segments of a cout statement after the stream
func renderCout(stmt string, b *binding) string {
	segments := splitTopLevel(stmt, "<<")
	var out strings.Builder
	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		if i == 0 && (seg == "cout" || seg == "std::cout") {
			continue
		}
		switch seg {
		case "":
			continue
		case "endl", "std::endl":
			out.WriteString("\n")
		default:
			out.WriteString(renderArg(seg, b, cDialect))
		}
	}
	text := out.String()
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text
}
