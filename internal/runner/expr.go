package runner

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxValueBytes bounds any string the evaluator builds. It sits just past
// the largest output cap so an oversized value always trips the cap.
const maxValueBytes = MaxOutputBytesLimit + utf8.UTFMax

var (
	errDivisionByZero = errors.New("division by zero")
	errUnboundName    = errors.New("name is not defined")
	errSyntax         = errors.New("invalid expression")
	errIntOverflow    = errors.New("integer overflow")
)

// Dialect tunes the evaluator to the arithmetic rules of a language family
type Dialect struct {
	TrueDivision  bool // "/" always yields a float (Python 3)
	FloorDivision bool // "//" operator is available
	Power         bool // "**" operator is available
	FlooredModulo bool // "%" takes the sign of the divisor
	StringRepeat  bool // "ab" * 3 repeats the string
	ExactIntegers bool // integers never wrap; int64 overflow fails evaluation
}

var (
	pythonDialect = Dialect{TrueDivision: true, FloorDivision: true, Power: true, FlooredModulo: true, StringRepeat: true, ExactIntegers: true}
	cDialect      = Dialect{}
)

type valueKind int

const (
	intValue valueKind = iota
	floatValue
	stringValue
)

// Value is the result of evaluating an expression
type Value struct {
	kind valueKind
	i    int64
	f    float64
	s    string
}

// IntValue creates an integer value
func IntValue(i int64) Value { return Value{kind: intValue, i: i} }

// FloatValue creates a float value
func FloatValue(f float64) Value { return Value{kind: floatValue, f: f} }

// StringValue creates a string value
func StringValue(s string) Value { return Value{kind: stringValue, s: s} }

// IsNumeric reports whether the value is an int or a float
func (v Value) IsNumeric() bool { return v.kind != stringValue }

// IsInt reports whether the value is an integer
func (v Value) IsInt() bool { return v.kind == intValue }

// Int returns the value truncated to an integer
func (v Value) Int() int64 {
	switch v.kind {
	case intValue:
		return v.i
	case floatValue:
		return int64(v.f)
	default:
		n, _ := strconv.ParseInt(v.s, 10, 64)
		return n
	}
}

// Float returns the value as a float
func (v Value) Float() float64 {
	switch v.kind {
	case intValue:
		return float64(v.i)
	case floatValue:
		return v.f
	default:
		f, _ := strconv.ParseFloat(v.s, 64)
		return f
	}
}

// String renders the value the way a print statement would
func (v Value) String() string {
	switch v.kind {
	case intValue:
		return strconv.FormatInt(v.i, 10)
	case floatValue:
		return formatFloat(v.f)
	default:
		return v.s
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if f == math.Trunc(f) {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Evaluate evaluates a small arithmetic expression. Identifiers resolve
// through env; anything outside the supported grammar is an error.
func Evaluate(expr string, env map[string]Value, d Dialect) (Value, error) {
	tokens, err := tokenize(expr, d)
	if err != nil {
		return Value{}, err
	}
	p := &exprParser{tokens: tokens, env: env, dialect: d}
	v, err := p.parseSum()
	if err != nil {
		return Value{}, err
	}
	if p.peek().kind != tokEOF {
		return Value{}, fmt.Errorf("%w: unexpected %q", errSyntax, p.peek().text)
	}
	return v, nil
}

// evalInt evaluates an expression that must produce an integer
func evalInt(expr string, d Dialect) (int64, bool) {
	v, err := Evaluate(expr, nil, d)
	if err != nil || !v.IsInt() {
		return 0, false
	}
	return v.i, true
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	val  Value
}

func tokenize(src string, d Dialect) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	for i := 0; i < len(runes); {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case unicode.IsDigit(c) || (c == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			isFloat := false
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				if runes[i] == '.' {
					isFloat = true
				}
				i++
			}
			text := string(runes[start:i])
			// C-style numeric suffixes
			for i < len(runes) && strings.ContainsRune("fFlLuU", runes[i]) {
				if runes[i] == 'f' || runes[i] == 'F' {
					isFloat = true
				}
				i++
			}
			if isFloat {
				f, err := strconv.ParseFloat(text, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: bad number %q", errSyntax, text)
				}
				tokens = append(tokens, token{kind: tokNumber, text: text, val: FloatValue(f)})
			} else {
				n, err := strconv.ParseInt(text, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: bad number %q", errSyntax, text)
				}
				tokens = append(tokens, token{kind: tokNumber, text: text, val: IntValue(n)})
			}
		case c == '"' || c == '\'':
			s, next, err := scanQuoted(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: string(runes[i:next]), val: StringValue(s)})
			i = next
		case c == '_' || unicode.IsLetter(c):
			start := i
			for i < len(runes) && (runes[i] == '_' || unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(runes[start:i])})
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		case c == '*' && i+1 < len(runes) && runes[i+1] == '*' && d.Power:
			tokens = append(tokens, token{kind: tokOp, text: "**"})
			i += 2
		case c == '/' && i+1 < len(runes) && runes[i+1] == '/' && d.FloorDivision:
			tokens = append(tokens, token{kind: tokOp, text: "//"})
			i += 2
		case strings.ContainsRune("+-*/%", c):
			tokens = append(tokens, token{kind: tokOp, text: string(c)})
			i++
		default:
			return nil, fmt.Errorf("%w: unexpected character %q", errSyntax, c)
		}
	}
	return append(tokens, token{kind: tokEOF}), nil
}

// scanQuoted reads a quoted literal starting at runes[start] and returns its
// unescaped content and the index just past the closing quote.
func scanQuoted(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	var b strings.Builder
	for i := start + 1; i < len(runes); i++ {
		c := runes[i]
		if c == '\\' && i+1 < len(runes) {
			i++
			b.WriteString(unescape(runes[i]))
			continue
		}
		if c == quote {
			return b.String(), i + 1, nil
		}
		b.WriteRune(c)
	}
	return "", 0, fmt.Errorf("%w: unterminated string", errSyntax)
}

func unescape(c rune) string {
	switch c {
	case 'n':
		return "\n"
	case 't':
		return "\t"
	case 'r':
		return "\r"
	case '0':
		return "\x00"
	default:
		return string(c)
	}
}

type exprParser struct {
	tokens  []token
	pos     int
	env     map[string]Value
	dialect Dialect
}

func (p *exprParser) peek() token { return p.tokens[p.pos] }

func (p *exprParser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) parseSum() (Value, error) {
	left, err := p.parseProduct()
	if err != nil {
		return Value{}, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.parseProduct()
		if err != nil {
			return Value{}, err
		}
		left, err = p.apply(t.text, left, right)
		if err != nil {
			return Value{}, err
		}
	}
}

func (p *exprParser) parseProduct() (Value, error) {
	left, err := p.parseUnary()
	if err != nil {
		return Value{}, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/" && t.text != "//" && t.text != "%") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return Value{}, err
		}
		left, err = p.apply(t.text, left, right)
		if err != nil {
			return Value{}, err
		}
	}
}

func (p *exprParser) parseUnary() (Value, error) {
	t := p.peek()
	if t.kind == tokOp && (t.text == "-" || t.text == "+") {
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return Value{}, err
		}
		if !v.IsNumeric() {
			return Value{}, fmt.Errorf("%w: bad operand for unary %s", errSyntax, t.text)
		}
		if t.text == "+" {
			return v, nil
		}
		if v.IsInt() {
			if v.i == math.MinInt64 && p.dialect.ExactIntegers {
				return Value{}, errIntOverflow
			}
			return IntValue(-v.i), nil
		}
		return FloatValue(-v.f), nil
	}
	return p.parsePower()
}

func (p *exprParser) parsePower() (Value, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return Value{}, err
	}
	t := p.peek()
	if t.kind == tokOp && t.text == "**" {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return Value{}, err
		}
		return p.apply("**", base, exp)
	}
	return base, nil
}

func (p *exprParser) parsePrimary() (Value, error) {
	t := p.next()
	switch t.kind {
	case tokNumber, tokString:
		return t.val, nil
	case tokIdent:
		v, ok := p.env[t.text]
		if !ok {
			return Value{}, fmt.Errorf("%w: %s", errUnboundName, t.text)
		}
		return v, nil
	case tokLParen:
		v, err := p.parseSum()
		if err != nil {
			return Value{}, err
		}
		if p.next().kind != tokRParen {
			return Value{}, fmt.Errorf("%w: missing ')'", errSyntax)
		}
		return v, nil
	default:
		return Value{}, fmt.Errorf("%w: unexpected %q", errSyntax, t.text)
	}
}

func (p *exprParser) apply(op string, a, b Value) (Value, error) {
	if !a.IsNumeric() || !b.IsNumeric() {
		return p.applyString(op, a, b)
	}
	bothInt := a.IsInt() && b.IsInt()
	switch op {
	case "+":
		if bothInt {
			return p.exactInt(addInt(a.i, b.i))
		}
		return FloatValue(a.Float() + b.Float()), nil
	case "-":
		if bothInt {
			return p.exactInt(subInt(a.i, b.i))
		}
		return FloatValue(a.Float() - b.Float()), nil
	case "*":
		if bothInt {
			return p.exactInt(mulInt(a.i, b.i))
		}
		return FloatValue(a.Float() * b.Float()), nil
	case "/":
		if b.Float() == 0 {
			return Value{}, errDivisionByZero
		}
		if bothInt && !p.dialect.TrueDivision {
			return IntValue(a.i / b.i), nil
		}
		return FloatValue(a.Float() / b.Float()), nil
	case "//":
		if b.Float() == 0 {
			return Value{}, errDivisionByZero
		}
		if bothInt {
			q := a.i / b.i
			if (a.i%b.i != 0) && ((a.i < 0) != (b.i < 0)) {
				q--
			}
			return IntValue(q), nil
		}
		return FloatValue(math.Floor(a.Float() / b.Float())), nil
	case "%":
		if b.Float() == 0 {
			return Value{}, errDivisionByZero
		}
		if bothInt {
			m := a.i % b.i
			if p.dialect.FlooredModulo && m != 0 && ((m < 0) != (b.i < 0)) {
				m += b.i
			}
			return IntValue(m), nil
		}
		m := math.Mod(a.Float(), b.Float())
		if p.dialect.FlooredModulo && m != 0 && ((m < 0) != (b.Float() < 0)) {
			m += b.Float()
		}
		return FloatValue(m), nil
	case "**":
		if bothInt && b.i >= 0 {
			result, ok := powInt(a.i, b.i)
			if !ok {
				return Value{}, errIntOverflow
			}
			return IntValue(result), nil
		}
		return FloatValue(math.Pow(a.Float(), b.Float())), nil
	}
	return Value{}, fmt.Errorf("%w: unknown operator %s", errSyntax, op)
}

func (p *exprParser) applyString(op string, a, b Value) (Value, error) {
	switch op {
	case "+":
		return StringValue(concatString(a.String(), b.String())), nil
	case "*":
		if !p.dialect.StringRepeat {
			break
		}
		if a.kind == stringValue && b.IsInt() {
			return StringValue(repeatString(a.s, b.i)), nil
		}
		if b.kind == stringValue && a.IsInt() {
			return StringValue(repeatString(b.s, a.i)), nil
		}
	}
	return Value{}, fmt.Errorf("%w: unsupported operand types for %s", errSyntax, op)
}

// exactInt wraps an integer result, failing on overflow where the dialect
// keeps integers exact. Other dialects keep the two's complement result.
func (p *exprParser) exactInt(v int64, ok bool) (Value, error) {
	if !ok && p.dialect.ExactIntegers {
		return Value{}, errIntOverflow
	}
	return IntValue(v), nil
}

func addInt(a, b int64) (int64, bool) {
	s := a + b
	return s, (s > a) == (b > 0)
}

func subInt(a, b int64) (int64, bool) {
	d := a - b
	return d, (d < a) == (b > 0)
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	neg := (a < 0) != (b < 0)
	hi, lo := bits.Mul64(absInt(a), absInt(b))
	if hi != 0 {
		return a * b, false
	}
	if neg {
		return a * b, lo <= 1<<63
	}
	return a * b, lo < 1<<63
}

func absInt(n int64) uint64 {
	if n < 0 {
		return uint64(-n)
	}
	return uint64(n)
}

// powInt raises base to a non-negative exponent by squaring
func powInt(base, exp int64) (int64, bool) {
	result := int64(1)
	for exp > 0 {
		var ok bool
		if exp&1 == 1 {
			if result, ok = mulInt(result, base); !ok {
				return 0, false
			}
		}
		exp >>= 1
		if exp > 0 {
			if base, ok = mulInt(base, base); !ok {
				return 0, false
			}
		}
	}
	return result, true
}

// repeatString repeats s n times, clamped to maxValueBytes
func repeatString(s string, n int64) string {
	if s == "" || n <= 0 {
		return ""
	}
	if limit := int64(maxValueBytes/len(s)) + 1; n > limit {
		n = limit
	}
	return truncateBytes(strings.Repeat(s, int(n)), maxValueBytes)
}

// concatString joins a and b, clamped to maxValueBytes
func concatString(a, b string) string {
	if len(a)+len(b) <= maxValueBytes {
		return a + b
	}
	a = truncateBytes(a, maxValueBytes)
	return a + truncateBytes(b, maxValueBytes-len(a))
}
