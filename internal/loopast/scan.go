package loopast

import (
	"fmt"
	"strings"
	"unicode"
)

// Scanner is a rune-level cursor over annotation and C-subset text. It tracks
// line numbers so errors can point back into the original source.
type Scanner struct {
	src  []rune
	pos  int
	line int

	// HashComments makes '#' start a comment running to end of line, as in
	// tuning blocks. In loop blocks '#' introduces preprocessor lines instead.
	HashComments bool
}

// NewScanner returns a scanner over src whose first line is numbered line.
func NewScanner(src string, line int) *Scanner {
	if line <= 0 {
		line = 1
	}
	return &Scanner{src: []rune(src), line: line}
}

// SyntaxError reports a position-tagged scanning or parsing failure.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Errorf builds a SyntaxError at the current line.
func (s *Scanner) Errorf(format string, args ...any) error {
	return &SyntaxError{Line: s.line, Msg: fmt.Sprintf(format, args...)}
}

// Line returns the current line number.
func (s *Scanner) Line() int { return s.line }

// EOF reports whether the input is exhausted.
func (s *Scanner) EOF() bool { return s.pos >= len(s.src) }

// Peek returns the current rune without consuming it, or 0 at EOF.
func (s *Scanner) Peek() rune {
	if s.EOF() {
		return 0
	}
	return s.src[s.pos]
}

func (s *Scanner) peekAt(off int) rune {
	if s.pos+off >= len(s.src) {
		return 0
	}
	return s.src[s.pos+off]
}

// Next consumes and returns one rune.
func (s *Scanner) Next() rune {
	if s.EOF() {
		return 0
	}
	r := s.src[s.pos]
	s.pos++
	if r == '\n' {
		s.line++
	}
	return r
}

// Rest returns the unconsumed input.
func (s *Scanner) Rest() string { return string(s.src[s.pos:]) }

// SkipSpace skips whitespace and comments.
func (s *Scanner) SkipSpace() {
	for !s.EOF() {
		r := s.Peek()
		switch {
		case unicode.IsSpace(r):
			s.Next()
		case r == '/' && s.peekAt(1) == '/':
			s.skipLine()
		case r == '/' && s.peekAt(1) == '*':
			s.Next()
			s.Next()
			for !s.EOF() && !(s.Peek() == '*' && s.peekAt(1) == '/') {
				s.Next()
			}
			s.Next()
			s.Next()
		case r == '#' && s.HashComments:
			s.skipLine()
		default:
			return
		}
	}
}

func (s *Scanner) skipLine() {
	for !s.EOF() && s.Peek() != '\n' {
		s.Next()
	}
}

// ReadLine consumes up to and including the next newline and returns the
// line without its terminator.
func (s *Scanner) ReadLine() string {
	var b strings.Builder
	for !s.EOF() && s.Peek() != '\n' {
		b.WriteRune(s.Next())
	}
	s.Next()
	return b.String()
}

// Accept consumes r (after skipping space) if it is next.
func (s *Scanner) Accept(r rune) bool {
	s.SkipSpace()
	if s.Peek() == r {
		s.Next()
		return true
	}
	return false
}

// Expect consumes r or fails.
func (s *Scanner) Expect(r rune) error {
	if !s.Accept(r) {
		if s.EOF() {
			return s.Errorf("expected %q, found end of input", r)
		}
		return s.Errorf("expected %q, found %q", r, s.Peek())
	}
	return nil
}

// AcceptString consumes lit if the input continues with it.
func (s *Scanner) AcceptString(lit string) bool {
	s.SkipSpace()
	rs := []rune(lit)
	for i, r := range rs {
		if s.peekAt(i) != r {
			return false
		}
	}
	for range rs {
		s.Next()
	}
	return true
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isIdentPart(r rune) bool  { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

// PeekIdent returns the identifier at the cursor without consuming it.
func (s *Scanner) PeekIdent() string {
	s.SkipSpace()
	if !isIdentStart(s.Peek()) {
		return ""
	}
	end := s.pos
	for end < len(s.src) && isIdentPart(s.src[end]) {
		end++
	}
	return string(s.src[s.pos:end])
}

// Ident consumes an identifier.
func (s *Scanner) Ident() (string, error) {
	id := s.PeekIdent()
	if id == "" {
		return "", s.Errorf("expected identifier, found %q", s.Peek())
	}
	for range []rune(id) {
		s.Next()
	}
	return id, nil
}

// AcceptKeyword consumes kw when it is the next whole identifier.
func (s *Scanner) AcceptKeyword(kw string) bool {
	if s.PeekIdent() != kw {
		return false
	}
	for range []rune(kw) {
		s.Next()
	}
	return true
}

// Number consumes an integer or decimal literal, including exponents.
func (s *Scanner) Number() (string, error) {
	s.SkipSpace()
	var b strings.Builder
	if r := s.Peek(); r == '-' || r == '+' {
		b.WriteRune(s.Next())
	}
	digits := 0
	for !s.EOF() {
		r := s.Peek()
		switch {
		case unicode.IsDigit(r):
			digits++
			b.WriteRune(s.Next())
		case r == '.':
			b.WriteRune(s.Next())
		case (r == 'e' || r == 'E') && digits > 0:
			b.WriteRune(s.Next())
			if n := s.Peek(); n == '-' || n == '+' {
				b.WriteRune(s.Next())
			}
		default:
			goto done
		}
	}
done:
	if digits == 0 {
		return "", s.Errorf("expected number")
	}
	return b.String(), nil
}

// QuotedString consumes a single- or double-quoted string literal and
// returns its unescaped content.
func (s *Scanner) QuotedString() (string, error) {
	s.SkipSpace()
	q := s.Peek()
	if q != '\'' && q != '"' {
		return "", s.Errorf("expected string literal")
	}
	start := s.line
	s.Next()
	var b strings.Builder
	for {
		if s.EOF() {
			return "", &SyntaxError{Line: start, Msg: "unterminated string literal"}
		}
		r := s.Next()
		if r == q {
			return b.String(), nil
		}
		if r == '\\' && !s.EOF() {
			esc := s.Next()
			switch esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(esc)
			}
			continue
		}
		b.WriteRune(r)
	}
}

// Balanced consumes text from an opening delimiter to its matching closer
// and returns the text between them. Strings and comments are skipped so
// delimiters inside them do not count.
func (s *Scanner) Balanced(open, close rune) (string, error) {
	if err := s.Expect(open); err != nil {
		return "", err
	}
	start := s.pos
	startLine := s.line
	depth := 1
	for !s.EOF() {
		r := s.Peek()
		switch {
		case r == '\'' || r == '"':
			if _, err := s.QuotedString(); err != nil {
				return "", err
			}
			continue
		case r == '/' && (s.peekAt(1) == '/' || s.peekAt(1) == '*'):
			s.SkipSpace()
			continue
		case r == '#' && s.HashComments:
			s.skipLine()
			continue
		case r == open:
			depth++
		case r == close:
			depth--
			if depth == 0 {
				text := string(s.src[start:s.pos])
				s.Next()
				return text, nil
			}
		}
		s.Next()
	}
	return "", &SyntaxError{Line: startLine, Msg: fmt.Sprintf("unbalanced %q", open)}
}

// Statement consumes one opaque C statement: everything up to a ';' at
// nesting depth zero, or a brace-delimited body closing at depth zero
// (optionally followed by an else branch).
func (s *Scanner) Statement() (string, error) {
	s.SkipSpace()
	start := s.pos
	startLine := s.line
	depth := 0
	for !s.EOF() {
		r := s.Peek()
		switch {
		case r == '\'' || r == '"':
			if _, err := s.QuotedString(); err != nil {
				return "", err
			}
			continue
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			depth--
		case r == '{' && depth == 0:
			if _, err := s.Balanced('{', '}'); err != nil {
				return "", err
			}
			save, saveLine := s.pos, s.line
			if s.AcceptKeyword("else") {
				continue
			}
			s.pos, s.line = save, saveLine
			return strings.TrimSpace(string(s.src[start:s.pos])), nil
		case r == ';' && depth == 0:
			s.Next()
			return strings.TrimSpace(string(s.src[start:s.pos])), nil
		case r == '}' && depth == 0:
			return "", s.Errorf("unexpected '}' inside statement")
		}
		s.Next()
	}
	return "", &SyntaxError{Line: startLine, Msg: "unterminated statement"}
}
