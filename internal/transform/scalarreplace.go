package transform

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/looptune/looptune/internal/loopast"
)

// ScalarReplace caches array elements referenced more than once in an
// innermost loop body in local variables of Type: loaded before the body
// statements when read, stored back after them when written.
type ScalarReplace struct {
	Enabled bool
	Type    string
}

func (s ScalarReplace) Name() string { return "ScalarReplace" }

// Apply rewrites every eligible innermost loop under l. Bodies holding
// control flow or preprocessor lines are left alone, as are references whose
// subscripts are assigned inside the body. Aliasing between distinct
// references is not analysed.
func (s ScalarReplace) Apply(l *loopast.Loop) ([]loopast.Node, error) {
	if !s.Enabled {
		return []loopast.Node{l}, nil
	}
	typ := s.Type
	if typ == "" {
		typ = DefaultScalarType
	}
	names := &tempNamer{text: loopast.Render([]loopast.Node{l}, "")}
	for _, inner := range loopast.Innermost(l) {
		replaceScalars(inner, typ, names)
	}
	return []loopast.Node{l}, nil
}

var controlWords = []string{"if", "else", "while", "do", "switch", "return", "break", "continue", "goto", "for"}

func replaceScalars(l *loopast.Loop, typ string, names *tempNamer) {
	stmts := make([]*loopast.Stmt, 0, len(l.Body))
	for _, n := range l.Body {
		st, ok := n.(*loopast.Stmt)
		if !ok || strings.HasPrefix(st.Text, "#") {
			return
		}
		for _, w := range controlWords {
			if loopast.ContainsIdent(st.Text, w) {
				return
			}
		}
		stmts = append(stmts, st)
	}

	type usage struct {
		count       int
		read, write bool
		first       int
	}
	uses := make(map[string]*usage)
	refs := make([][]arrayRef, len(stmts))
	order := 0
	for i, st := range stmts {
		refs[i] = findArrayRefs(st.Text)
		for _, r := range refs[i] {
			u, ok := uses[r.key]
			if !ok {
				u = &usage{first: order}
				uses[r.key] = u
			}
			order++
			u.count++
			u.read = u.read || r.read
			u.write = u.write || r.write
		}
	}

	var keys []string
	for key, u := range uses {
		if u.count < 2 || !subscriptsStable(key, stmts) {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return
	}
	sort.Slice(keys, func(a, b int) bool { return uses[keys[a]].first < uses[keys[b]].first })

	temps := make(map[string]string, len(keys))
	var loads, stores []loopast.Node
	for _, key := range keys {
		u := uses[key]
		tmp := names.next()
		temps[key] = tmp
		decl := typ + " " + tmp
		if u.read {
			decl += " = " + key
		}
		loads = append(loads, &loopast.Stmt{Text: decl + ";", Line: l.Line})
		if u.write {
			stores = append(stores, &loopast.Stmt{Text: key + " = " + tmp + ";", Line: l.Line})
		}
	}

	body := loads
	for i, st := range stmts {
		text := st.Text
		for j := len(refs[i]) - 1; j >= 0; j-- {
			r := refs[i][j]
			if tmp, ok := temps[r.key]; ok {
				text = text[:r.start] + tmp + text[r.end:]
			}
		}
		body = append(body, &loopast.Stmt{Text: text, Line: st.Line})
	}
	l.Body = append(body, stores...)
}

// arrayRef is one `name[..][..]` occurrence; start and end are byte offsets.
type arrayRef struct {
	start, end  int
	key         string
	read, write bool
}

var compoundAssign = regexp.MustCompile(`^\s*(\+\+|--|(\+|-|\*|/|%|&|\||\^|<<|>>)=)`)

// findArrayRefs lists subscripted references with simple subscripts in C
// text. Member accesses and nested subscripts are skipped.
func findArrayRefs(text string) []arrayRef {
	var out []arrayRef
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '"' || c == '\'':
			i = skipLiteral(text, i)
			continue
		case isIdentByte(c) && (i == 0 || !isIdentByte(text[i-1])) && !(c >= '0' && c <= '9'):
			start := i
			for i < len(text) && isIdentByte(text[i]) {
				i++
			}
			end := i
			simple := true
			for end < len(text) && text[end] == '[' {
				rb := matchBracket(text, end)
				if rb < 0 {
					simple = false
					break
				}
				if strings.ContainsAny(text[end+1:rb], "[]") {
					simple = false
				}
				end = rb + 1
			}
			if end == i || !simple || memberBefore(text, start) {
				i = max(end, i)
				continue
			}
			r := arrayRef{start: start, end: end, key: compact(text[start:end])}
			rest := text[end:]
			switch {
			case compoundAssign.MatchString(rest):
				r.read, r.write = true, true
			case isPlainAssign(rest):
				r.write = true
			case prefixIncrement(text[:start]):
				r.read, r.write = true, true
			default:
				r.read = true
			}
			out = append(out, r)
			i = end
			continue
		}
		i++
	}
	return out
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func skipLiteral(text string, i int) int {
	q := text[i]
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case '\\':
			j++
		case q:
			return j + 1
		}
	}
	return len(text)
}

func matchBracket(text string, open int) int {
	depth := 0
	for j := open; j < len(text); j++ {
		switch text[j] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

func memberBefore(text string, at int) bool {
	k := strings.TrimRight(text[:at], " \t")
	return strings.HasSuffix(k, ".") || strings.HasSuffix(k, "->")
}

func isPlainAssign(rest string) bool {
	rest = strings.TrimLeft(rest, " \t")
	return strings.HasPrefix(rest, "=") && !strings.HasPrefix(rest, "==")
}

func prefixIncrement(before string) bool {
	before = strings.TrimRight(before, " \t")
	return strings.HasSuffix(before, "++") || strings.HasSuffix(before, "--")
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

var identPattern = regexp.MustCompile(`[A-Za-z_]\w*`)

// subscriptsStable reports whether no identifier used in key's subscripts is
// assigned by the statements.
func subscriptsStable(key string, stmts []*loopast.Stmt) bool {
	open := strings.IndexByte(key, '[')
	for _, id := range identPattern.FindAllString(key[open:], -1) {
		assign := regexp.MustCompile(`(^|[^\w.>])` + regexp.QuoteMeta(id) + `\s*(\+\+|--|[-+*/%&|^]?=[^=]|<<=|>>=)|(\+\+|--)\s*` + regexp.QuoteMeta(id) + `\b`)
		for _, st := range stmts {
			if assign.MatchString(st.Text) {
				return false
			}
		}
	}
	return true
}

// tempNamer yields scv_N names not already present in a nest.
type tempNamer struct {
	text string
	n    int
}

func (t *tempNamer) next() string {
	for {
		t.n++
		name := "scv_" + strconv.Itoa(t.n)
		if !loopast.ContainsIdent(t.text, name) {
			return name
		}
	}
}
