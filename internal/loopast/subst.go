package loopast

import "strings"

// SubstituteIdent replaces every whole-identifier occurrence of name in C
// text with repl. Occurrences inside string/char literals and comments, and
// member names after '.' or '->', are left alone.
func SubstituteIdent(text, name, repl string) string {
	if name == "" || !strings.Contains(text, name) {
		return text
	}
	src := []rune(text)
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(src); {
		r := src[i]
		switch {
		case r == '"' || r == '\'':
			j := i + 1
			for j < len(src) && src[j] != r {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			if j < len(src) {
				j++
			}
			b.WriteString(string(src[i:j]))
			i = j
		case r == '/' && i+1 < len(src) && src[i+1] == '/':
			j := i
			for j < len(src) && src[j] != '\n' {
				j++
			}
			b.WriteString(string(src[i:j]))
			i = j
		case r == '/' && i+1 < len(src) && src[i+1] == '*':
			j := i + 2
			for j+1 < len(src) && !(src[j] == '*' && src[j+1] == '/') {
				j++
			}
			j = min(j+2, len(src))
			b.WriteString(string(src[i:j]))
			i = j
		case isIdentStart(r):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := string(src[i:j])
			if word == name && !memberAccess(src, i) {
				b.WriteString(repl)
			} else {
				b.WriteString(word)
			}
			i = j
		case r >= '0' && r <= '9':
			// numeric literals may contain letters (1e5, 0x1f, 2.0f)
			j := i
			for j < len(src) && (isIdentPart(src[j]) || src[j] == '.') {
				j++
			}
			b.WriteString(string(src[i:j]))
			i = j
		default:
			b.WriteRune(r)
			i++
		}
	}
	return b.String()
}

func memberAccess(src []rune, at int) bool {
	k := at - 1
	for k >= 0 && (src[k] == ' ' || src[k] == '\t') {
		k--
	}
	if k < 0 {
		return false
	}
	if src[k] == '.' {
		return true
	}
	return src[k] == '>' && k > 0 && src[k-1] == '-'
}

// ContainsIdent reports whether name occurs as a whole identifier in text.
func ContainsIdent(text, name string) bool {
	const marker = "\x00"
	return strings.Contains(SubstituteIdent(text, name, marker), marker)
}
