package materialize

import (
	"regexp"
	"strings"

	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/internal/loopast"
)

// Reserved placeholders for the paths chosen by the driver.
const (
	SourcePlaceholder = "@SOURCE@"
	BinaryPlaceholder = "@BINARY@"
)

var placeholder = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_]*)@?`)

// Command expands a build command template. `@NAME` and `@NAME@` are
// replaced by the value bound to NAME; unknown names are left alone. Unless
// the template places them itself, `-o binary source` is appended, followed
// by libs.
func Command(template string, env loopast.Env, libs, source, binary string) string {
	hasSource := strings.Contains(template, SourcePlaceholder)
	hasBinary := strings.Contains(template, BinaryPlaceholder)
	cmd := strings.ReplaceAll(template, SourcePlaceholder, shellQuote(source))
	cmd = strings.ReplaceAll(cmd, BinaryPlaceholder, shellQuote(binary))

	cmd = placeholder.ReplaceAllStringFunc(cmd, func(m string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(m, "@"), "@")
		v, ok := env[name]
		if !ok {
			return m
		}
		return domain.Format(v)
	})

	parts := []string{strings.TrimSpace(cmd)}
	if !hasBinary {
		parts = append(parts, "-o", shellQuote(binary))
	}
	if !hasSource {
		parts = append(parts, shellQuote(source))
	}
	if libs = strings.TrimSpace(libs); libs != "" {
		parts = append(parts, libs)
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r == '/' || r == '.' || r == '_' || r == '-' || r == '+' || r == ',' || r == ':' ||
			r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
