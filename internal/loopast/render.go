package loopast

import (
	"strconv"
	"strings"
)

// Indent is the per-level indentation used by Render.
const Indent = "  "

// Render prints a node forest as C text, each line prefixed with indent.
func Render(nodes []Node, indent string) string {
	var b strings.Builder
	renderNodes(&b, nodes, indent)
	return b.String()
}

func renderNodes(b *strings.Builder, nodes []Node, indent string) {
	for _, n := range nodes {
		switch v := n.(type) {
		case *Loop:
			renderLoop(b, v, indent)
		case *Stmt:
			if strings.HasPrefix(v.Text, "#") {
				b.WriteString(v.Text)
			} else {
				b.WriteString(indent)
				b.WriteString(v.Text)
			}
			b.WriteByte('\n')
		case *Block:
			b.WriteString(indent + "{\n")
			renderNodes(b, v.Body, indent+Indent)
			b.WriteString(indent + "}\n")
		}
	}
}

func renderLoop(b *strings.Builder, l *Loop, indent string) {
	for _, p := range l.Pragmas {
		b.WriteString(indent + "#pragma " + p + "\n")
	}
	b.WriteString(indent)
	b.WriteString(Header(l))
	b.WriteString(" {\n")
	renderNodes(b, l.Body, indent+Indent)
	b.WriteString(indent + "}\n")
}

// Header renders the `for (...)` line of a loop.
func Header(l *Loop) string {
	var init string
	if l.Lower != nil {
		init = l.Index + "=" + l.Lower.String()
	}
	incr := l.Index + "++"
	if l.Step != 1 {
		incr = l.Index + "+=" + strconv.Itoa(l.Step)
	}
	return "for (" + init + "; " + l.Index + "<" + l.Upper.String() + "; " + incr + ")"
}
