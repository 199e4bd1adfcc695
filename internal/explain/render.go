package explain

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RenderHTML converts an assistant reply to plain terminal text. Block
// elements become line breaks, list items get a bullet, and everything
// else contributes its text. Input that is not HTML passes through with
// whitespace normalized.
func RenderHTML(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(s), ctx)
	if err != nil {
		return s
	}

	r := &renderer{}
	for _, n := range nodes {
		r.walk(n)
	}
	return r.String()
}

type renderer struct {
	lines []string
	cur   strings.Builder
}

func (r *renderer) text(t string) {
	words := strings.Fields(t)
	if len(words) == 0 {
		if r.cur.Len() > 0 && t != "" {
			r.pendingSpace()
		}
		return
	}
	if r.cur.Len() > 0 && startsWithSpace(t) {
		r.pendingSpace()
	}
	r.cur.WriteString(strings.Join(words, " "))
	if endsWithSpace(t) {
		r.pendingSpace()
	}
}

func (r *renderer) pendingSpace() {
	cur := r.cur.String()
	if !strings.HasSuffix(cur, " ") {
		r.cur.WriteByte(' ')
	}
}

func (r *renderer) newline() {
	line := strings.TrimRight(r.cur.String(), " ")
	r.cur.Reset()
	if line == "" {
		return
	}
	r.lines = append(r.lines, line)
}

func (r *renderer) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		r.text(n.Data)
		return
	case html.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			r.walk(c)
		}
		return
	}

	switch n.DataAtom {
	case atom.Script, atom.Style:
		return
	case atom.Br:
		r.newline()
		return
	case atom.Li:
		r.newline()
		r.cur.WriteString("• ")
	case atom.P, atom.Div, atom.Ul, atom.Ol, atom.H1, atom.H2, atom.H3, atom.H4, atom.Table, atom.Tr:
		r.newline()
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.walk(c)
	}

	switch n.DataAtom {
	case atom.Li, atom.P, atom.Div, atom.Ul, atom.Ol, atom.H1, atom.H2, atom.H3, atom.H4, atom.Tr:
		r.newline()
	case atom.Td, atom.Th:
		r.pendingSpace()
	}
}

func (r *renderer) String() string {
	r.newline()
	return strings.Join(r.lines, "\n")
}

func startsWithSpace(s string) bool {
	return s != "" && strings.TrimLeft(s, " \t\r\n") != s
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRight(s, " \t\r\n") != s
}
