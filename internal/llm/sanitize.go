package llm

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultMaxContentChars caps the content placed into a prompt.
const DefaultMaxContentChars = 8000

// SanitizeContent turns an email body (plain text or HTML) into compact text
// suitable for a prompt: markup is stripped, script and style blocks dropped,
// entities decoded, whitespace collapsed and the result capped at maxChars runes.
// A non-positive maxChars uses DefaultMaxContentChars.
func SanitizeContent(body string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxContentChars
	}
	var text string
	if looksLikeHTML(body) {
		text = HTMLToText(body)
	} else {
		text = html.UnescapeString(body)
	}
	text = CollapseWhitespace(text)

	r := []rune(text)
	if len(r) > maxChars {
		text = strings.TrimSpace(string(r[:maxChars]))
	}
	return text
}

// HTMLToText extracts the visible text of an HTML document. Block-level
// elements become line breaks so table rows stay apart.
func HTMLToText(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	var (
		b        strings.Builder
		skipping int
	)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or malformed input; either way keep what was read.
			return strings.TrimSpace(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Script || a == atom.Style || a == atom.Head || a == atom.Noscript {
				if tt == html.StartTagToken {
					skipping++
				}
				continue
			}
			if isBlock(a) {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Script || a == atom.Style || a == atom.Head || a == atom.Noscript {
				if skipping > 0 {
					skipping--
				}
				continue
			}
			if isBlock(a) {
				b.WriteByte('\n')
			} else if a == atom.Td || a == atom.Th {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skipping > 0 {
				continue
			}
			// Text() already decodes entities.
			b.Write(z.Text())
		}
	}
}

// CollapseWhitespace trims every line, collapses runs of blanks inside lines
// and drops empty lines.
func CollapseWhitespace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func looksLikeHTML(s string) bool {
	l := strings.ToLower(s)
	return strings.Contains(l, "<html") ||
		strings.Contains(l, "<body") ||
		strings.Contains(l, "<div") ||
		strings.Contains(l, "<p") ||
		strings.Contains(l, "<br") ||
		strings.Contains(l, "<table") ||
		strings.Contains(l, "<span") ||
		strings.Contains(l, "<script") ||
		strings.Contains(l, "<style")
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Tr, atom.Li, atom.Ul, atom.Ol, atom.Table,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Section, atom.Header,
		atom.Footer, atom.Article, atom.Hr, atom.Pre, atom.Blockquote:
		return true
	}
	return false
}
