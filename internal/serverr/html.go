package serverr

import (
	"strings"

	"golang.org/x/net/html"
)

const bullet = "• "

// StripHTML turns a server message fragment into plain text. Line breaks and
// block elements become newlines, list items become bullets, entities are
// unescaped, and runs of blank lines collapse into one.
func StripHTML(s string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF is the only error an in-memory reader produces.
			return collapseBlankLines(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br":
				b.WriteByte('\n')
			case "li":
				b.WriteByte('\n')
				b.WriteString(bullet)
			case "p", "div", "ul", "ol", "tr", "table", "h1", "h2", "h3", "h4":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p", "div", "ul", "ol", "tr", "table", "h1", "h2", "h3", "h4":
				b.WriteByte('\n')
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// Summarize strips HTML and splits the text into a one-line summary and the
// full multi-line detail.
func Summarize(s string) (summary, detail string) {
	detail = StripHTML(s)
	summary = detail
	if i := strings.IndexByte(detail, '\n'); i >= 0 {
		summary = detail[:i]
	}
	return strings.TrimSpace(summary), detail
}
