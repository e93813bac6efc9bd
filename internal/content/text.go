package content

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	excessBreaks   = regexp.MustCompile(`\n{3,}`)
	paragraphBreak = regexp.MustCompile(`\n\n+`)
)

// Sanitize turns text that may carry HTML into plain text for storage.
// Entities are decoded, <br> becomes a newline, </p> a paragraph break, every
// other tag is dropped and runs of blank lines collapse to one.
func Sanitize(s string) string {
	decoded := html.UnescapeString(s)

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(decoded))
	for {
		switch z.Next() {
		case html.ErrorToken:
			out := excessBreaks.ReplaceAllString(b.String(), "\n\n")
			return strings.TrimSpace(out)
		case html.TextToken:
			b.Write(z.Raw())
		case html.StartTagToken, html.SelfClosingTagToken:
			if name, _ := z.TagName(); atom.Lookup(name) == atom.Br {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); atom.Lookup(name) == atom.P {
				b.WriteString("\n\n")
			}
		}
	}
}

// ToHTML renders plain text as escaped <p> paragraphs with <br /> line breaks.
func ToHTML(s string) string {
	plain := Sanitize(s)
	if plain == "" {
		return ""
	}
	var b strings.Builder
	for _, para := range paragraphBreak.Split(plain, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(html.EscapeString(para), "\n")
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br />\n"))
		b.WriteString("</p>")
	}
	return b.String()
}
