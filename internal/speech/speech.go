// Package speech prepares model output for a text-to-speech engine.
// Assistant replies arrive as Markdown; reading "asterisk asterisk
// bold asterisk asterisk" aloud is useless, so the text is rendered
// through a real Markdown parser and flattened back to plain prose.
package speech

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Speakable converts a Markdown reply into plain text suitable for
// TTS. Formatting is dropped, block structure becomes sentence breaks,
// and code blocks are elided since reading source aloud is noise.
func Speakable(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		// Not valid Markdown by goldmark's lights; speak it raw.
		return normalize(markdown)
	}

	doc, err := html.Parse(&buf)
	if err != nil {
		return normalize(markdown)
	}

	var b strings.Builder
	flatten(doc, &b)
	return normalize(b.String())
}

// flatten extracts spoken text from the rendered HTML. Block elements
// break the flow; <pre> subtrees are skipped.
func flatten(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Pre:
			return
		case atom.P, atom.Li, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
			atom.Blockquote, atom.Br, atom.Tr:
			b.WriteString("\n")
		}
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		flatten(c, b)
	}
}

// normalize collapses whitespace runs and joins lines into sentences.
func normalize(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " ")
}
