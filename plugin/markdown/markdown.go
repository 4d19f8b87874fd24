// Package markdown flattens model-generated markdown into plain text for
// transports that render none of it: workspace card fields, surface push
// payloads, ticket previews.
package markdown

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Service converts markdown to plain text.
type Service interface {
	PlainText(input string) string
}

// Option configures the service.
type Option func(*service)

// WithLinkURLs keeps link destinations in the output as "text (url)".
func WithLinkURLs() Option {
	return func(s *service) {
		s.keepLinkURLs = true
	}
}

type service struct {
	md           goldmark.Markdown
	keepLinkURLs bool
}

func NewService(opts ...Option) Service {
	s := &service{md: goldmark.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlainText renders the markdown AST as plain text: emphasis and headings
// lose their markers, list items keep a "- " prefix, code blocks keep their
// literal lines.
func (s *service) PlainText(input string) string {
	src := []byte(input)
	doc := s.md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.HardLineBreak() {
					b.WriteByte('\n')
				} else if node.SoftLineBreak() {
					b.WriteByte(' ')
				}
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.URL(src))
			}
		case *ast.Link:
			if !entering && s.keepLinkURLs && len(node.Destination) > 0 {
				fmt.Fprintf(&b, " (%s)", node.Destination)
			}
		case *ast.ListItem:
			if entering {
				b.WriteString("- ")
			}
		case *ast.FencedCodeBlock:
			if entering {
				writeLines(&b, src, n)
			}
		case *ast.CodeBlock:
			if entering {
				writeLines(&b, src, n)
			}
		}

		if !entering {
			switch n.(type) {
			case *ast.Paragraph, *ast.TextBlock, *ast.Heading, *ast.FencedCodeBlock, *ast.CodeBlock:
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(b.String())
}

func writeLines(b *strings.Builder, src []byte, n ast.Node) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		b.Write(segment.Value(src))
	}
}
