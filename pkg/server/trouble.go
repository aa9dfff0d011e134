package server

import (
	"bytes"
	"html"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// RenderTrouble converts the troubleshooting markdown into an HTML page with a table of
// contents linking to the generated heading ids. Health check troubleshooting links point at
// those anchors.
func RenderTrouble(src []byte) ([]byte, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
	doc := md.Parser().Parse(text.NewReader(src))

	var toc bytes.Buffer
	toc.WriteString("<h1>Table of Contents</h1>\n<ul>\n")
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		h, ok := n.(*ast.Heading)
		if !ok || !entering {
			return ast.WalkContinue, nil
		}
		id, ok := h.AttributeString("id")
		if !ok {
			return ast.WalkSkipChildren, nil
		}
		anchor, _ := id.([]byte)
		toc.WriteString(`<li><a href="#`)
		toc.WriteString(html.EscapeString(string(anchor)))
		toc.WriteString(`">`)
		toc.WriteString(html.EscapeString(headingText(h, src)))
		toc.WriteString("</a></li>\n")
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "trouble: collect headings")
	}
	toc.WriteString("</ul>\n")

	var body bytes.Buffer
	if err := md.Renderer().Render(&body, src, doc); err != nil {
		return nil, errors.Wrap(err, "trouble: render markdown")
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>Troubleshooting</title></head>\n<body>\n")
	page.Write(toc.Bytes())
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}

func headingText(n ast.Node, src []byte) string {
	var b bytes.Buffer
	var collect func(ast.Node)
	collect = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				b.Write(t.Segment.Value(src))
				continue
			}
			collect(c)
		}
	}
	collect(n)
	return b.String()
}
