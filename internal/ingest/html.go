package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var htmlTag = regexp.MustCompile(`(?i)<\s*(html|body|div|p|span|h[1-6]|ul|li|table|article|section|br)[\s>/]`)

// LooksLikeHTML reports whether s contains markup worth stripping.
func LooksLikeHTML(s string) bool {
	return htmlTag.MatchString(s)
}

// HTMLToText returns the visible text of an HTML document with navigation,
// scripts and styles removed. Block elements are separated by whitespace so
// words from adjacent blocks never run together.
func HTMLToText(s string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, noscript, template, iframe, svg, nav, form").Remove()
	doc.Find("p, div, li, br, tr, td, th, h1, h2, h3, h4, h5, h6, section, article, header, footer, blockquote, pre, dt, dd").
		Each(func(_ int, sel *goquery.Selection) {
			sel.AppendHtml(" ")
			sel.PrependHtml(" ")
		})

	var parts []string
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		parts = append(parts, title)
	}
	parts = append(parts, doc.Find("body").Text())

	return strings.Join(strings.Fields(strings.Join(parts, " ")), " "), nil
}
