// Package textutil converts HTML bodies (feed entries, generated reports) to
// plain text and trims text for prompts and chat messages.
package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// PlainText strips markup and collapses whitespace. Input that does not parse
// as HTML is returned with whitespace collapsed.
func PlainText(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return collapseSpace(html)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapseSpace(html)
	}
	doc.Find("script, style").Remove()
	// Block elements would otherwise run their text together.
	doc.Find("br, p, div, li, h1, h2, h3, h4, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return collapseSpace(doc.Text())
}

// ReportText renders a generated HTML report as plain lines, one per
// heading, paragraph or list entry, for chat surfaces that do not render HTML.
func ReportText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapseSpace(html)
	}
	var lines []string
	doc.Find("h1, h2, h3, h4, p, li").Each(func(_ int, s *goquery.Selection) {
		text := collapseSpace(s.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "li":
			text = "• " + text
		case "h1", "h2", "h3", "h4":
			text = "*" + text + "*"
		}
		lines = append(lines, text)
	})
	if len(lines) == 0 {
		return collapseSpace(doc.Text())
	}
	return strings.Join(lines, "\n")
}

// Truncate cuts s to at most max runes, appending "..." when it cut.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
