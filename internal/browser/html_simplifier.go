package browser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// relevantAttrs are the attributes worth showing an operator who has to pick
// a new selector after the page changed
var relevantAttrs = []string{
	"id",
	"data-testid",
	"data-message-author-role",
	"aria-label",
	"role",
	"type",
	"name",
	"placeholder",
	"contenteditable",
}

// ElementSummary is a compact description of one element in a page snapshot
type ElementSummary struct {
	Tag      string
	Attrs    []html.Attribute
	Class    string
	Text     string
	Selector string // a query that would likely match this element
}

// String renders the summary as a short start tag followed by its text
func (e ElementSummary) String() string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(e.Tag)
	for _, a := range e.Attrs {
		fmt.Fprintf(&b, ` %s="%s"`, a.Key, a.Val)
	}
	if e.Class != "" {
		fmt.Fprintf(&b, ` class="%s"`, e.Class)
	}
	b.WriteString(">")
	if e.Text != "" {
		b.WriteString(" ")
		b.WriteString(e.Text)
	}
	return b.String()
}

// SummarizeElements parses an HTML snapshot and summarizes every element
// matching selector, up to limit entries (limit <= 0 means no limit).
func SummarizeElements(htmlContent, selector string, limit int) ([]ElementSummary, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	// Scripts and styles never hold chat controls and only bloat text
	doc.Find("script, style, noscript, svg, link, meta").Remove()

	var summaries []ElementSummary
	doc.Find(selector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if limit > 0 && len(summaries) >= limit {
			return false
		}
		summaries = append(summaries, summarize(s))
		return true
	})
	return summaries, nil
}

func summarize(s *goquery.Selection) ElementSummary {
	elem := ElementSummary{Tag: goquery.NodeName(s)}

	for _, key := range relevantAttrs {
		if v, ok := s.Attr(key); ok {
			elem.Attrs = append(elem.Attrs, html.Attribute{Key: key, Val: v})
		}
	}

	if class, ok := s.Attr("class"); ok {
		classes := strings.Fields(class)
		if len(classes) > 3 {
			classes = append(classes[:3], "...")
		}
		elem.Class = strings.Join(classes, " ")
	}

	text := strings.Join(strings.Fields(s.Text()), " ")
	if len(text) > 50 {
		text = text[:47] + "..."
	}
	elem.Text = text
	elem.Selector = buildSelector(elem)
	return elem
}

func (e ElementSummary) attr(key string) string {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// buildSelector builds a CSS selector for an element, preferring stable hooks
func buildSelector(elem ElementSummary) string {
	if testID := elem.attr("data-testid"); testID != "" {
		return fmt.Sprintf(`%s[data-testid="%s"]`, elem.Tag, testID)
	}
	if id := elem.attr("id"); id != "" {
		return "#" + id
	}
	if role := elem.attr("data-message-author-role"); role != "" {
		return fmt.Sprintf(`[data-message-author-role="%s"]`, role)
	}

	selector := elem.Tag
	if label := elem.attr("aria-label"); label != "" {
		selector += fmt.Sprintf(`[aria-label="%s"]`, label)
	} else if placeholder := elem.attr("placeholder"); placeholder != "" {
		selector += fmt.Sprintf(`[placeholder="%s"]`, placeholder)
	} else if ce := elem.attr("contenteditable"); ce != "" {
		selector += fmt.Sprintf(`[contenteditable="%s"]`, ce)
	}
	return selector
}
