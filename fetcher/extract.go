package fetcher

import (
	"fmt"
	"strings"

	"scholarqa/models"
	"scholarqa/profiles"
	"scholarqa/utils"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Extract applies a profile to rendered html and returns the normalized document
func Extract(profile *profiles.Profile, page, pageURL string) (models.RawDocument, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return models.RawDocument{}, fmt.Errorf("can't parse html of %s: %w", pageURL, err)
	}

	doi := extractDOI(doc, profile.DOISelector)
	if doi == "" {
		return models.RawDocument{}, fmt.Errorf("%w: %s", ErrMissingIdentifier, pageURL)
	}
	title := extractTitle(doc)

	profile.Clean(doc)

	var b strings.Builder
	for _, n := range profile.Content(doc).Nodes {
		extractTextOnly(n, &b)
	}

	text := Normalize(b.String())
	if text == "" {
		return models.RawDocument{}, fmt.Errorf("%w: %s", ErrNoContent, pageURL)
	}

	return models.RawDocument{
		DOI:   doi,
		Title: title,
		Text:  text,
		URL:   pageURL,
	}, nil
}

func extractDOI(doc *goquery.Document, selector string) string {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return ""
	}
	raw, ok := sel.Attr("content")
	if !ok {
		raw = sel.Text()
	}
	return utils.StripDOIPrefix(raw)
}

func extractTitle(doc *goquery.Document) string {
	for _, sel := range []string{"meta[name='citation_title']", "meta[property='og:title']", "meta[name='dc.Title']"} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func extractTextOnly(n *html.Node, builder *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		}
	}

	if n.Type == html.TextNode {
		text := strings.TrimSpace(n.Data)
		if text != "" {
			if builder.Len() > 0 {
				builder.WriteString(" ")
			}
			builder.WriteString(text)
		}
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		extractTextOnly(child, builder)
	}
}
