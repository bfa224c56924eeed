package page

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Boolean HTML attributes whose bare presence means "on". The parser
// rewrites their empty values so evaluator checks like
// disabled == "disabled" behave the same for parsed and JSON-supplied
// snapshots.
var booleanAttrs = map[string]bool{
	"disabled": true,
	"checked":  true,
	"readonly": true,
	"required": true,
	"hidden":   true,
	"selected": true,
}

// Parse builds a Snapshot from raw HTML. Only elements carrying an id
// attribute are collected; everything else is invisible to the safety
// planner anyway.
func Parse(url, src string) (*Snapshot, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	snap := &Snapshot{URL: url, HTML: src}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			var id string
			attrs := make(map[string]any, len(n.Attr))
			for _, a := range n.Attr {
				val := a.Val
				if val == "" && booleanAttrs[a.Key] {
					val = a.Key
				}
				attrs[a.Key] = val
				if a.Key == "id" {
					id = a.Val
				}
			}
			if id != "" {
				snap.Elements = append(snap.Elements, Element{
					ID:         id,
					Tag:        n.Data,
					Text:       nodeText(n),
					Attributes: attrs,
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return snap, nil
}

// nodeText collects the text content of n and its descendants,
// collapsing runs of whitespace.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
