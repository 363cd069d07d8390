package ingest

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// pageTitle returns the og:title of an HTML page, falling back to <title>
func pageTitle(page []byte) string {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return ""
	}

	var og, title string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if og != "" {
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				if attr(n, "property") == "og:title" {
					og = strings.TrimSpace(attr(n, "content"))
				}
			case "title":
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if og != "" {
		return og
	}
	return title
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
