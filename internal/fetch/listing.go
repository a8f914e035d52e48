package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// Entry is one link in a remote directory listing.
type Entry struct {
	URL   string
	IsDir bool
}

// Listing fetches an HTML directory index and returns its file and
// subdirectory links. Parent links and fragments are skipped; relative
// hrefs are resolved against the listing URL.
func (c *Client) Listing(ctx context.Context, listURL string) ([]Entry, error) {
	body, err := c.Fetch(ctx, listURL)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(listURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	var entries []Entry
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				if entry, ok := classifyHref(base, attr.Val); ok {
					entries = append(entries, entry)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return entries, nil
}

func classifyHref(base *url.URL, href string) (Entry, bool) {
	href = strings.TrimSpace(href)
	if href == "" || href == ".." || href == "../" || strings.HasPrefix(href, "#") {
		return Entry{}, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return Entry{}, false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return Entry{}, false
	}
	if strings.HasSuffix(resolved.Path, "/") {
		// Only descend, never climb back toward the root.
		if !strings.HasPrefix(resolved.Path, base.Path) || resolved.Path == base.Path {
			return Entry{}, false
		}
		return Entry{URL: resolved.String(), IsDir: true}, true
	}
	if !strings.Contains(path.Base(resolved.Path), ".") {
		return Entry{}, false
	}
	return Entry{URL: resolved.String(), IsDir: false}, true
}
