package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RootURL is the address of the catalog root listing.
func RootURL(baseURL, rootPath string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.Trim(rootPath, "/") + "/"
}

// SectionURLs expands section names into listing addresses under the catalog root.
func SectionURLs(baseURL, rootPath string, sections []string) []string {
	root := "/" + strings.Trim(rootPath, "/") + "/"
	urls := make([]string, 0, len(sections))
	for _, s := range sections {
		s = strings.Trim(s, "/ ")
		if s == "" {
			continue
		}
		urls = append(urls, strings.TrimRight(baseURL, "/")+root+s+"/")
	}
	return urls
}

// DiscoverLinks returns the sorted, de-duplicated absolute addresses of
// challenge pages linked from a listing page. Only same-site links at least
// two segments below rootPath qualify; the root index and single-segment
// section pages are not challenge pages.
func DiscoverLinks(markup []byte, baseURL, rootPath string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing: %w", err)
	}

	root := "/" + strings.Trim(rootPath, "/") + "/"
	found := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		p, ok := challengePath(href, base, root)
		if !ok {
			return
		}
		found[base.ResolveReference(&url.URL{Path: p}).String()] = struct{}{}
	})

	links := make([]string, 0, len(found))
	for link := range found {
		links = append(links, link)
	}
	sort.Strings(links)
	return links, nil
}

// challengePath reduces an href to its path when it points at a challenge page.
func challengePath(href string, base *url.URL, root string) (string, bool) {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	if href == "" {
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if ref.IsAbs() || ref.Host != "" {
		if !sameSite(ref.Hostname(), base.Hostname()) {
			return "", false
		}
	} else if !strings.HasPrefix(ref.Path, "/") {
		return "", false
	}

	p := ref.Path
	if !strings.HasPrefix(p, root) {
		return "", false
	}

	rest := strings.Trim(strings.TrimPrefix(p, root), "/")
	if rest == "" || !strings.Contains(rest, "/") {
		return "", false
	}
	return p, true
}

func sameSite(a, b string) bool {
	return strings.TrimPrefix(strings.ToLower(a), "www.") == strings.TrimPrefix(strings.ToLower(b), "www.")
}
