// Package discover finds tender detail-page links inside listing pages.
package discover

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// numericID matches the long numeric identifiers tender portals embed in
// detail URLs.
var numericID = regexp.MustCompile(`\d{7,}`)

// detailPath matches the path vocabulary detail pages use.
var detailPath = regexp.MustCompile(`(?i)(detail|content|notice|announce|gonggao|zbgg|cggg|zbhxr|lxcggg|article)`)

// indexPage matches listing/index pages, which must never be treated as
// detail links even when the rest of the URL looks right.
var indexPage = regexp.MustCompile(`(?i)/(index|default|list)(_\d+)?\.\w+$|/$`)

// Config configures a Discoverer for one source.
type Config struct {
	// AllowPatterns further restricts links that already pass the
	// built-in detail heuristics. Empty means the heuristics alone
	// decide.
	AllowPatterns []string
	// DenyPatterns drops matching links even when allowed.
	DenyPatterns []string
	// MaxLinks caps links returned per page. Default: 50.
	MaxLinks int
}

// Discoverer extracts candidate detail links from listing HTML.
type Discoverer struct {
	allow    []*regexp.Regexp
	deny     []*regexp.Regexp
	maxLinks int
}

// New compiles the source's link patterns.
func New(cfg Config) (*Discoverer, error) {
	d := &Discoverer{maxLinks: cfg.MaxLinks}
	if d.maxLinks <= 0 {
		d.maxLinks = 50
	}
	for _, p := range cfg.AllowPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("discover: allow pattern %q: %w", p, err)
		}
		d.allow = append(d.allow, re)
	}
	for _, p := range cfg.DenyPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("discover: deny pattern %q: %w", p, err)
		}
		d.deny = append(d.deny, re)
	}
	return d, nil
}

// Links parses body, resolves every anchor against baseURL, and returns
// the candidate detail links in document order, deduplicated exactly.
func (d *Discoverer) Links(baseURL string, body []byte) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("discover: parse base URL: %w", err)
	}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("discover: parse HTML: %w", err)
	}

	seen := make(map[string]bool)
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(links) >= d.maxLinks {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if href := attr(n, "href"); href != "" {
				if resolved := d.candidate(base, href); resolved != "" && !seen[resolved] {
					seen[resolved] = true
					links = append(links, resolved)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

// candidate resolves href and applies the filter chain. Returns "" when
// the link is not a detail-page candidate.
func (d *Discoverer) candidate(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	s := resolved.String()

	for _, re := range d.deny {
		if re.MatchString(s) {
			return ""
		}
	}
	if !looksLikeDetail(resolved) {
		return ""
	}
	if len(d.allow) > 0 {
		matched := false
		for _, re := range d.allow {
			if re.MatchString(s) {
				matched = true
				break
			}
		}
		if !matched {
			return ""
		}
	}
	return s
}

// looksLikeDetail applies the built-in heuristics, all of which must hold:
// a long numeric id anywhere in path or query, detail-page path
// vocabulary, and not an index/listing page.
func looksLikeDetail(u *url.URL) bool {
	if !numericID.MatchString(u.Path) && !numericID.MatchString(u.RawQuery) {
		return false
	}
	if !detailPath.MatchString(u.Path) {
		return false
	}
	return !indexPage.MatchString(u.Path)
}

// Paginator describes how a listing source pages: a query parameter is
// mutated with increasing page numbers.
type Paginator struct {
	// Param is the page-number query parameter, e.g. "page" or "pageNo".
	Param string
	// Start is the first page number. Default: 1.
	Start int
	// MaxPages caps the walk. Default: 10.
	MaxPages int
}

func (p *Paginator) defaults() {
	if p.Start <= 0 {
		p.Start = 1
	}
	if p.MaxPages <= 0 {
		p.MaxPages = 10
	}
}

// Paginate walks listing pages via fetchPage, collecting links across pages
// with cross-page dedup. The walk stops when a page yields zero new links,
// when a page's yield drops below half the running per-page average, or at
// the page cap. Fetch errors past page one end the walk with the links
// gathered so far.
func (d *Discoverer) Paginate(ctx context.Context, baseURL string, p Paginator, fetchPage func(ctx context.Context, pageURL string) ([]byte, error)) ([]string, error) {
	p.defaults()
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("discover: parse base URL: %w", err)
	}

	seen := make(map[string]bool)
	var all []string
	var totalNew, pagesCounted int

	for page := p.Start; page < p.Start+p.MaxPages; page++ {
		if ctx.Err() != nil {
			return all, ctx.Err()
		}
		pageURL := withPageParam(base, p.Param, page)
		body, err := fetchPage(ctx, pageURL)
		if err != nil {
			if page == p.Start {
				return nil, fmt.Errorf("discover: fetch page %d: %w", page, err)
			}
			break
		}
		links, err := d.Links(pageURL, body)
		if err != nil {
			break
		}

		newCount := 0
		for _, l := range links {
			if !seen[l] {
				seen[l] = true
				all = append(all, l)
				newCount++
			}
		}
		if newCount == 0 {
			break
		}
		// A page yielding far below the prior pages' average means the
		// listing has started repeating or trailed off.
		if pagesCounted > 0 {
			avg := float64(totalNew) / float64(pagesCounted)
			if float64(newCount) < avg/2 {
				break
			}
		}
		totalNew += newCount
		pagesCounted++
	}
	return all, nil
}

func withPageParam(base *url.URL, param string, page int) string {
	u := *base
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
