package catalog

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/censusgdb/pkg/docstore"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Labeled maps service prefix -> year -> layer name -> layer id, recovered
// from the rendered HTML listing pages rather than the JSON API.
type Labeled map[string]map[string]map[string]int

// AllowedCategories are the geography categories kept by labeled discovery.
var AllowedCategories = []string{
	"States",
	"Counties",
	"County Subdivisions",
	"Census Tracts",
	"Census Block Groups",
	"Census Blocks",
	"Incorporated Places",
	"Census Designated Places",
	"Congressional Districts",
	"State Legislative Districts",
	"Unified School Districts",
	"Secondary School Districts",
	"Elementary School Districts",
	"Urban Areas",
	"Urbanized Areas",
	"Urban Clusters",
	"Public Use Microdata Areas",
	"ZIP Code Tabulation Areas",
	"Voting Districts",
}

var labeledToken = regexp.MustCompile(`^(.+?)\s*\((\d+)\)$`)

// ParseLabeledToken splits a "Name (ID)" listing token.
func ParseLabeledToken(s string) (name string, id int, ok bool) {
	m := labeledToken.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", 0, false
	}
	id, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return strings.TrimSpace(m[1]), id, true
}

// AllowedLabeledLayer applies the allow-list and the explicit drops for label
// and tribal layers.
func AllowedLabeledLayer(name string) bool {
	if strings.HasSuffix(name, "Labels") || strings.HasPrefix(name, "Tribal") {
		return false
	}
	lower := strings.ToLower(name)
	for _, c := range AllowedCategories {
		if strings.Contains(lower, strings.ToLower(c)) {
			return true
		}
	}
	return false
}

// DiscoverLabeledLayers scrapes the HTML listing of baseURL and its folders.
// Failing to read the root page is fatal; a failing service page is skipped.
func (c *Crawler) DiscoverLabeledLayers(ctx context.Context, baseURL string) (Labeled, error) {
	base := strings.TrimRight(baseURL, "/")
	rootURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	doc, err := c.getHTML(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog listing: %w", err)
	}

	services, folders := classifyLinks(rootURL, rootURL, anchors(doc))
	for _, f := range folders {
		sub, err := c.getHTML(ctx, f)
		if err != nil {
			c.logger.Warn("labeled folder skipped", "folder", f, "error", err)
			continue
		}
		page, err := url.Parse(f)
		if err != nil {
			continue
		}
		more, _ := classifyLinks(rootURL, page, anchors(sub))
		services = append(services, more...)
	}
	sort.Strings(services)

	out := make(Labeled)
	for _, svcURL := range services {
		name := serviceName(svcURL)
		prefix, year, ok := SplitYear(name)
		if !ok {
			continue
		}
		page, err := c.getHTML(ctx, svcURL)
		if err != nil {
			c.logger.Warn("labeled service skipped", "service", name, "error", err)
			continue
		}
		layers := make(map[string]int)
		for _, item := range listItems(page) {
			lname, id, ok := ParseLabeledToken(item)
			if !ok {
				continue
			}
			if !AllowedLabeledLayer(lname) {
				continue
			}
			layers[lname] = id
		}
		if len(layers) == 0 {
			continue
		}
		if out[prefix] == nil {
			out[prefix] = make(map[string]map[string]int)
		}
		out[prefix][strconv.Itoa(year)] = layers
	}
	return out, nil
}

// Save writes the labeled inventory atomically.
func (l Labeled) Save(path string) error {
	return docstore.WriteAtomic(path, l)
}

func (c *Crawler) getHTML(ctx context.Context, pageURL string) (*html.Node, error) {
	body, err := c.client.GetBytes(ctx, pageURL+"?f=html")
	if err != nil {
		return nil, err
	}
	return html.Parse(bytes.NewReader(body))
}

type link struct {
	href, text string
}

func anchors(n *html.Node) []link {
	var out []link
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			for _, a := range n.Attr {
				if a.Key == "href" {
					out = append(out, link{href: a.Val, text: collapse(textOf(n, false))})
					break
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return out
}

// classifyLinks resolves links against page and splits those under root into
// map service pages and sub-folders of root.
func classifyLinks(root, page *url.URL, links []link) (services, folders []string) {
	seen := make(map[string]bool)
	rootPath := strings.TrimRight(root.Path, "/")
	for _, l := range links {
		ref, err := url.Parse(l.href)
		if err != nil {
			continue
		}
		abs := page.ResolveReference(ref)
		abs.RawQuery = ""
		abs.Fragment = ""
		p := strings.TrimRight(abs.Path, "/")
		if !strings.HasPrefix(p, rootPath+"/") {
			continue
		}
		u := abs.String()
		if seen[u] {
			continue
		}
		seen[u] = true
		rel := strings.TrimPrefix(p, rootPath+"/")
		switch {
		case strings.HasSuffix(rel, "/MapServer"):
			services = append(services, u)
		case !strings.Contains(rel, "/"):
			folders = append(folders, u)
		}
	}
	sort.Strings(folders)
	return services, folders
}

func serviceName(svcURL string) string {
	p := strings.TrimSuffix(svcURL, "/MapServer")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// listItems returns the own text of every <li>, excluding nested lists.
func listItems(n *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Li {
			if t := collapse(textOf(n, true)); t != "" {
				out = append(out, t)
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return out
}

func textOf(n *html.Node, skipLists bool) string {
	var b strings.Builder
	var walk func(*html.Node, bool)
	walk = func(n *html.Node, top bool) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		if !top && skipLists && n.Type == html.ElementNode && (n.DataAtom == atom.Ul || n.DataAtom == atom.Ol) {
			return
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch, false)
		}
	}
	walk(n, true)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
