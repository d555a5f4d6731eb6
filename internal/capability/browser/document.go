package browser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// MaxHTMLSize limits one loadHtml payload.
const MaxHTMLSize = 10 * 1024 * 1024

var (
	ErrNoDocument = errors.New("no document loaded")
	ErrEmptyHTML  = errors.New("html content required")
)

// DefaultPolicy is the UGC policy extended with document structure and
// class attributes, so titles and class selectors survive sanitizing.
func DefaultPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("html", "head", "body", "title")
	p.AllowAttrs("class").Globally()
	return p
}

// Document is a sanitized page, parsed for CSS and XPath queries.
type Document struct {
	html  string
	title string
	query *goquery.Document
	tree  *html.Node
}

// Element is the read-only view of a node handed to scripts.
type Element struct {
	TagName     string            `json:"tagName"`
	ID          string            `json:"id"`
	ClassName   string            `json:"className"`
	TextContent string            `json:"textContent"`
	Attributes  map[string]string `json:"attributes"`
}

// Parse sanitizes raw with policy and parses the result.
func Parse(raw string, policy *bluemonday.Policy) (*Document, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyHTML
	}
	if len(raw) > MaxHTMLSize {
		return nil, fmt.Errorf("html exceeds maximum size of %d bytes", MaxHTMLSize)
	}
	clean := policy.Sanitize(raw)

	q, err := goquery.NewDocumentFromReader(strings.NewReader(clean))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	tree, err := htmlquery.Parse(strings.NewReader(clean))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{
		html:  clean,
		title: strings.TrimSpace(q.Find("title").First().Text()),
		query: q,
		tree:  tree,
	}, nil
}

// HTML returns the sanitized markup.
func (d *Document) HTML() string { return d.html }

// Title returns the text of the first title element.
func (d *Document) Title() string { return d.title }

// Query returns the trimmed text of the first element matching css.
func (d *Document) Query(css string) (string, bool) {
	sel := d.query.Find(css).First()
	if sel.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(sel.Text()), true
}

// XPath returns the trimmed text of the first node matching expr.
func (d *Document) XPath(expr string) (string, bool, error) {
	node, err := htmlquery.Query(d.tree, expr)
	if err != nil {
		return "", false, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	if node == nil {
		return "", false, nil
	}
	return strings.TrimSpace(htmlquery.InnerText(node)), true, nil
}

// Select returns up to limit elements matching css; limit <= 0 means all.
func (d *Document) Select(css string, limit int) []Element {
	var out []Element
	d.query.Find(css).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = append(out, element(s))
		return limit <= 0 || len(out) < limit
	})
	return out
}

func element(s *goquery.Selection) Element {
	e := Element{
		TextContent: strings.TrimSpace(s.Text()),
		Attributes:  make(map[string]string),
	}
	if n := s.Get(0); n != nil {
		e.TagName = strings.ToUpper(n.Data)
		for _, a := range n.Attr {
			e.Attributes[a.Key] = a.Val
		}
	}
	e.ID = e.Attributes["id"]
	e.ClassName = e.Attributes["class"]
	return e
}
