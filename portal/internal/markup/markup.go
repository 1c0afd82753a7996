// Package markup reads portal pages as HTML: the auth-relevant features of a
// document and the rows of the grade tables. Everything here works on
// serialized markup so it can be exercised with fixtures, without a browser.
package markup

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DuplicateLoginText is shown by the portal when another session is active
// for the same account.
const DuplicateLoginText = "当前用户存在重复登录的情况"

// ContinueLinkText labels the link that dismisses the duplicate-login page.
const ContinueLinkText = "点击此处"

// ErrNoTable is returned when the requested table is not in the document.
var ErrNoTable = errors.New("markup: table not found")

// Features are the signals the login flow reads from a page.
type Features struct {
	AntiBotMarker    bool
	BlankDocument    bool
	DuplicateWarning bool
	ContinueLink     bool
	Title            string
}

// Challenged reports whether the page still looks like an anti-bot
// interstitial.
func (f Features) Challenged() bool {
	return f.AntiBotMarker || f.BlankDocument
}

// Inspect parses a serialized document and extracts its Features.
// An empty or unparsable document counts as blank.
func Inspect(doc string) Features {
	if strings.TrimSpace(doc) == "" {
		return Features{BlankDocument: true}
	}
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return Features{BlankDocument: true}
	}

	var f Features
	f.AntiBotMarker = d.Find(`meta[r='m'], script[r='m']`).Length() > 0
	f.Title = strings.TrimSpace(d.Find("title").First().Text())

	body := d.Find("body").First()
	f.BlankDocument = body.Length() == 0 ||
		(body.Children().Length() == 0 && strings.TrimSpace(body.Text()) == "")

	f.DuplicateWarning = strings.Contains(body.Text(), DuplicateLoginText)
	body.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.Contains(a.Text(), ContinueLinkText) {
			f.ContinueLink = true
			return false
		}
		return true
	})
	return f
}

// Rows returns the cell texts of every body row of the first table in
// tableHTML. Rows with fewer than minCells cells are skipped; when take is
// positive only the first take cells of a row are kept.
func Rows(tableHTML string, minCells, take int) ([][]string, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(tableHTML))
	if err != nil {
		return nil, err
	}
	table := d.Find("table").First()
	if table.Length() == 0 {
		return nil, ErrNoTable
	}

	var rows [][]string
	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		// Nested tables belong to their own rows.
		if tr.ParentsFiltered("table").First().Get(0) != table.Get(0) {
			return
		}
		cells := tr.ChildrenFiltered("td")
		if cells.Length() < minCells {
			return
		}
		row := make([]string, 0, cells.Length())
		cells.EachWithBreak(func(i int, td *goquery.Selection) bool {
			if take > 0 && i >= take {
				return false
			}
			row = append(row, CellText(td.Get(0)))
			return true
		})
		rows = append(rows, row)
	})
	return rows, nil
}

// Option is one <option> of a <select>.
type Option struct {
	Value string
	Text  string
}

// SelectOptions returns the options of the first element matching selector,
// in document order. Options with an empty value are dropped.
func SelectOptions(doc, selector string) ([]Option, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}
	sel := d.Find(selector).First()
	if sel.Length() == 0 {
		return nil, nil
	}
	var out []Option
	sel.Find("option").Each(func(_ int, o *goquery.Selection) {
		v, ok := o.Attr("value")
		if !ok {
			v = o.Text()
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		out = append(out, Option{Value: v, Text: strings.TrimSpace(o.Text())})
	})
	return out, nil
}

// CellText renders a node roughly the way a browser's innerText would for a
// table cell: runs of whitespace collapse to one space, <br> and block
// children start a new line, and the result is trimmed.
func CellText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	writeText(n, &b)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func writeText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == '\t' {
				return ' '
			}
			return r
		}, n.Data))
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript":
			return
		case "br":
			b.WriteByte('\n')
			return
		}
	}
	block := n.Type == html.ElementNode && isBlock(n.Data)
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(c, b)
	}
	if block {
		b.WriteByte('\n')
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "div", "p", "li", "ul", "ol", "table", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}
