// Package table acquires the raw configuration grid, either from a local CSV
// file or from the first <table> of a fetched HTML page. Both sources yield
// the same shape: an ordered slice of rows of text cells.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/net/html"
)

// Source produces a grid of text cells.
type Source interface {
	Read() ([][]string, error)
}

// CSVSource reads the grid from a delimited file.
type CSVSource struct {
	Path string
}

func (s CSVSource) Read() ([][]string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // ragged rows are fine, the decoder bounds-checks
	grid, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	return grid, nil
}

// WebSource fetches an HTML page and reads the grid from the body rows of
// the first table found on it.
type WebSource struct {
	URL    string
	Client *http.Client
}

func (s WebSource) Read() ([][]string, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(s.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch table: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch table %s: status %d", s.URL, resp.StatusCode)
	}
	return ParseHTML(resp.Body)
}

// ParseHTML extracts the cell grid from the first <table> in the document.
func ParseHTML(r io.Reader) ([][]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	table := findElement(doc, "table")
	if table == nil {
		return nil, fmt.Errorf("no table found in document")
	}
	body := table
	if tbody := findElement(table, "tbody"); tbody != nil {
		body = tbody
	}

	var grid [][]string
	for tr := range elements(body, "tr") {
		var row []string
		for td := range elements(tr, "td") {
			row = append(row, cellText(td))
		}
		if len(row) > 0 {
			grid = append(grid, row)
		}
	}
	return grid, nil
}

// findElement returns the first element with the given tag in document
// order, or nil.
func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// elements yields every descendant element with the given tag, in document
// order.
func elements(n *html.Node, tag string) func(yield func(*html.Node) bool) {
	return func(yield func(*html.Node) bool) {
		var walk func(*html.Node) bool
		walk = func(n *html.Node) bool {
			if n.Type == html.ElementNode && n.Data == tag {
				return yield(n)
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if !walk(c) {
					return false
				}
			}
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return
			}
		}
	}
}

// cellText concatenates the text content of a cell. Literal backslash
// escapes in the sheet ("\r", "\n") are converted to the real characters so
// multi-line control values survive the HTML round trip.
func cellText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	text := sb.String()
	text = strings.ReplaceAll(text, `\r`, "\r")
	text = strings.ReplaceAll(text, `\n`, "\n")
	return text
}
