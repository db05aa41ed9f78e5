package papers

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
)

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
		Type string `xml:"type,attr"`
	} `xml:"link"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

// ParseFeed decodes an arXiv Atom feed. Entries without an id or title are
// dropped; arXiv reports query errors as such an entry.
func ParseFeed(data []byte) ([]models.Paper, error) {
	var feed atomFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("parse atom feed: %w", err)
	}
	var out []models.Paper
	for _, e := range feed.Entries {
		title := collapse(e.Title)
		if e.ID == "" || title == "" || title == "Error" {
			continue
		}
		p := models.Paper{
			ID:       arxivID(e.ID),
			Title:    title,
			Abstract: collapse(e.Summary),
			URL:      strings.TrimSpace(e.ID),
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
			p.Published = t
		}
		for _, a := range e.Authors {
			if n := collapse(a.Name); n != "" {
				p.Authors = append(p.Authors, n)
			}
		}
		for _, l := range e.Links {
			if l.Rel == "alternate" && l.Href != "" {
				p.URL = l.Href
			}
		}
		for _, c := range e.Categories {
			if c.Term != "" {
				p.Categories = append(p.Categories, c.Term)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func arxivID(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "/abs/"); i >= 0 {
		return raw[i+len("/abs/"):]
	}
	return raw
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
