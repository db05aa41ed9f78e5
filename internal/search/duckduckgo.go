package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

const (
	defaultDuckDuckGoEndpoint = "https://html.duckduckgo.com/html/"
	browserUserAgent          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// DuckDuckGo scrapes the DuckDuckGo HTML interface. It needs no key and
// serves as the fallback when Tavily is unavailable.
type DuckDuckGo struct {
	endpoint   string
	maxResults int
	http       *circuitbreaker.HTTPWrapper
	spacer     *ratecontrol.Spacer
}

// NewDuckDuckGo builds a scraper. spacer may be nil.
func NewDuckDuckGo(endpoint string, maxResults int, client *circuitbreaker.HTTPWrapper, spacer *ratecontrol.Spacer) *DuckDuckGo {
	if endpoint == "" {
		endpoint = defaultDuckDuckGoEndpoint
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &DuckDuckGo{endpoint: endpoint, maxResults: maxResults, http: client, spacer: spacer}
}

func (d *DuckDuckGo) Search(ctx context.Context, query string) (models.WebResult, error) {
	if strings.TrimSpace(query) == "" {
		return models.WebResult{}, fmt.Errorf("duckduckgo: query is empty")
	}
	if d.spacer != nil {
		if err := d.spacer.Wait(ctx); err != nil {
			return models.WebResult{}, err
		}
	}

	form := url.Values{}
	form.Set("q", query)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, d.endpoint)
	defer span.End()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return models.WebResult{}, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.http.Do(req)
	if err != nil {
		return models.WebResult{}, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.WebResult{}, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return models.WebResult{}, fmt.Errorf("duckduckgo parse: %w", err)
	}
	return render("", parseResults(doc, d.maxResults), d.maxResults), nil
}

func parseResults(doc *goquery.Document, max int) []hit {
	var hits []hit
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		target := resolveRedirect(href)
		if target == "" {
			return true
		}
		hits = append(hits, hit{
			title:   strings.TrimSpace(link.Text()),
			url:     target,
			snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
		return len(hits) < max
	})
	return hits
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
