package quotes

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const DefaultScrapeURL = "https://finance.yahoo.com/quote/{symbol}"

// Scrape is the last-resort provider. It reads the price out of a public quote
// page that tags values with data-field attributes.
type Scrape struct {
	urlTemplate string
	client      *httpClient
}

func NewScrape(urlTemplate string, opts ...Option) *Scrape {
	if strings.TrimSpace(urlTemplate) == "" {
		urlTemplate = DefaultScrapeURL
	}
	return &Scrape{
		urlTemplate: urlTemplate,
		client:      newHTTPClient("scrape", "", opts...),
	}
}

func (s *Scrape) Name() string {
	return "scrape"
}

func (s *Scrape) Fetch(ctx context.Context, symbol string) (Quote, error) {
	target := strings.ReplaceAll(s.urlTemplate, "{symbol}", url.PathEscape(symbol))
	resp, err := s.client.get(ctx, target, nil)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("scrape parse: %w", err)
	}
	price, ok := fieldValue(doc, symbol, "regularMarketPrice")
	if !ok || price <= 0 {
		return Quote{}, ErrNotFound
	}
	q := Quote{Symbol: symbol, CurrentPrice: price}
	if v, ok := fieldValue(doc, symbol, "regularMarketPreviousClose"); ok {
		q.PreviousClose = positive(v)
	}
	if v, ok := fieldValue(doc, symbol, "regularMarketChange"); ok {
		q.Change = &v
	}
	if v, ok := fieldValue(doc, symbol, "regularMarketChangePercent"); ok {
		q.ChangePercent = &v
	}
	return q, nil
}

// fieldValue prefers an element scoped to the symbol, then any element with
// the field. The value attribute wins over the text content.
func fieldValue(doc *goquery.Document, symbol, field string) (float64, bool) {
	selectors := []string{
		fmt.Sprintf(`[data-field=%q][data-symbol=%q]`, field, symbol),
		fmt.Sprintf(`[data-field=%q]`, field),
	}
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if raw, ok := node.Attr("value"); ok {
			if v, ok := parseNumber(raw); ok {
				return v, true
			}
		}
		text := strings.Trim(strings.TrimSpace(node.Text()), "()%+")
		if v, ok := parseNumber(text); ok {
			return v, true
		}
	}
	return 0, false
}
