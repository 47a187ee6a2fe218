// Package amazon scrapes promotional offers from Amazon Brazil search pages.
package amazon

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/voxelpromo/voxelpromo/internal/metrics"
	"github.com/voxelpromo/voxelpromo/internal/offer"
	"github.com/voxelpromo/voxelpromo/internal/scraper"
)

const defaultBaseURL = "https://www.amazon.com.br"

// Scraper implements offer.Scraper for Amazon Brazil.
type Scraper struct {
	deps    scraper.Deps
	baseURL string
}

// New builds an Amazon scraper.
func New(deps scraper.Deps) *Scraper {
	return &Scraper{deps: deps, baseURL: defaultBaseURL}
}

// NewWithBaseURL builds an Amazon scraper against a custom base URL.
func NewWithBaseURL(deps scraper.Deps, baseURL string) *Scraper {
	return &Scraper{deps: deps, baseURL: strings.TrimRight(baseURL, "/")}
}

// Source reports the marketplace this scraper covers.
func (s *Scraper) Source() offer.Source {
	return offer.SourceAmazon
}

// Scrape fetches one search results page and extracts offers.
func (s *Scraper) Scrape(ctx context.Context, req offer.ScrapeRequest) (offer.ScrapeResult, error) {
	start := time.Now()
	pageURL := s.searchURL(req)

	if s.deps.Limiter != nil {
		if err := s.deps.Limiter.Wait(ctx, pageURL); err != nil {
			return offer.ScrapeResult{}, err
		}
	}

	var page scraper.Page
	err := offer.Retry(ctx, s.deps.Retry, func() error {
		p, fetchErr := s.deps.Fetcher.Fetch(ctx, pageURL, searchHeaders())
		if fetchErr != nil {
			return fetchErr
		}
		if isBotWall(p.Body) {
			return scraper.ErrBotWall
		}
		page = p
		return nil
	})
	metrics.ObserveScrape(string(offer.SourceAmazon), time.Since(start), err)
	if err != nil {
		return offer.ScrapeResult{}, fmt.Errorf("amazon scrape %q: %w", req.Query, err)
	}

	s.deps.Snapshots.Write(ctx, offer.SourceAmazon, req.JobID, page.Body)

	offers, err := Parse(s.baseURL, page.Body)
	if err != nil {
		return offer.ScrapeResult{}, fmt.Errorf("amazon parse: %w", err)
	}
	if req.Limit > 0 && len(offers) > req.Limit {
		offers = offers[:req.Limit]
	}
	for i := range offers {
		offers[i].Category = req.Category
		offers[i] = offer.Sanitize(offers[i])
	}

	s.deps.Log().Debug("amazon scrape done",
		zap.String("query", req.Query),
		zap.Int("offers", len(offers)))

	return offer.ScrapeResult{
		Source:   offer.SourceAmazon,
		Offers:   offers,
		PageURL:  pageURL,
		RawHTML:  page.Body,
		Duration: time.Since(start),
	}, nil
}

func (s *Scraper) searchURL(req offer.ScrapeRequest) string {
	q := url.Values{}
	q.Set("k", req.Query)
	if req.Category != "" {
		q.Set("i", req.Category)
	}
	return s.baseURL + "/s?" + q.Encode()
}

func searchHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml")
	h.Set("Accept-Language", "pt-BR,pt;q=0.9")
	return h
}

func isBotWall(body []byte) bool {
	return bytes.Contains(body, []byte("api-services-support@amazon.com")) ||
		bytes.Contains(body, []byte("Robot Check"))
}

// Parse extracts offers from an Amazon search results page. Relative product
// links are resolved against baseURL.
func Parse(baseURL string, body []byte) ([]offer.Offer, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]struct{})
	var offers []offer.Offer
	doc.Find(`div[data-component-type="s-search-result"]`).Each(func(_ int, sel *goquery.Selection) {
		o, ok := parseResult(baseURL, sel)
		if !ok {
			return
		}
		if _, dup := seen[o.ProductURL]; dup {
			return
		}
		seen[o.ProductURL] = struct{}{}
		offers = append(offers, o)
	})
	return offers, nil
}

func parseResult(baseURL string, sel *goquery.Selection) (offer.Offer, bool) {
	title := scraper.FirstText(sel, "h2 a span", "h2 span", "span.a-text-normal")
	href := scraper.FirstAttr(sel, "href", "h2 a", "a.a-link-normal.s-no-outline", "a.a-link-normal")
	if title == "" || href == "" {
		return offer.Offer{}, false
	}

	current, ok := resultPrice(sel)
	if !ok {
		return offer.Offer{}, false
	}
	original, _ := scraper.ParsePrice(sel.Find("span.a-price.a-text-price span.a-offscreen").First().Text())

	return offer.Offer{
		Title:         title,
		Source:        offer.SourceAmazon,
		ProductURL:    scraper.ResolveURL(baseURL, href),
		ImageURL:      scraper.FirstAttr(sel, "src", "img.s-image"),
		CurrentPrice:  current,
		OriginalPrice: original,
		Currency:      "BRL",
		Active:        true,
	}, true
}

func resultPrice(sel *goquery.Selection) (float64, bool) {
	if v, ok := scraper.ParsePrice(sel.Find(`span.a-price:not(.a-text-price) span.a-offscreen`).First().Text()); ok {
		return v, true
	}
	return scraper.JoinPriceParts(
		sel.Find("span.a-price-whole").First().Text(),
		sel.Find("span.a-price-fraction").First().Text(),
	)
}
