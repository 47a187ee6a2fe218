// Package shopee scrapes promotional offers from Shopee Brazil search pages.
package shopee

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

const defaultBaseURL = "https://shopee.com.br"

// Scraper implements offer.Scraper for Shopee Brazil.
type Scraper struct {
	deps    scraper.Deps
	baseURL string
}

// New builds a Shopee scraper.
func New(deps scraper.Deps) *Scraper {
	return &Scraper{deps: deps, baseURL: defaultBaseURL}
}

// NewWithBaseURL builds a Shopee scraper against a custom base URL.
func NewWithBaseURL(deps scraper.Deps, baseURL string) *Scraper {
	return &Scraper{deps: deps, baseURL: strings.TrimRight(baseURL, "/")}
}

// Source reports the marketplace this scraper covers.
func (s *Scraper) Source() offer.Source {
	return offer.SourceShopee
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
	metrics.ObserveScrape(string(offer.SourceShopee), time.Since(start), err)
	if err != nil {
		return offer.ScrapeResult{}, fmt.Errorf("shopee scrape %q: %w", req.Query, err)
	}

	s.deps.Snapshots.Write(ctx, offer.SourceShopee, req.JobID, page.Body)

	offers, err := Parse(s.baseURL, page.Body)
	if err != nil {
		return offer.ScrapeResult{}, fmt.Errorf("shopee parse: %w", err)
	}
	if req.Limit > 0 && len(offers) > req.Limit {
		offers = offers[:req.Limit]
	}
	for i := range offers {
		offers[i].Category = req.Category
		offers[i] = offer.Sanitize(offers[i])
	}

	s.deps.Log().Debug("shopee scrape done",
		zap.String("query", req.Query),
		zap.Int("offers", len(offers)))

	return offer.ScrapeResult{
		Source:   offer.SourceShopee,
		Offers:   offers,
		PageURL:  pageURL,
		RawHTML:  page.Body,
		Duration: time.Since(start),
	}, nil
}

func (s *Scraper) searchURL(req offer.ScrapeRequest) string {
	q := url.Values{}
	q.Set("keyword", req.Query)
	if req.Category != "" {
		q.Set("category", req.Category)
	}
	return s.baseURL + "/search?" + q.Encode()
}

func searchHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml")
	h.Set("Accept-Language", "pt-BR,pt;q=0.9")
	return h
}

func isBotWall(body []byte) bool {
	return bytes.Contains(body, []byte("verify/traffic")) ||
		bytes.Contains(body, []byte("anti_fraud"))
}

// Parse extracts offers from a Shopee search results page.
func Parse(baseURL string, body []byte) ([]offer.Offer, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]struct{})
	var offers []offer.Offer
	doc.Find(`div[data-sqe="item"], li.shopee-search-item-result__item`).
		Each(func(_ int, sel *goquery.Selection) {
			o, ok := parseItem(baseURL, sel)
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

func parseItem(baseURL string, sel *goquery.Selection) (offer.Offer, bool) {
	title := scraper.FirstText(sel,
		`div[data-sqe="name"]`, `div[class*="item-name"]`)
	href := scraper.FirstAttr(sel, "href", "a")
	if title == "" || href == "" {
		return offer.Offer{}, false
	}

	current, ok := scraper.ParsePrice(scraper.FirstText(sel,
		`span[class*="price"]`, `div[class*="price"]`))
	if !ok {
		return offer.Offer{}, false
	}
	original, _ := scraper.ParsePrice(scraper.FirstText(sel,
		`div[class*="price-before-discount"]`, `del`))

	return offer.Offer{
		Title:         title,
		Source:        offer.SourceShopee,
		ProductURL:    scraper.ResolveURL(baseURL, href),
		ImageURL:      scraper.FirstAttr(sel, "src", "img"),
		CurrentPrice:  current,
		OriginalPrice: original,
		Currency:      "BRL",
		Active:        true,
	}, true
}
