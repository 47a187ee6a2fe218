// Package aliexpress scrapes promotional offers from AliExpress search pages.
package aliexpress

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

const defaultBaseURL = "https://pt.aliexpress.com"

// Scraper implements offer.Scraper for AliExpress.
type Scraper struct {
	deps    scraper.Deps
	baseURL string
}

// New builds an AliExpress scraper.
func New(deps scraper.Deps) *Scraper {
	return &Scraper{deps: deps, baseURL: defaultBaseURL}
}

// NewWithBaseURL builds an AliExpress scraper against a custom base URL.
func NewWithBaseURL(deps scraper.Deps, baseURL string) *Scraper {
	return &Scraper{deps: deps, baseURL: strings.TrimRight(baseURL, "/")}
}

// Source reports the marketplace this scraper covers.
func (s *Scraper) Source() offer.Source {
	return offer.SourceAliExpress
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
	metrics.ObserveScrape(string(offer.SourceAliExpress), time.Since(start), err)
	if err != nil {
		return offer.ScrapeResult{}, fmt.Errorf("aliexpress scrape %q: %w", req.Query, err)
	}

	s.deps.Snapshots.Write(ctx, offer.SourceAliExpress, req.JobID, page.Body)

	offers, err := Parse(s.baseURL, page.Body)
	if err != nil {
		return offer.ScrapeResult{}, fmt.Errorf("aliexpress parse: %w", err)
	}
	if req.Limit > 0 && len(offers) > req.Limit {
		offers = offers[:req.Limit]
	}
	for i := range offers {
		offers[i].Category = req.Category
		offers[i] = offer.Sanitize(offers[i])
	}

	s.deps.Log().Debug("aliexpress scrape done",
		zap.String("query", req.Query),
		zap.Int("offers", len(offers)))

	return offer.ScrapeResult{
		Source:   offer.SourceAliExpress,
		Offers:   offers,
		PageURL:  pageURL,
		RawHTML:  page.Body,
		Duration: time.Since(start),
	}, nil
}

// Search URLs follow the wholesale-<query>.html convention.
func (s *Scraper) searchURL(req offer.ScrapeRequest) string {
	slug := url.PathEscape(strings.ReplaceAll(strings.TrimSpace(req.Query), " ", "-"))
	u := s.baseURL + "/w/wholesale-" + slug + ".html"
	q := url.Values{}
	q.Set("SearchText", req.Query)
	if req.Category != "" {
		q.Set("catName", req.Category)
	}
	return u + "?" + q.Encode()
}

func searchHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml")
	h.Set("Accept-Language", "pt-BR,pt;q=0.9")
	return h
}

func isBotWall(body []byte) bool {
	return bytes.Contains(body, []byte("/_____tmd_____/punish")) ||
		bytes.Contains(body, []byte("captcha-verify"))
}

// Parse extracts offers from an AliExpress search results page.
func Parse(baseURL string, body []byte) ([]offer.Offer, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]struct{})
	var offers []offer.Offer
	doc.Find(`div.search-item-card-wrapper-gallery, a.search-card-item, div[class*="_1OUGS"]`).
		Each(func(_ int, sel *goquery.Selection) {
			o, ok := parseCard(baseURL, sel)
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

func parseCard(baseURL string, sel *goquery.Selection) (offer.Offer, bool) {
	title := scraper.FirstText(sel, `h3`, `div[class*="titleText"]`, `a[title]`)
	if title == "" {
		title = strings.TrimSpace(sel.AttrOr("title", ""))
	}
	href := cardHref(sel)
	if title == "" || href == "" {
		return offer.Offer{}, false
	}

	current, ok := scraper.ParsePrice(scraper.FirstText(sel,
		`div[class*="price-sale"]`, `span.manhattan--price-sale--1CCSZfK`, `div[class*="priceText"]`))
	if !ok {
		return offer.Offer{}, false
	}
	original, _ := scraper.ParsePrice(scraper.FirstText(sel,
		`div[class*="price-original"]`, `span[class*="price-original"]`, `del`))

	return offer.Offer{
		Title:         title,
		Source:        offer.SourceAliExpress,
		ProductURL:    stripItemTracking(scraper.ResolveURL(baseURL, href)),
		ImageURL:      scraper.FirstAttr(sel, "src", "img"),
		CurrentPrice:  current,
		OriginalPrice: original,
		Currency:      "BRL",
		Active:        true,
	}, true
}

func cardHref(sel *goquery.Selection) string {
	if goquery.NodeName(sel) == "a" {
		return strings.TrimSpace(sel.AttrOr("href", ""))
	}
	return scraper.FirstAttr(sel, "href", "a")
}

// Item URLs carry long tracking queries; the path alone identifies the item.
func stripItemTracking(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if strings.Contains(u.Path, "/item/") {
		u.RawQuery = ""
		u.Fragment = ""
	}
	return u.String()
}
