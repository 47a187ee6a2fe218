// Package mercadolivre scrapes promotional offers from Mercado Livre
// search pages via a headless browser.
package mercadolivre

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/voxelpromo/voxelpromo/internal/metrics"
	"github.com/voxelpromo/voxelpromo/internal/offer"
	"github.com/voxelpromo/voxelpromo/internal/scraper"
)

const defaultBaseURL = "https://lista.mercadolivre.com.br"

// Scraper implements offer.Scraper for Mercado Livre.
type Scraper struct {
	deps     scraper.Deps
	renderer Renderer
	baseURL  string
}

// New builds a Mercado Livre scraper on top of a Renderer.
func New(deps scraper.Deps, renderer Renderer) *Scraper {
	return &Scraper{deps: deps, renderer: renderer, baseURL: defaultBaseURL}
}

// NewWithBaseURL builds a Mercado Livre scraper against a custom base URL.
func NewWithBaseURL(deps scraper.Deps, renderer Renderer, baseURL string) *Scraper {
	return &Scraper{deps: deps, renderer: renderer, baseURL: strings.TrimRight(baseURL, "/")}
}

// Source reports the marketplace this scraper covers.
func (s *Scraper) Source() offer.Source {
	return offer.SourceMercadoLivre
}

// Scrape renders one search results page and extracts offers.
func (s *Scraper) Scrape(ctx context.Context, req offer.ScrapeRequest) (offer.ScrapeResult, error) {
	start := time.Now()
	pageURL := s.searchURL(req)

	if s.deps.Limiter != nil {
		if err := s.deps.Limiter.Wait(ctx, pageURL); err != nil {
			return offer.ScrapeResult{}, err
		}
	}

	var body []byte
	err := offer.Retry(ctx, s.deps.Retry, func() error {
		rendered, renderErr := s.renderer.Render(ctx, pageURL)
		if renderErr != nil {
			return renderErr
		}
		if isBotWall(rendered) {
			return scraper.ErrBotWall
		}
		body = rendered
		return nil
	})
	metrics.ObserveScrape(string(offer.SourceMercadoLivre), time.Since(start), err)
	if err != nil {
		return offer.ScrapeResult{}, fmt.Errorf("mercadolivre scrape %q: %w", req.Query, err)
	}

	s.deps.Snapshots.Write(ctx, offer.SourceMercadoLivre, req.JobID, body)

	offers, err := Parse(body)
	if err != nil {
		return offer.ScrapeResult{}, fmt.Errorf("mercadolivre parse: %w", err)
	}
	if req.Limit > 0 && len(offers) > req.Limit {
		offers = offers[:req.Limit]
	}
	for i := range offers {
		offers[i].Category = req.Category
		offers[i] = offer.Sanitize(offers[i])
	}

	s.deps.Log().Debug("mercadolivre scrape done",
		zap.String("query", req.Query),
		zap.Int("offers", len(offers)))

	return offer.ScrapeResult{
		Source:   offer.SourceMercadoLivre,
		Offers:   offers,
		PageURL:  pageURL,
		RawHTML:  body,
		Duration: time.Since(start),
	}, nil
}

// Search URLs are path-based: lista.mercadolivre.com.br/<query-slug>.
func (s *Scraper) searchURL(req offer.ScrapeRequest) string {
	slug := strings.ReplaceAll(strings.TrimSpace(req.Query), " ", "-")
	return s.baseURL + "/" + url.PathEscape(slug)
}

func isBotWall(body []byte) bool {
	return bytes.Contains(body, []byte("account-verification")) ||
		bytes.Contains(body, []byte("Pareces um robô")) ||
		bytes.Contains(body, []byte("px-captcha"))
}

// Parse extracts offers from a rendered Mercado Livre search page.
func Parse(body []byte) ([]offer.Offer, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]struct{})
	var offers []offer.Offer
	doc.Find(`li.ui-search-layout__item, div.ui-search-result__wrapper`).
		Each(func(_ int, sel *goquery.Selection) {
			o, ok := parseItem(sel)
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

func parseItem(sel *goquery.Selection) (offer.Offer, bool) {
	title := scraper.FirstText(sel,
		"h2.ui-search-item__title", "a.poly-component__title", "h2")
	href := scraper.FirstAttr(sel, "href",
		"a.poly-component__title", "a.ui-search-link", "a")
	if title == "" || href == "" {
		return offer.Offer{}, false
	}

	current, ok := amountIn(sel,
		"div.poly-price__current", "span.andes-money-amount--cents-superscript")
	if !ok {
		return offer.Offer{}, false
	}
	original, _ := amountIn(sel,
		"s.andes-money-amount--previous", "span.ui-search-price__original-value")

	return offer.Offer{
		Title:         title,
		Source:        offer.SourceMercadoLivre,
		ProductURL:    stripTracking(href),
		ImageURL:      imageURL(sel),
		CurrentPrice:  current,
		OriginalPrice: original,
		Currency:      "BRL",
		Active:        true,
	}, true
}

// Prices are split into fraction and cents elements.
func amountIn(sel *goquery.Selection, containers ...string) (float64, bool) {
	for _, c := range containers {
		node := sel.Find(c).First()
		if node.Length() == 0 {
			continue
		}
		whole := node.Find("span.andes-money-amount__fraction").First().Text()
		cents := node.Find("span.andes-money-amount__cents").First().Text()
		if v, ok := scraper.JoinPriceParts(whole, cents); ok {
			return v, true
		}
		if v, ok := scraper.ParsePrice(node.Text()); ok {
			return v, true
		}
	}
	return 0, false
}

func imageURL(sel *goquery.Selection) string {
	// Lazy-loaded images keep the real URL in data-src.
	if v := scraper.FirstAttr(sel, "data-src", "img"); v != "" {
		return v
	}
	return scraper.FirstAttr(sel, "src", "img")
}

// Listing hrefs append tracking both as query and as a #polycard fragment.
func stripTracking(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
