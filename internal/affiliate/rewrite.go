// Package affiliate rewrites marketplace product URLs into
// affiliate-tracked URLs for commission attribution.
package affiliate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// Config holds the per-marketplace tracking identifiers.
type Config struct {
	AmazonTag        string `mapstructure:"amazon_tag"`
	MercadoLivreWord string `mapstructure:"mercadolivre_word"`
	MercadoLivreTool string `mapstructure:"mercadolivre_tool"`
	ShopeeAffID      string `mapstructure:"shopee_aff_id"`
	AliExpressAffID  string `mapstructure:"aliexpress_aff_id"`
}

// Rewriter rewrites product URLs per marketplace.
type Rewriter struct {
	cfg Config
}

// NewRewriter builds a Rewriter.
func NewRewriter(cfg Config) *Rewriter {
	return &Rewriter{cfg: cfg}
}

var asinPattern = regexp.MustCompile(`(?:/dp/|/gp/product/|/gp/aw/d/)([A-Z0-9]{10})(?:[/?]|$)`)

// ExtractASIN pulls the ASIN out of any Amazon URL shape.
func ExtractASIN(rawURL string) (string, bool) {
	m := asinPattern.FindStringSubmatch(rawURL)
	if len(m) != 2 {
		return "", false
	}
	return m[1], true
}

// Rewrite returns the affiliate-tracked form of a product URL.
func (r *Rewriter) Rewrite(source offer.Source, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse product url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	switch source {
	case offer.SourceAmazon:
		return r.rewriteAmazon(u)
	case offer.SourceMercadoLivre:
		return r.rewriteQuery(u, map[string]string{
			"matt_word": r.cfg.MercadoLivreWord,
			"matt_tool": r.cfg.MercadoLivreTool,
		})
	case offer.SourceShopee:
		return r.rewriteQuery(u, map[string]string{"af_id": r.cfg.ShopeeAffID})
	case offer.SourceAliExpress:
		return r.rewriteQuery(u, map[string]string{"aff_fcid": r.cfg.AliExpressAffID})
	default:
		return "", fmt.Errorf("unknown source %q", source)
	}
}

// rewriteAmazon collapses the URL to the canonical /dp/ASIN form and
// replaces any prior tracking with the configured tag.
func (r *Rewriter) rewriteAmazon(u *url.URL) (string, error) {
	asin, ok := ExtractASIN(u.Path)
	if !ok {
		return "", fmt.Errorf("no ASIN in %q", u.String())
	}
	clean := &url.URL{
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   "/dp/" + asin,
	}
	if r.cfg.AmazonTag != "" {
		q := url.Values{}
		q.Set("tag", r.cfg.AmazonTag)
		clean.RawQuery = q.Encode()
	}
	return clean.String(), nil
}

func (r *Rewriter) rewriteQuery(u *url.URL, params map[string]string) (string, error) {
	q := stripTracking(u.Query())
	for key, value := range params {
		if value == "" {
			continue
		}
		q.Set(key, value)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// stripTracking drops generic campaign params so our identifiers are the
// only tracking left on the link.
func stripTracking(q url.Values) url.Values {
	out := url.Values{}
	for key, values := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") || lower == "tag" || lower == "ref" || strings.HasPrefix(lower, "ref_") {
			continue
		}
		out[key] = values
	}
	return out
}
