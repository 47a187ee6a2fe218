package offer

import (
	"math"
	"strings"
)

// Sanitize normalizes pricing fields on a scraped offer. Scrapers hand
// back whatever the page said, which routinely includes NaN prices,
// original prices below the sale price, and discounts outside [0,100].
func Sanitize(o Offer) Offer {
	o.Title = strings.TrimSpace(o.Title)
	o.CurrentPrice = clampPrice(o.CurrentPrice)
	o.OriginalPrice = clampPrice(o.OriginalPrice)

	if o.OriginalPrice < o.CurrentPrice {
		o.OriginalPrice = o.CurrentPrice
	}

	if !validPct(o.DiscountPct) {
		o.DiscountPct = 0
	}
	if o.DiscountPct == 0 && o.OriginalPrice > 0 && o.OriginalPrice > o.CurrentPrice {
		o.DiscountPct = math.Round((1-o.CurrentPrice/o.OriginalPrice)*100*100) / 100
	}
	return o
}

// Valid reports whether an offer is complete enough to persist.
func (o Offer) Valid() bool {
	if o.Title == "" || o.ProductURL == "" {
		return false
	}
	if o.Source == "" {
		return false
	}
	return o.CurrentPrice > 0
}

func clampPrice(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func validPct(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= 0 && v <= 100
}
