package scraper

import (
	"strconv"
	"strings"
)

// ParsePrice extracts a numeric price from marketplace display text such as
// "R$ 1.234,56", "US $12.34" or "1,234.56". The separator closest to the end
// is taken as the decimal mark; a lone separator followed by exactly three
// digits is treated as a thousands group.
func ParsePrice(raw string) (float64, bool) {
	clean := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '.' || r == ',' {
			return r
		}
		return -1
	}, raw)
	clean = strings.Trim(clean, ".,")
	if clean == "" {
		return 0, false
	}

	lastDot := strings.LastIndexByte(clean, '.')
	lastComma := strings.LastIndexByte(clean, ',')
	sep := lastDot
	other := lastComma
	if lastComma > lastDot {
		sep, other = lastComma, lastDot
	}

	intPart := clean
	fracPart := ""
	if sep >= 0 {
		intPart, fracPart = clean[:sep], clean[sep+1:]
		if len(fracPart) == 3 && other < 0 {
			intPart += fracPart
			fracPart = ""
		}
	}

	digits := func(s string) string {
		return strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, s)
	}
	intPart = digits(intPart)
	fracPart = digits(fracPart)
	if intPart == "" && fracPart == "" {
		return 0, false
	}
	if intPart == "" {
		intPart = "0"
	}

	value, err := strconv.ParseFloat(intPart+"."+fracPart, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// JoinPriceParts combines a whole and fraction component, as shown by
// marketplaces that render them in separate elements.
func JoinPriceParts(whole, fraction string) (float64, bool) {
	whole = strings.TrimSpace(whole)
	fraction = strings.TrimSpace(fraction)
	if whole == "" {
		return 0, false
	}
	if fraction == "" {
		return ParsePrice(whole)
	}
	return ParsePrice(whole + "," + fraction)
}
