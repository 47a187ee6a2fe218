package scraper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want float64
		ok   bool
	}{
		{"brl with cents", "R$ 1.234,56", 1234.56, true},
		{"brl no cents", "R$ 1.234", 1234, true},
		{"brl small", "R$ 12,50", 12.5, true},
		{"usd", "US $12.34", 12.34, true},
		{"us thousands", "1,234.56", 1234.56, true},
		{"plain integer", "123", 123, true},
		{"millions brl", "1.234.567,89", 1234567.89, true},
		{"trailing separator", "R$ 45,", 45, true},
		{"empty", "", 0, false},
		{"no digits", "indisponível", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParsePrice(tt.in)
			require.Equal(t, tt.ok, ok)
			require.InDelta(t, tt.want, got, 0.0001)
		})
	}
}

func TestJoinPriceParts(t *testing.T) {
	t.Parallel()

	got, ok := JoinPriceParts("1.234", "56")
	require.True(t, ok)
	require.InDelta(t, 1234.56, got, 0.0001)

	got, ok = JoinPriceParts("89", "")
	require.True(t, ok)
	require.InDelta(t, 89.0, got, 0.0001)

	_, ok = JoinPriceParts("", "99")
	require.False(t, ok)
}
