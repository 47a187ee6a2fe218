package shopee

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxelpromo/voxelpromo/internal/metrics"
	"github.com/voxelpromo/voxelpromo/internal/offer"
	"github.com/voxelpromo/voxelpromo/internal/scraper"
)

const searchPage = `<html><body><ul>
<div data-sqe="item">
  <a href="/Caixa-de-Som-Bluetooth-i.353415.22890164">
    <img src="https://cf.shopee.com.br/file/caixa.jpg"/>
    <div data-sqe="name">Caixa de Som Bluetooth</div>
    <span class="price">R$ 75,90</span>
    <div class="price-before-discount">R$ 151,80</div>
  </a>
</div>
<li class="shopee-search-item-result__item">
  <a href="/Smartwatch-D20-i.99021.443312">
    <div class="item-name">Smartwatch D20</div>
    <span class="price">R$ 39,99</span>
  </a>
</li>
<div data-sqe="item">
  <a href="/Sem-Preco-i.1.2"><div data-sqe="name">Sem preço</div></a>
</div>
</ul></body></html>`

func TestParse(t *testing.T) {
	t.Parallel()

	offers, err := Parse("https://shopee.com.br", []byte(searchPage))
	require.NoError(t, err)
	require.Len(t, offers, 2)

	first := offers[0]
	require.Equal(t, "Caixa de Som Bluetooth", first.Title)
	require.Equal(t, offer.SourceShopee, first.Source)
	require.Equal(t, "https://shopee.com.br/Caixa-de-Som-Bluetooth-i.353415.22890164", first.ProductURL)
	require.InDelta(t, 75.90, first.CurrentPrice, 0.001)
	require.InDelta(t, 151.80, first.OriginalPrice, 0.001)

	second := offers[1]
	require.Equal(t, "Smartwatch D20", second.Title)
	require.InDelta(t, 39.99, second.CurrentPrice, 0.001)
	require.Zero(t, second.OriginalPrice)
}

func TestScrapeLimit(t *testing.T) {
	metrics.Init()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "caixa de som", r.URL.Query().Get("keyword"))
		_, _ = w.Write([]byte(searchPage))
	}))
	defer srv.Close()

	deps := scraper.Deps{
		Fetcher: scraper.NewFetcher(scraper.FetchConfig{Timeout: 5 * time.Second}),
		Retry:   offer.NewExponentialRetryPolicy(),
	}
	s := NewWithBaseURL(deps, srv.URL)
	require.Equal(t, offer.SourceShopee, s.Source())

	result, err := s.Scrape(context.Background(), offer.ScrapeRequest{Query: "caixa de som", Limit: 1})
	require.NoError(t, err)
	require.Len(t, result.Offers, 1)
	require.Equal(t, "Caixa de Som Bluetooth", result.Offers[0].Title)
}
