package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxelpromo/voxelpromo/internal/metrics"
)

func TestFetcherFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "promo-bot/1.0", r.UserAgent())
		require.Equal(t, "pt-BR", r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := NewFetcher(FetchConfig{UserAgent: "promo-bot/1.0", Timeout: 5 * time.Second})
	headers := http.Header{}
	headers.Set("Accept-Language", "pt-BR")

	page, err := f.Fetch(context.Background(), srv.URL, headers)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Contains(t, string(page.Body), "ok")
	require.NotZero(t, page.Duration)
}

func TestFetcherFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFetcher(FetchConfig{})
	_, err := f.Fetch(context.Background(), srv.URL, nil)
	require.Error(t, err)
}

func TestLimiterWait(t *testing.T) {
	metrics.Init()

	l := NewLimiter(LimiterConfig{DefaultRPS: 1000, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://www.amazon.com.br/s?k=tv"))
	require.NoError(t, l.Wait(ctx, "https://shopee.com.br/search"))

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	// Burst consumed above, a canceled context must surface as an error.
	err := l.Wait(canceled, "https://www.amazon.com.br/s?k=tv")
	require.Error(t, err)
}
