package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxelpromo/voxelpromo/internal/affiliate"
	"github.com/voxelpromo/voxelpromo/internal/channel"
	systemclock "github.com/voxelpromo/voxelpromo/internal/clock/system"
	"github.com/voxelpromo/voxelpromo/internal/copywriter"
	sha256hash "github.com/voxelpromo/voxelpromo/internal/hash/sha256"
	uuidgen "github.com/voxelpromo/voxelpromo/internal/id/uuid"
	"github.com/voxelpromo/voxelpromo/internal/linkcheck"
	"github.com/voxelpromo/voxelpromo/internal/metrics"
	"github.com/voxelpromo/voxelpromo/internal/offer"
	memorypub "github.com/voxelpromo/voxelpromo/internal/publisher/memory"
	"github.com/voxelpromo/voxelpromo/internal/service"
	"github.com/voxelpromo/voxelpromo/internal/shortlink"
	memorystore "github.com/voxelpromo/voxelpromo/internal/storage/memory"
)

type fakeDispatcher struct {
	submitted []offer.JobParameters
	job       offer.CollectJob
	jobErr    error
}

func (f *fakeDispatcher) Submit(_ context.Context, params offer.JobParameters) (offer.CollectJob, error) {
	f.submitted = append(f.submitted, params)
	job := f.job
	job.Parameters = params
	return job, nil
}

func (f *fakeDispatcher) Job(context.Context, string) (offer.CollectJob, error) {
	if f.jobErr != nil {
		return offer.CollectJob{}, f.jobErr
	}
	return f.job, nil
}

type apiEnv struct {
	store      *memorystore.OfferStore
	templates  *memorystore.TemplateStore
	history    *memorystore.HistoryStore
	seclog     *memorystore.SecurityLog
	telegram   *channel.Memory
	dispatcher *fakeDispatcher
	server     *Server
}

func newEnv(t *testing.T, cfg Config) *apiEnv {
	t.Helper()
	metrics.Init()

	ids := uuidgen.New()
	clk := systemclock.New()
	store := memorystore.NewOfferStore()
	templates := memorystore.NewTemplateStore()
	history := memorystore.NewHistoryStore()
	seclog := memorystore.NewSecurityLog()
	telegram := channel.NewMemory(offer.ChannelTelegram)

	links := shortlink.New(
		shortlink.Config{BaseURL: "https://vxl.to"},
		memorystore.NewShortLinkStore(),
		sha256hash.New(),
		clk,
		zap.NewNop(),
	)
	poster := service.NewOfferService(
		service.OfferServiceConfig{},
		store,
		history,
		links,
		copywriter.NewTemplateRenderer(nil),
		memorypub.New(),
		[]offer.Channel{telegram},
		ids,
		clk,
		zap.NewNop(),
	)
	dispatcher := &fakeDispatcher{
		job: offer.CollectJob{ID: "job-1", Status: offer.JobStatusQueued, Submitted: clk.Now()},
	}

	srv := NewServer(cfg, Deps{
		Store:      store,
		Templates:  templates,
		History:    history,
		Links:      links,
		Checker:    linkcheck.New(linkcheck.Config{}, clk, zap.NewNop()),
		Rewriter:   affiliate.NewRewriter(affiliate.Config{AmazonTag: "voxel-20"}),
		Poster:     poster,
		Dispatcher: dispatcher,
		SecLog:     seclog,
		IDs:        ids,
		Clock:      clk,
		Log:        zap.NewNop(),
	})

	return &apiEnv{
		store:      store,
		templates:  templates,
		history:    history,
		seclog:     seclog,
		telegram:   telegram,
		dispatcher: dispatcher,
		server:     srv,
	}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func seedOffer(t *testing.T, e *apiEnv, id string) offer.Offer {
	t.Helper()
	o := offer.Offer{
		ID:            id,
		Title:         "Echo Dot 5a geração",
		Source:        offer.SourceAmazon,
		ProductURL:    "https://www.amazon.com.br/dp/B09B8V1LZ3",
		AffiliateURL:  "https://www.amazon.com.br/dp/B09B8V1LZ3?tag=voxel-20",
		CurrentPrice:  279,
		OriginalPrice: 399,
		DiscountPct:   30.08,
		Active:        true,
	}
	require.NoError(t, e.store.Insert(context.Background(), o))
	return o
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})

	rec := e.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = e.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOfferLifecycle(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	o := seedOffer(t, e, "of-1")

	rec := e.do(t, http.MethodGet, "/api/v1/offers/?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Count int `json:"count"`
	}](t, rec)
	require.Equal(t, 1, list.Count)

	rec = e.do(t, http.MethodGet, "/api/v1/offers/"+o.ID+"/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[offer.Offer](t, rec)
	require.Equal(t, o.Title, got.Title)

	rec = e.do(t, http.MethodPost, "/api/v1/offers/"+o.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decodeBody[offer.Offer](t, rec).Active)

	rec = e.do(t, http.MethodPost, "/api/v1/offers/"+o.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeBody[offer.Offer](t, rec).Active)

	rec = e.do(t, http.MethodDelete, "/api/v1/offers/"+o.ID+"/", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/offers/"+o.ID+"/", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	envelope := decodeBody[errorResponse](t, rec)
	require.Equal(t, "not_found", envelope.Code)
	require.NotEmpty(t, envelope.RequestID)
}

func TestPostOfferEndpoint(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	o := seedOffer(t, e, "of-post")

	rec := e.do(t, http.MethodPost, "/api/v1/offers/"+o.ID+"/post", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[offer.PostSummary](t, rec)
	require.Equal(t, 1, summary.Succeeded)
	require.Len(t, e.telegram.Messages(), 1)

	rec = e.do(t, http.MethodPost, "/api/v1/offers/"+o.ID+"/post", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "already_posted", decodeBody[errorResponse](t, rec).Code)
}

func TestSubmitJob(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})

	rec := e.do(t, http.MethodPost, "/api/v1/jobs/", map[string]any{"sources": []string{"amazon"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/jobs/", map[string]any{
		"query":   "echo dot",
		"sources": []string{"ebay"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/jobs/", map[string]any{
		"query":      "echo dot",
		"sources":    []string{"amazon", "shopee"},
		"max_offers": 5,
		"auto_post":  true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := decodeBody[offer.CollectJob](t, rec)
	require.Equal(t, offer.JobStatusQueued, job.Status)
	require.Len(t, e.dispatcher.submitted, 1)
	require.Equal(t, "echo dot", e.dispatcher.submitted[0].Query)
	require.True(t, e.dispatcher.submitted[0].AutoPost)
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	e.dispatcher.jobErr = fmt.Errorf("load job: %w", offer.ErrNotFound)

	rec := e.do(t, http.MethodGet, "/api/v1/jobs/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAmazonUtilities(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})

	rec := e.do(t, http.MethodGet, "/api/v1/amazon/asin?url=https%3A%2F%2Fwww.amazon.com.br%2Fgp%2Fproduct%2FB09B8V1LZ3%3Fref%3Dfoo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "B09B8V1LZ3", decodeBody[map[string]string](t, rec)["asin"])

	rec = e.do(t, http.MethodGet, "/api/v1/amazon/asin?url=https%3A%2F%2Fwww.amazon.com.br%2Fs%3Fk%3Decho", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/amazon/affiliate?url=https%3A%2F%2Fwww.amazon.com.br%2Fdp%2FB09B8V1LZ3%3Futm_source%3Dnews", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decodeBody[map[string]string](t, rec)
	require.Equal(t, "https://www.amazon.com.br/dp/B09B8V1LZ3?tag=voxel-20", preview["affiliate_url"])
}

func TestTemplateCRUD(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})

	rec := e.do(t, http.MethodPost, "/api/v1/templates/", map[string]any{
		"name":    "flash-sale",
		"body":    "🔥 {title} por R$ {price} — {link}",
		"default": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[offer.MessageTemplate](t, rec)
	require.NotEmpty(t, created.ID)
	require.True(t, created.Default)

	rec = e.do(t, http.MethodGet, "/api/v1/templates/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Count int `json:"count"`
	}](t, rec)
	require.Equal(t, 1, list.Count)

	rec = e.do(t, http.MethodGet, "/api/v1/templates/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/v1/templates/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/templates/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShortLinksAndRedirect(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})

	rec := e.do(t, http.MethodPost, "/api/v1/shortlinks/", map[string]any{
		"url":      "https://www.amazon.com.br/dp/B09B8V1LZ3?tag=voxel-20",
		"offer_id": "of-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[map[string]any](t, rec)
	code, _ := created["code"].(string)
	require.NotEmpty(t, code)
	require.Equal(t, "https://vxl.to/r/"+code, created["short_url"])

	rec = e.do(t, http.MethodGet, "/r/"+code, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://www.amazon.com.br/dp/B09B8V1LZ3?tag=voxel-20", rec.Header().Get("Location"))

	rec = e.do(t, http.MethodGet, "/api/v1/shortlinks/"+code, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[offer.ShortLink](t, rec)
	require.Equal(t, int64(1), stats.Clicks)

	rec = e.do(t, http.MethodGet, "/r/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLinkCheckEndpoint(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(target.Close)

	rec := e.do(t, http.MethodGet, "/api/v1/links/check?url="+target.URL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[linkcheck.Result](t, rec)
	require.True(t, result.Healthy)
}

func TestAPIKeyAuth(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{AuthEnabled: true, APIKey: "secret"})

	rec := e.do(t, http.MethodGet, "/api/v1/offers/", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "forbidden", decodeBody[errorResponse](t, rec).Code)

	events := e.seclog.Events()
	require.Len(t, events, 1)
	require.Equal(t, "auth_failure", events[0].Kind)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/offers/", nil)
	req.Header.Set("X-API-Key", "secret")
	ok := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(ok, req)
	require.Equal(t, http.StatusOK, ok.Code)

	// Health endpoints stay open without a key.
	rec = e.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiting(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{RateLimitRPS: 0.001, RateLimitBurst: 1})

	rec := e.do(t, http.MethodGet, "/api/v1/offers/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/offers/", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "rate_limited", decodeBody[errorResponse](t, rec).Code)

	events := e.seclog.Events()
	require.Len(t, events, 1)
	require.Equal(t, "rate_limit", events[0].Kind)
}

func TestRequestTimeoutPropagates(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{RequestTimeout: 50 * time.Millisecond})

	// The timeout context reaches handlers through the request.
	rec := e.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPostPendingWithoutBody(t *testing.T) {
	t.Parallel()
	e := newEnv(t, Config{})
	seedOffer(t, e, "of-pending")

	// Every field is optional, so no body at all must use the defaults.
	rec := e.do(t, http.MethodPost, "/api/v1/offers/post-pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[struct {
		Count int `json:"count"`
	}](t, rec)
	require.Equal(t, 1, result.Count)
	require.Len(t, e.telegram.Messages(), 1)
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("id source exhausted") }

func TestIDGenerationFailure(t *testing.T) {
	t.Parallel()
	metrics.Init()

	srv := NewServer(Config{}, Deps{
		Templates: memorystore.NewTemplateStore(),
		IDs:       failingIDs{},
		Clock:     systemclock.New(),
	})

	// A failing generator degrades the request ID, never the request.
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("X-Request-ID"))

	// Template creation needs a fresh ID, so it surfaces the failure.
	body, err := json.Marshal(map[string]any{"name": "default", "body": "{title} por {price}"})
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/templates/", bytes.NewReader(body)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal", decodeBody[errorResponse](t, rec).Code)
}
