// Package main wires together the voxelpromo service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/voxelpromo/voxelpromo/internal/affiliate"
	"github.com/voxelpromo/voxelpromo/internal/api"
	"github.com/voxelpromo/voxelpromo/internal/channel"
	systemclock "github.com/voxelpromo/voxelpromo/internal/clock/system"
	"github.com/voxelpromo/voxelpromo/internal/collector"
	"github.com/voxelpromo/voxelpromo/internal/config"
	"github.com/voxelpromo/voxelpromo/internal/copywriter"
	sha256hash "github.com/voxelpromo/voxelpromo/internal/hash/sha256"
	uuidgen "github.com/voxelpromo/voxelpromo/internal/id/uuid"
	"github.com/voxelpromo/voxelpromo/internal/linkcheck"
	"github.com/voxelpromo/voxelpromo/internal/logging"
	"github.com/voxelpromo/voxelpromo/internal/metrics"
	"github.com/voxelpromo/voxelpromo/internal/offer"
	memorypublisher "github.com/voxelpromo/voxelpromo/internal/publisher/memory"
	pubsubpublisher "github.com/voxelpromo/voxelpromo/internal/publisher/pubsub"
	memoryqueue "github.com/voxelpromo/voxelpromo/internal/queue/memory"
	"github.com/voxelpromo/voxelpromo/internal/scraper"
	"github.com/voxelpromo/voxelpromo/internal/scraper/aliexpress"
	"github.com/voxelpromo/voxelpromo/internal/scraper/amazon"
	"github.com/voxelpromo/voxelpromo/internal/scraper/mercadolivre"
	"github.com/voxelpromo/voxelpromo/internal/scraper/shopee"
	"github.com/voxelpromo/voxelpromo/internal/service"
	"github.com/voxelpromo/voxelpromo/internal/shortlink"
	gcsstore "github.com/voxelpromo/voxelpromo/internal/storage/gcs"
	localstore "github.com/voxelpromo/voxelpromo/internal/storage/local"
	memorystore "github.com/voxelpromo/voxelpromo/internal/storage/memory"
	"github.com/voxelpromo/voxelpromo/internal/storage/postgres"
	"github.com/voxelpromo/voxelpromo/internal/storage/rediscache"
)

// stores groups every persistence interface main has to wire.
type stores struct {
	offers    offer.Store
	links     offer.ShortLinkStore
	templates offer.TemplateStore
	history   offer.HistoryStore
	seclog    offer.SecurityLog
	jobs      offer.JobStore
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := systemclock.New()
	idGen := uuidgen.New()
	hasher := sha256hash.New()

	st, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}
	defer cleanup()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build blob store: %w", err)
	}

	pub, pubCleanup, err := buildPublisher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build publisher: %w", err)
	}
	defer pubCleanup()

	retry := offer.NewExponentialRetryPolicyWith(
		cfg.Scraper.MaxRetries,
		time.Duration(cfg.Scraper.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.Scraper.BackoffMaxMs)*time.Millisecond,
	)

	links := shortlink.New(shortlink.Config{
		BaseURL:    cfg.ShortLink.BaseURL,
		CodeLength: cfg.ShortLink.CodeLength,
	}, st.links, hasher, clock, logger.Named("shortlink"))

	writer := buildCopywriter(cfg, st.templates, retry, logger)
	channels := buildChannels(cfg, retry, logger)
	rewriter := affiliate.NewRewriter(affiliate.Config{
		AmazonTag:        cfg.Affiliate.AmazonTag,
		MercadoLivreWord: cfg.Affiliate.MercadoLivreWord,
		MercadoLivreTool: cfg.Affiliate.MercadoLivreTool,
		ShopeeAffID:      cfg.Affiliate.ShopeeAffID,
		AliExpressAffID:  cfg.Affiliate.AliExpressAffID,
	})

	offers := service.NewOfferService(
		service.OfferServiceConfig{ChannelRPS: cfg.Channels.PostRPS},
		st.offers,
		st.history,
		links,
		writer,
		pub,
		channels,
		idGen,
		clock,
		logger.Named("offers"),
	)

	scrapers, err := buildScrapers(cfg, retry, blobs, clock, logger)
	if err != nil {
		return fmt.Errorf("build scrapers: %w", err)
	}

	queue := memoryqueue.NewQueue(cfg.Poster.QueueDepth)
	var workers []*collector.Worker
	for i := 0; i < cfg.Poster.Workers; i++ {
		workers = append(workers, collector.NewWorker(
			queue,
			st.jobs,
			offers,
			rewriter,
			scrapers,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := collector.NewDispatcher(queue, st.jobs, idGen, clock, workers)

	apiServer := api.NewServer(api.Config{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.RequestTimeout(),
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, api.Deps{
		Store:      st.offers,
		Templates:  st.templates,
		History:    st.history,
		Links:      links,
		Checker:    linkcheck.New(linkcheck.Config{}, clock, logger.Named("linkcheck")),
		Rewriter:   rewriter,
		Poster:     offers,
		Dispatcher: dispatch,
		SecLog:     st.seclog,
		IDs:        idGen,
		Clock:      clock,
		Log:        logger.Named("api"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Poster.Workers))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
	return nil
}

func buildStores(ctx context.Context, cfg config.Config) (stores, func(), error) {
	if !cfg.DB.Enabled {
		st := stores{
			offers:    memorystore.NewOfferStore(),
			links:     memorystore.NewShortLinkStore(),
			templates: memorystore.NewTemplateStore(),
			history:   memorystore.NewHistoryStore(),
			seclog:    memorystore.NewSecurityLog(),
			jobs:      memorystore.NewJobStore(),
		}
		st.links = wrapShortLinkCache(cfg, st.links)
		return st, func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
	})
	if err != nil {
		return stores{}, nil, fmt.Errorf("connect postgres: %w", err)
	}

	offerStore, err := postgres.NewOfferStore(pool)
	if err != nil {
		return stores{}, nil, err
	}
	linkStore, err := postgres.NewShortLinkStore(pool)
	if err != nil {
		return stores{}, nil, err
	}
	templateStore, err := postgres.NewTemplateStore(pool)
	if err != nil {
		return stores{}, nil, err
	}
	historyStore, err := postgres.NewHistoryStore(pool)
	if err != nil {
		return stores{}, nil, err
	}
	secLog, err := postgres.NewSecurityLog(pool)
	if err != nil {
		return stores{}, nil, err
	}
	jobStore, err := postgres.NewJobStore(pool)
	if err != nil {
		return stores{}, nil, err
	}

	st := stores{
		offers:    offerStore,
		links:     wrapShortLinkCache(cfg, linkStore),
		templates: templateStore,
		history:   historyStore,
		seclog:    secLog,
		jobs:      jobStore,
	}
	return st, pool.Close, nil
}

func wrapShortLinkCache(cfg config.Config, store offer.ShortLinkStore) offer.ShortLinkStore {
	if !cfg.Redis.Enabled {
		return store
	}
	client := rediscache.NewClient(rediscache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return rediscache.NewShortLinkCache(store, client, time.Duration(cfg.Redis.TTLSeconds)*time.Second)
}

func buildBlobStore(ctx context.Context, cfg config.Config) (offer.BlobStore, error) {
	if !cfg.Scraper.SnapshotsEnabled {
		return nil, nil
	}
	switch cfg.Storage.Provider {
	case "local":
		return localstore.New(localstore.Config{BaseDir: cfg.Storage.LocalDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsstore.New(client, gcsstore.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return memorystore.NewBlobStore(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (offer.Publisher, func(), error) {
	if !cfg.PubSub.Enabled {
		return memorypublisher.New(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	cleanup := func() {
		if closeErr := client.Close(); closeErr != nil {
			zap.L().Warn("close pubsub client", zap.Error(closeErr))
		}
	}
	return pubsubpublisher.New(client), cleanup, nil
}

func buildCopywriter(cfg config.Config, templates offer.TemplateStore, retry offer.RetryPolicy, logger *zap.Logger) offer.Copywriter {
	renderer := copywriter.NewTemplateRenderer(templates)
	if !cfg.Copywriter.Enabled {
		return renderer
	}
	groq := copywriter.NewGroq(copywriter.GroqConfig{
		BaseURL:     cfg.Copywriter.BaseURL,
		APIKey:      cfg.Copywriter.APIKey,
		Model:       cfg.Copywriter.Model,
		MaxTokens:   cfg.Copywriter.MaxTokens,
		Temperature: cfg.Copywriter.Temperature,
		Timeout:     time.Duration(cfg.Copywriter.TimeoutSeconds) * time.Second,
	}, retry, logger.Named("copywriter"))
	return copywriter.NewChain(groq, renderer)
}

func buildChannels(cfg config.Config, retry offer.RetryPolicy, logger *zap.Logger) []offer.Channel {
	var channels []offer.Channel
	if cfg.Channels.Telegram.Enabled {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			BotToken: cfg.Channels.Telegram.BotToken,
			ChatID:   cfg.Channels.Telegram.ChatID,
		}, retry, logger.Named("telegram")))
	}
	if cfg.Channels.WhatsApp.Enabled {
		channels = append(channels, channel.NewWhatsApp(channel.WhatsAppConfig{
			AccessToken:   cfg.Channels.WhatsApp.AccessToken,
			PhoneNumberID: cfg.Channels.WhatsApp.PhoneNumberID,
			RecipientID:   cfg.Channels.WhatsApp.RecipientE164,
		}, retry, logger.Named("whatsapp")))
	}
	if cfg.Channels.Instagram.Enabled {
		channels = append(channels, channel.NewInstagram(channel.InstagramConfig{
			AccessToken: cfg.Channels.Instagram.AccessToken,
			UserID:      cfg.Channels.Instagram.UserID,
		}, retry, logger.Named("instagram")))
	}
	if cfg.Channels.X.Enabled {
		channels = append(channels, channel.NewX(channel.XConfig{
			ClientID:     cfg.Channels.X.ClientID,
			RefreshToken: cfg.Channels.X.RefreshToken,
		}, retry, logger.Named("x")))
	}
	if len(channels) == 0 {
		channels = append(channels, channel.NewMemory(offer.ChannelTelegram))
	}
	return channels
}

func buildScrapers(cfg config.Config, retry offer.RetryPolicy, blobs offer.BlobStore, clock offer.Clock, logger *zap.Logger) ([]offer.Scraper, error) {
	deps := scraper.Deps{
		Fetcher: scraper.NewFetcher(scraper.FetchConfig{
			UserAgent: cfg.Scraper.UserAgent,
			Timeout:   cfg.ScrapeTimeout(),
		}),
		Limiter: scraper.NewLimiter(scraper.LimiterConfig{
			DefaultRPS:   cfg.Scraper.RequestsPerSecond,
			DefaultBurst: cfg.Scraper.Burst,
		}),
		Retry:     retry,
		Snapshots: scraper.NewSnapshotWriter(blobs, clock, logger.Named("snapshots")),
		Logger:    logger.Named("scraper"),
	}

	renderer, err := mercadolivre.NewChromeRenderer(mercadolivre.ChromeConfig{
		MaxParallel:       cfg.Scraper.HeadlessParallel,
		UserAgent:         cfg.Scraper.UserAgent,
		NavigationTimeout: time.Duration(cfg.Scraper.HeadlessTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("chrome renderer: %w", err)
	}

	return []offer.Scraper{
		amazon.New(deps),
		aliexpress.New(deps),
		shopee.New(deps),
		mercadolivre.New(deps, renderer),
	}, nil
}
