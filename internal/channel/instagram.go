package channel

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// InstagramConfig configures the Instagram Graph API channel.
type InstagramConfig struct {
	BaseURL     string
	AccessToken string
	UserID      string
	Timeout     time.Duration
}

// Instagram posts offers through the Graph API two-step media publish.
type Instagram struct {
	cfg    InstagramConfig
	client *http.Client
	retry  offer.RetryPolicy
	log    *zap.Logger
}

// NewInstagram builds an Instagram channel.
func NewInstagram(cfg InstagramConfig, retry offer.RetryPolicy, log *zap.Logger) *Instagram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGraphBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Instagram{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		retry:  retry,
		log:    log,
	}
}

// Name reports the channel identity.
func (i *Instagram) Name() offer.ChannelName {
	return offer.ChannelInstagram
}

type graphIDResponse struct {
	ID string `json:"id"`
}

// Post creates a media container for the offer image and publishes it.
// Instagram requires an image, text-only offers are rejected.
func (i *Instagram) Post(ctx context.Context, msg offer.Message) (string, error) {
	if i.cfg.AccessToken == "" || i.cfg.UserID == "" {
		return "", fmt.Errorf("instagram access token and user id are required")
	}
	if msg.ImageURL == "" {
		return "", fmt.Errorf("instagram requires an image")
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+i.cfg.AccessToken)

	var creation graphIDResponse
	err := offer.Retry(ctx, i.retry, func() error {
		creation = graphIDResponse{}
		return postJSON(ctx, i.client,
			fmt.Sprintf("%s/%s/media", i.cfg.BaseURL, i.cfg.UserID), headers,
			map[string]any{"image_url": msg.ImageURL, "caption": msg.Text},
			&creation)
	})
	if err != nil {
		return "", fmt.Errorf("instagram create media: %w", err)
	}
	if creation.ID == "" {
		return "", fmt.Errorf("instagram create media: empty creation id")
	}

	var published graphIDResponse
	err = offer.Retry(ctx, i.retry, func() error {
		published = graphIDResponse{}
		return postJSON(ctx, i.client,
			fmt.Sprintf("%s/%s/media_publish", i.cfg.BaseURL, i.cfg.UserID), headers,
			map[string]any{"creation_id": creation.ID},
			&published)
	})
	if err != nil {
		return "", fmt.Errorf("instagram publish media: %w", err)
	}

	i.log.Debug("instagram media published", zap.String("media_id", published.ID))
	return published.ID, nil
}
