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

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// WhatsAppConfig configures the WhatsApp Cloud API channel.
type WhatsAppConfig struct {
	BaseURL       string
	AccessToken   string
	PhoneNumberID string
	RecipientID   string
	Timeout       time.Duration
}

// WhatsApp posts offers through the Cloud API.
type WhatsApp struct {
	cfg    WhatsAppConfig
	client *http.Client
	retry  offer.RetryPolicy
	log    *zap.Logger
}

// NewWhatsApp builds a WhatsApp channel.
func NewWhatsApp(cfg WhatsAppConfig, retry offer.RetryPolicy, log *zap.Logger) *WhatsApp {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGraphBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WhatsApp{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		retry:  retry,
		log:    log,
	}
}

// Name reports the channel identity.
func (w *WhatsApp) Name() offer.ChannelName {
	return offer.ChannelWhatsApp
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Post sends the message, as an image with caption when one is present.
func (w *WhatsApp) Post(ctx context.Context, msg offer.Message) (string, error) {
	if w.cfg.AccessToken == "" || w.cfg.PhoneNumberID == "" || w.cfg.RecipientID == "" {
		return "", fmt.Errorf("whatsapp access token, phone number id and recipient are required")
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                w.cfg.RecipientID,
		"type":              "text",
		"text":              map[string]any{"body": msg.Text, "preview_url": true},
	}
	if msg.ImageURL != "" {
		payload = map[string]any{
			"messaging_product": "whatsapp",
			"to":                w.cfg.RecipientID,
			"type":              "image",
			"image":             map[string]any{"link": msg.ImageURL, "caption": msg.Text},
		}
	}

	url := fmt.Sprintf("%s/%s/messages", w.cfg.BaseURL, w.cfg.PhoneNumberID)
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	var out whatsAppResponse
	err := offer.Retry(ctx, w.retry, func() error {
		out = whatsAppResponse{}
		return postJSON(ctx, w.client, url, headers, payload, &out)
	})
	if err != nil {
		return "", fmt.Errorf("whatsapp post: %w", err)
	}
	if len(out.Messages) == 0 {
		return "", fmt.Errorf("whatsapp post: response carried no message id")
	}

	w.log.Debug("whatsapp message sent", zap.String("message_id", out.Messages[0].ID))
	return out.Messages[0].ID, nil
}
