package channel

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// TelegramConfig configures the Telegram Bot API channel.
type TelegramConfig struct {
	BaseURL  string
	BotToken string
	ChatID   string
	Timeout  time.Duration
}

// Telegram posts offers through the Bot API.
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
	retry  offer.RetryPolicy
	log    *zap.Logger
}

// NewTelegram builds a Telegram channel.
func NewTelegram(cfg TelegramConfig, retry offer.RetryPolicy, log *zap.Logger) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTelegramBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		retry:  retry,
		log:    log,
	}
}

// Name reports the channel identity.
func (t *Telegram) Name() offer.ChannelName {
	return offer.ChannelTelegram
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// Post sends the message, as a photo with caption when an image is present.
func (t *Telegram) Post(ctx context.Context, msg offer.Message) (string, error) {
	if t.cfg.BotToken == "" || t.cfg.ChatID == "" {
		return "", fmt.Errorf("telegram bot token and chat id are required")
	}

	method := "sendMessage"
	payload := map[string]any{
		"chat_id": t.cfg.ChatID,
		"text":    msg.Text,
	}
	if msg.ImageURL != "" {
		method = "sendPhoto"
		payload = map[string]any{
			"chat_id": t.cfg.ChatID,
			"photo":   msg.ImageURL,
			"caption": msg.Text,
		}
	}
	url := fmt.Sprintf("%s/bot%s/%s", t.cfg.BaseURL, t.cfg.BotToken, method)

	var out telegramResponse
	err := offer.Retry(ctx, t.retry, func() error {
		out = telegramResponse{}
		if err := postJSON(ctx, t.client, url, nil, payload, &out); err != nil {
			return err
		}
		if !out.OK {
			return fmt.Errorf("telegram: %s", out.Description)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("telegram post: %w", err)
	}

	t.log.Debug("telegram message sent", zap.Int64("message_id", out.Result.MessageID))
	return strconv.FormatInt(out.Result.MessageID, 10), nil
}
