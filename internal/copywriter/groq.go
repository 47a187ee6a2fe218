// Package copywriter generates promotional copy for offers, either through
// the Groq chat-completions API or from stored message templates.
package copywriter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

const (
	defaultGroqBaseURL = "https://api.groq.com/openai/v1"
	defaultGroqModel   = "llama-3.1-8b-instant"

	systemPrompt = "Você é um redator de ofertas para canais de promoções brasileiros. " +
		"Escreva uma mensagem curta e empolgante para a oferta enviada, em português, " +
		"com no máximo 280 caracteres, terminando com o link. Não invente preços."
)

// GroqConfig configures the Groq client.
type GroqConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Groq implements offer.Copywriter against the Groq chat-completions API.
type Groq struct {
	cfg    GroqConfig
	client *http.Client
	retry  offer.RetryPolicy
	log    *zap.Logger
}

// NewGroq builds a Groq copywriter.
func NewGroq(cfg GroqConfig, retry offer.RetryPolicy, log *zap.Logger) *Groq {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGroqBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultGroqModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Groq{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		retry:  retry,
		log:    log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Compose asks the model for promotional copy for the offer.
func (g *Groq) Compose(ctx context.Context, o offer.Offer, link string) (string, error) {
	if g.cfg.APIKey == "" {
		return "", fmt.Errorf("groq api key is not configured")
	}

	payload, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: offerPrompt(o, link)},
		},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	var text string
	err = offer.Retry(ctx, g.retry, func() error {
		out, callErr := g.call(ctx, payload)
		if callErr != nil {
			return callErr
		}
		text = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("groq compose: %w", err)
	}
	return text, nil
}

func (g *Groq) call(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call groq: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			g.log.Debug("close groq response body", zap.Error(closeErr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read groq response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("groq status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode groq response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("groq error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("groq returned no choices")
	}
	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("groq returned empty copy")
	}
	return text, nil
}

func offerPrompt(o offer.Offer, link string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Produto: %s\n", o.Title)
	fmt.Fprintf(&b, "Preço atual: R$ %.2f\n", o.CurrentPrice)
	if o.OriginalPrice > o.CurrentPrice {
		fmt.Fprintf(&b, "Preço original: R$ %.2f (%.0f%% de desconto)\n", o.OriginalPrice, o.DiscountPct)
	}
	fmt.Fprintf(&b, "Loja: %s\n", o.Source)
	fmt.Fprintf(&b, "Link: %s\n", link)
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
