package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

const (
	defaultXAPIBaseURL = "https://api.x.com"

	// Refresh slightly before the access token actually expires.
	xTokenSkew = 2 * time.Minute
)

// XConfig configures the X API v2 channel. The client is a PKCE public
// client: only the client id and a long-lived refresh token are stored.
type XConfig struct {
	BaseURL      string
	ClientID     string
	RefreshToken string
	Timeout      time.Duration
}

// X posts offers as tweets, keeping its OAuth2 access token fresh.
type X struct {
	cfg    XConfig
	client *http.Client
	retry  offer.RetryPolicy
	log    *zap.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// NewX builds an X channel.
func NewX(cfg XConfig, retry offer.RetryPolicy, log *zap.Logger) *X {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultXAPIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &X{
		cfg:          cfg,
		client:       &http.Client{Timeout: cfg.Timeout},
		retry:        retry,
		log:          log,
		refreshToken: cfg.RefreshToken,
	}
}

// Name reports the channel identity.
func (x *X) Name() offer.ChannelName {
	return offer.ChannelX
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Post publishes the message text as a tweet.
func (x *X) Post(ctx context.Context, msg offer.Message) (string, error) {
	if x.cfg.ClientID == "" || x.cfg.RefreshToken == "" {
		return "", fmt.Errorf("x client id and refresh token are required")
	}

	var out tweetResponse
	err := offer.Retry(ctx, x.retry, func() error {
		token, err := x.token(ctx)
		if err != nil {
			return err
		}
		headers := http.Header{}
		headers.Set("Authorization", "Bearer "+token)

		out = tweetResponse{}
		err = postJSON(ctx, x.client, x.cfg.BaseURL+"/2/tweets", headers,
			map[string]any{"text": msg.Text}, &out)
		var statusErr *statusError
		if errors.As(err, &statusErr) && statusErr.status == http.StatusUnauthorized {
			x.invalidateToken()
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("x post: %w", err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("x post: response carried no tweet id")
	}

	x.log.Debug("tweet published", zap.String("tweet_id", out.Data.ID))
	return out.Data.ID, nil
}

type xTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// token returns a valid access token, running the refresh-token grant when
// the cached one is missing or about to expire. X rotates refresh tokens on
// every grant, so the new one replaces the stored one under the same lock.
func (x *X) token(ctx context.Context) (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.accessToken != "" && time.Now().Before(x.expiresAt.Add(-xTokenSkew)) {
		return x.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", x.refreshToken)
	form.Set("client_id", x.cfg.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		x.cfg.BaseURL+"/2/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := x.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh x token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{status: resp.StatusCode, body: truncate(string(body), 200)}
	}

	var parsed xTokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("x token grant returned no access token")
	}

	x.accessToken = parsed.AccessToken
	x.expiresAt = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	if parsed.RefreshToken != "" {
		x.refreshToken = parsed.RefreshToken
	}
	return x.accessToken, nil
}

func (x *X) invalidateToken() {
	x.mu.Lock()
	x.accessToken = ""
	x.mu.Unlock()
}
