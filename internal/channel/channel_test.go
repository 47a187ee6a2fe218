package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

var testMessage = offer.Message{
	OfferID:  "of-1",
	Text:     "Echo Dot por R$ 279! https://vxl.to/abc",
	ImageURL: "https://m.media-amazon.com/images/I/echo.jpg",
	LinkURL:  "https://vxl.to/abc",
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestTelegramPostPhoto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bottoken-123/sendPhoto", r.URL.Path)
		body := decodeBody(t, r)
		require.Equal(t, "@promos", body["chat_id"])
		require.Equal(t, testMessage.ImageURL, body["photo"])
		require.Equal(t, testMessage.Text, body["caption"])
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42}}`))
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{BaseURL: srv.URL, BotToken: "token-123", ChatID: "@promos"}, nil, nil)
	require.Equal(t, offer.ChannelTelegram, tg.Name())

	id, err := tg.Post(context.Background(), testMessage)
	require.NoError(t, err)
	require.Equal(t, "42", id)
}

func TestTelegramPostTextAndAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bottoken-123/sendMessage", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{BaseURL: srv.URL, BotToken: "token-123", ChatID: "@promos"},
		offer.NewExponentialRetryPolicyWith(1, time.Millisecond, time.Millisecond), nil)

	msg := testMessage
	msg.ImageURL = ""
	_, err := tg.Post(context.Background(), msg)
	require.ErrorContains(t, err, "chat not found")
}

func TestWhatsAppPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/555000111/messages", r.URL.Path)
		require.Equal(t, "Bearer wa-token", r.Header.Get("Authorization"))
		body := decodeBody(t, r)
		require.Equal(t, "image", body["type"])
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.XYZ"}]}`))
	}))
	defer srv.Close()

	wa := NewWhatsApp(WhatsAppConfig{
		BaseURL:       srv.URL,
		AccessToken:   "wa-token",
		PhoneNumberID: "555000111",
		RecipientID:   "5511999998888",
	}, nil, nil)

	id, err := wa.Post(context.Background(), testMessage)
	require.NoError(t, err)
	require.Equal(t, "wamid.XYZ", id)
}

func TestInstagramPostTwoSteps(t *testing.T) {
	var step int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&step, 1) {
		case 1:
			require.Equal(t, "/17841400000/media", r.URL.Path)
			body := decodeBody(t, r)
			require.Equal(t, testMessage.ImageURL, body["image_url"])
			_, _ = w.Write([]byte(`{"id":"creation-1"}`))
		case 2:
			require.Equal(t, "/17841400000/media_publish", r.URL.Path)
			body := decodeBody(t, r)
			require.Equal(t, "creation-1", body["creation_id"])
			_, _ = w.Write([]byte(`{"id":"media-9"}`))
		default:
			t.Error("unexpected extra request")
		}
	}))
	defer srv.Close()

	ig := NewInstagram(InstagramConfig{BaseURL: srv.URL, AccessToken: "ig-token", UserID: "17841400000"}, nil, nil)

	id, err := ig.Post(context.Background(), testMessage)
	require.NoError(t, err)
	require.Equal(t, "media-9", id)
}

func TestInstagramRequiresImage(t *testing.T) {
	t.Parallel()

	ig := NewInstagram(InstagramConfig{AccessToken: "ig-token", UserID: "1"}, nil, nil)
	msg := testMessage
	msg.ImageURL = ""
	_, err := ig.Post(context.Background(), msg)
	require.ErrorContains(t, err, "image")
}

func TestXPostRefreshesToken(t *testing.T) {
	var tokenCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/2/oauth2/token":
			atomic.AddInt32(&tokenCalls, 1)
			require.NoError(t, r.ParseForm())
			require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
			require.Equal(t, "rt-1", r.Form.Get("refresh_token"))
			_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-2","expires_in":7200}`))
		case "/2/tweets":
			require.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"data":{"id":"tweet-77"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	x := NewX(XConfig{BaseURL: srv.URL, ClientID: "client-1", RefreshToken: "rt-1"}, nil, nil)
	require.Equal(t, offer.ChannelX, x.Name())

	id, err := x.Post(context.Background(), testMessage)
	require.NoError(t, err)
	require.Equal(t, "tweet-77", id)

	// The cached access token is reused, the rotated refresh token is kept.
	id, err = x.Post(context.Background(), testMessage)
	require.NoError(t, err)
	require.Equal(t, "tweet-77", id)
	require.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
	require.Equal(t, "rt-2", x.refreshToken)
}

func TestMemoryChannel(t *testing.T) {
	t.Parallel()

	m := NewMemory(offer.ChannelTelegram)
	id, err := m.Post(context.Background(), testMessage)
	require.NoError(t, err)
	require.Equal(t, "telegram-1", id)
	require.Len(t, m.Messages(), 1)
}
