// Package validate holds the pure input-validation predicates used by
// the API layer and channel configuration checks.
package validate

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

var (
	botTokenPattern = regexp.MustCompile(`^\d{8,10}:[A-Za-z0-9_-]{35}$`)
	chatIDPattern   = regexp.MustCompile(`^(@[A-Za-z0-9_]{5,32}|-?\d{6,14})$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)
	phonePattern    = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)
)

// BotToken reports whether s looks like a Telegram bot token.
func BotToken(s string) bool {
	return botTokenPattern.MatchString(s)
}

// ChatID reports whether s is a Telegram chat ID or @channel handle.
func ChatID(s string) bool {
	return chatIDPattern.MatchString(s)
}

// Email reports whether s is a plausible e-mail address.
func Email(s string) bool {
	return len(s) <= 254 && emailPattern.MatchString(s)
}

// Phone reports whether s is an E.164 phone number.
func Phone(s string) bool {
	return phonePattern.MatchString(s)
}

// HTTPURL reports whether s parses as an absolute http(s) URL.
func HTTPURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// SourceName reports whether s names a known marketplace source.
func SourceName(s string) bool {
	for _, src := range offer.KnownSources() {
		if offer.Source(s) == src {
			return true
		}
	}
	return false
}
