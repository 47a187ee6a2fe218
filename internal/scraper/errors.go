package scraper

import "errors"

// ErrBotWall is returned when a marketplace serves a captcha or anti-bot
// interstitial instead of search results.
var ErrBotWall = errors.New("bot wall detected")
