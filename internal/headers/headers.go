// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package headers supplies the browser-like request headers sent with every
// call to the chat service.
package headers

import (
	"fmt"
	"math/rand"
	"time"
)

// Provider returns a stable set of HTTP header key/value pairs.
type Provider interface {
	Headers() map[string]string
}

// =============================================================================
// BROWSER PROFILES
// =============================================================================

// Origin is the web origin the service expects requests to come from.
const Origin = "https://chat.gradient.network"

type platform struct {
	name      string // sec-ch-ua-platform value, unquoted
	mobile    bool
	userAgent string // format string taking the Chrome major version
}

var platforms = []platform{
	{
		name:      "Windows",
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36",
	},
	{
		name:      "macOS",
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36",
	},
	{
		name:      "iOS",
		mobile:    true,
		userAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Mobile Safari/537.36",
	},
	{
		name:      "Android",
		mobile:    true,
		userAgent: "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Mobile Safari/537.36",
	},
}

// Chrome major versions the profile is drawn from.
const (
	minChromeMajor = 128
	maxChromeMajor = 139
)

var languages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"en-US,en;q=0.9,de;q=0.8",
	"en-US,en;q=0.9,fr;q=0.8",
}

// =============================================================================
// BROWSER PROVIDER
// =============================================================================

// Browser is a Provider that impersonates one Chrome install. The profile is
// picked once when the Browser is created and never changes afterwards.
type Browser struct {
	headers map[string]string
}

// NewBrowser picks a random browser profile.
func NewBrowser() *Browser {
	return NewBrowserFromSource(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewBrowserFromSource picks a browser profile using rng, which makes the
// chosen profile reproducible.
func NewBrowserFromSource(rng *rand.Rand) *Browser {
	p := platforms[rng.Intn(len(platforms))]
	major := minChromeMajor + rng.Intn(maxChromeMajor-minChromeMajor+1)
	lang := languages[rng.Intn(len(languages))]

	mobile := "?0"
	if p.mobile {
		mobile = "?1"
	}

	return &Browser{
		headers: map[string]string{
			"accept":             "*/*",
			"accept-language":    lang,
			"priority":           "u=1, i",
			"origin":             Origin,
			"referer":            Origin + "/",
			"sec-ch-ua":          fmt.Sprintf(`"Not;A=Brand";v="99", "Google Chrome";v="%d", "Chromium";v="%d"`, major, major),
			"sec-ch-ua-mobile":   mobile,
			"sec-ch-ua-platform": `"` + p.name + `"`,
			"sec-fetch-dest":     "empty",
			"sec-fetch-mode":     "cors",
			"sec-fetch-site":     "same-origin",
			"user-agent":         fmt.Sprintf(p.userAgent, major),
		},
	}
}

// Headers returns a copy of the chosen header set.
func (b *Browser) Headers() map[string]string {
	out := make(map[string]string, len(b.headers))
	for k, v := range b.headers {
		out[k] = v
	}
	return out
}

// Static is a Provider returning a fixed map, mostly useful in tests.
type Static map[string]string

// Headers returns a copy of the map.
func (s Static) Headers() map[string]string {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
