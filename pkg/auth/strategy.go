package auth

import (
	"net/http"
	"regexp"
	"strings"
)

// Headers read by ClientContextFromRequest
const (
	HeaderPlatform   = "X-Platform"
	HeaderAuthMethod = "X-Auth-Method"
	HeaderDeviceID   = "X-Device-ID"
)

var mobileUserAgent = regexp.MustCompile(`(?i)(mobile|android|iphone|ipad|phone|tablet|touch)`)

// Selector picks an authentication strategy for a client.
// It is pure: the same ClientContext always yields the same Strategy, and
// it never consults network or cache state.
type Selector struct{}

// NewSelector creates a strategy selector
func NewSelector() *Selector {
	return &Selector{}
}

// Select applies the decision table:
//
//	mobile client             -> MOBILE / JWT    / offline / refresh
//	web + stored JWT pref     -> WEB    / JWT    / online  / refresh
//	web default               -> WEB    / COOKIE / online  / no refresh
func (s *Selector) Select(client ClientContext) Strategy {
	if IsMobileClient(client) {
		return Strategy{
			Platform:        PlatformMobile,
			Method:          MethodJWT,
			OfflineCapable:  true,
			RefreshRequired: true,
		}
	}

	if Method(strings.ToUpper(string(client.StoredPreference))) == MethodJWT {
		return Strategy{
			Platform:        PlatformWeb,
			Method:          MethodJWT,
			RefreshRequired: true,
		}
	}

	return Strategy{
		Platform: PlatformWeb,
		Method:   MethodCookie,
	}
}

// IsMobileClient detects a mobile client. A recognised platform hint wins
// over the user agent; an unrecognised hint is ignored.
func IsMobileClient(client ClientContext) bool {
	switch strings.ToUpper(strings.TrimSpace(client.PlatformHint)) {
	case "WEB", "BROWSER":
		return false
	case "ANDROID", "MOBILE_ANDROID", "IOS", "MOBILE_IOS", "IPHONE", "IPAD", "MOBILE":
		return true
	}
	return mobileUserAgent.MatchString(client.UserAgent)
}

// ClientContextFromRequest extracts the selector inputs from an HTTP request
func ClientContextFromRequest(r *http.Request) ClientContext {
	return ClientContext{
		UserAgent:        r.UserAgent(),
		PlatformHint:     r.Header.Get(HeaderPlatform),
		StoredPreference: Method(strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderAuthMethod)))),
		DeviceID:         r.Header.Get(HeaderDeviceID),
	}
}
