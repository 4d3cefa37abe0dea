// Package cacheentry defines the cached response envelope, the typed
// wrapper of (value + RFC 9111 metadata) that cache stores round-trip
// whole, never piecewise, carrying the full validator/Vary metadata set
// the freshness engine needs.
package cacheentry

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Sternrassler/httpgov/pkg/cachecontrol"
)

// Entry is the cached response envelope. All time fields are epoch
// milliseconds, kept in the integer domain until a comparison or TTL
// boundary converts to seconds.
type Entry struct {
	Envelope bool `json:"__envelope"` // discriminant marker distinguishing this from a raw legacy value

	Value []byte `json:"value"`

	CacheControl cachecontrol.Directives `json:"cacheControl"`
	ETag         string                  `json:"etag,omitempty"`
	LastModified string                  `json:"lastModified,omitempty"`

	ResponseDate int64 `json:"responseDate"`
	StoredAt     int64 `json:"storedAt"`
	AgeHeader    int64 `json:"ageHeader"`

	// Expires is nil when absent; *0 denotes an already-expired response
	// (a literal "0" or unparsable Expires header).
	Expires *int64 `json:"expires,omitempty"`

	StatusCode int `json:"statusCode"`

	VaryHeaders string             `json:"varyHeaders,omitempty"`
	VaryValues  map[string]*string `json:"varyValues,omitempty"`
}

// IsEnvelope is the type guard distinguishing an Entry from a raw legacy
// value a store might still be holding.
func IsEnvelope(v any) (*Entry, bool) {
	e, ok := v.(*Entry)
	if !ok || !e.Envelope {
		return nil, false
	}
	return e, true
}

// Create builds a new envelope from a fetched response: body, headers, and
// status. nowMs is the caller's current-time reading (in ms), used as the
// fallback response date and as storedAt.
func Create(value []byte, headers http.Header, status int, nowMs int64) *Entry {
	e := &Entry{
		Envelope:     true,
		Value:        value,
		CacheControl: cachecontrol.Parse(headers.Values("Cache-Control")),
		ETag:         headers.Get("ETag"),
		LastModified: headers.Get("Last-Modified"),
		StatusCode:   status,
		StoredAt:     nowMs,
		VaryHeaders:  headers.Get("Vary"),
	}

	if dateMs, ok := parseHTTPDateMs(headers.Get("Date")); ok {
		e.ResponseDate = dateMs
	} else {
		e.ResponseDate = nowMs
	}

	e.AgeHeader = parseNonNegativeInt(headers.Get("Age"))

	if exp, ok := parseExpiresMs(headers.Get("Expires")); ok {
		e.Expires = &exp
	}

	return e
}

// Refresh returns a new envelope from an existing entry and a 304 response's
// headers. value and statusCode are always carried over unchanged; storedAt
// is set to nowMs, and responseDate to the 304's Date (nowMs when it carries
// none). Every other metadata field is overwritten only when the 304
// response actually carried it, otherwise the existing value is preserved.
func Refresh(existing *Entry, headers http.Header, nowMs int64) *Entry {
	refreshed := &Entry{
		Envelope:    true,
		Value:       existing.Value,
		StatusCode:  existing.StatusCode,
		StoredAt:    nowMs,
		VaryHeaders: existing.VaryHeaders,
		VaryValues:  existing.VaryValues,
	}

	if cc := headers.Values("Cache-Control"); len(cc) > 0 {
		refreshed.CacheControl = cachecontrol.Parse(cc)
	} else {
		refreshed.CacheControl = existing.CacheControl
	}

	if etag := headers.Get("ETag"); etag != "" {
		refreshed.ETag = etag
	} else {
		refreshed.ETag = existing.ETag
	}

	if lm := headers.Get("Last-Modified"); lm != "" {
		refreshed.LastModified = lm
	} else {
		refreshed.LastModified = existing.LastModified
	}

	if dateMs, ok := parseHTTPDateMs(headers.Get("Date")); ok {
		refreshed.ResponseDate = dateMs
	} else {
		refreshed.ResponseDate = nowMs
	}

	if ageStr := headers.Get("Age"); ageStr != "" {
		refreshed.AgeHeader = parseNonNegativeInt(ageStr)
	} else {
		refreshed.AgeHeader = existing.AgeHeader
	}

	if exp, ok := parseExpiresMs(headers.Get("Expires")); ok {
		refreshed.Expires = &exp
	} else {
		refreshed.Expires = existing.Expires
	}

	if vary := headers.Get("Vary"); vary != "" {
		refreshed.VaryHeaders = vary
	}

	return refreshed
}

func parseNonNegativeInt(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// parseHTTPDateMs parses an HTTP-date header into epoch milliseconds.
func parseHTTPDateMs(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	t, err := http.ParseTime(s)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}

// parseExpiresMs parses the Expires header, treating "0" and any invalid
// date format as already-expired (epoch-ms 0), per RFC 9111 §5.3.
func parseExpiresMs(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	if strings.TrimSpace(s) == "0" {
		return 0, true
	}
	t, err := http.ParseTime(s)
	if err != nil {
		return 0, true // invalid date format => already expired
	}
	return t.UnixMilli(), true
}
