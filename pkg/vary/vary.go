// Package vary implements the Vary-header matching rules used to decide
// whether a cached entry applies to the current request, generalized from
// RFC 9111 4.1's cache-key-suffix approach to a client-side captured-value
// comparison instead.
package vary

import (
	"net/http"
	"strings"

	"github.com/Sternrassler/httpgov/pkg/cacheentry"
)

// Fields parses a raw Vary header into lowercased field names. A second
// return value reports whether the header contains "*", which always
// misses regardless of the listed fields.
func Fields(varyHeader string) (fields []string, matchesNone bool) {
	if varyHeader == "" {
		return nil, false
	}
	for _, part := range strings.Split(varyHeader, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if name == "*" {
			return nil, true
		}
		fields = append(fields, name)
	}
	return fields, false
}

// Capture records the request-header values for exactly the fields listed
// in Vary, to be stored on the envelope at write-back time.
func Capture(varyHeader string, reqHeaders http.Header) map[string]*string {
	fields, matchesNone := Fields(varyHeader)
	if matchesNone || len(fields) == 0 {
		return nil
	}
	captured := make(map[string]*string, len(fields))
	for _, name := range fields {
		if vals, ok := reqHeaders[http.CanonicalHeaderKey(name)]; ok && len(vals) > 0 {
			v := vals[0]
			captured[name] = &v
		} else {
			captured[name] = nil
		}
	}
	return captured
}

// Matches reports whether a cached entry's captured Vary values agree with
// the current request's headers. "Vary: *" never matches. An entry with no
// Vary header always matches.
func Matches(e *cacheentry.Entry, reqHeaders http.Header) bool {
	fields, matchesNone := Fields(e.VaryHeaders)
	if matchesNone {
		return false
	}
	for _, name := range fields {
		captured := e.VaryValues[name]
		current := currentHeaderValue(name, reqHeaders)
		if !equalOrBothAbsent(captured, current) {
			return false
		}
	}
	return true
}

func currentHeaderValue(name string, reqHeaders http.Header) *string {
	if vals, ok := reqHeaders[http.CanonicalHeaderKey(name)]; ok && len(vals) > 0 {
		v := vals[0]
		return &v
	}
	return nil
}

func equalOrBothAbsent(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
