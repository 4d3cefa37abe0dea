// Package fingerprint computes a stable digest for an outbound GET request,
// used as the cache and dedupe key. The digest depends on origin (scheme,
// host, port), path, and normalized query parameters; it does not depend on
// key order or on the textual representation of primitive-typed values.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
)

// Value is a single query parameter value. A Null value is preserved in the
// digest (distinct from both absence and the empty string); there is no Go
// analogue of "undefined" on the wire, so omission is expressed by simply not
// adding the key to a Params map.
type Value struct {
	null bool
	str  string
}

// Str wraps a plain string value.
func Str(s string) Value { return Value{str: s} }

// Null returns the sentinel preserved-null value.
func Null() Value { return Value{null: true} }

// Int and Bool wrap primitive-typed values by their string form, so that
// Int(10) and Str("10") (or Bool(true) and Str("true")) collide as intended.
func Int(n int64) Value  { return Value{str: strconv.FormatInt(n, 10)} }
func Bool(b bool) Value  { return Value{str: strconv.FormatBool(b)} }

// Params is an ordered-per-key multimap of query parameters. The slice order
// for a given key is significant: "tag=a&tag=b" must hash differently than
// "tag=b&tag=a" and than "tag=a&tag=b&tag=c".
type Params map[string][]Value

// FromQuery builds Params from a parsed url.Values. Every value present on
// the wire is a plain string; there is no undefined/null distinction at this
// boundary.
func FromQuery(q url.Values) Params {
	p := make(Params, len(q))
	for k, vs := range q {
		vals := make([]Value, len(vs))
		for i, v := range vs {
			vals[i] = Str(v)
		}
		p[k] = vals
	}
	return p
}

// Compute returns the stable hex-encoded 256-bit digest for an absolute URL.
// Callers supply pre-validated, well-formed URLs; Compute never fails for
// those, consistent with the fingerprinter's no-failure contract.
func Compute(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return ComputeParams(u.Scheme, u.Host, u.Path, FromQuery(u.Query())), nil
}

// ComputeParams computes the digest directly from an origin, path, and an
// explicit Params multimap, letting callers express the null/omitted
// distinction explicitly for dynamically-typed query values.
func ComputeParams(scheme, host, path string, params Params) string {
	h := sha256.New()
	writeField(h, scheme)
	writeField(h, host)
	writeField(h, path)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writeUint(h, uint64(len(keys)))
	for _, k := range keys {
		writeField(h, k)
		vals := params[k]
		writeUint(h, uint64(len(vals)))
		for _, v := range vals {
			if v.null {
				writeUint(h, 0) // tag 0: null
			} else {
				writeUint(h, 1) // tag 1: string-typed value
				writeField(h, v.str)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField writes a length-prefixed byte string so that component
// boundaries can never be confused by delimiter collisions in the data.
func writeField(h interface{ Write([]byte) (int, error) }, s string) {
	writeUint(h, uint64(len(s)))
	h.Write([]byte(s))
}

func writeUint(h interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}
