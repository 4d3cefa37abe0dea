package cachecontrol

import (
	"reflect"
	"testing"
)

func intp(n int) *int { return &n }

func TestParse_Basic(t *testing.T) {
	d := Parse([]string{"max-age=3600, no-cache, must-revalidate"})
	if d.MaxAge == nil || *d.MaxAge != 3600 {
		t.Fatalf("expected max-age=3600, got %+v", d.MaxAge)
	}
	if !d.NoCache || !d.MustRevalidate {
		t.Fatalf("expected no-cache and must-revalidate set: %+v", d)
	}
}

func TestParse_CaseInsensitiveAndWhitespace(t *testing.T) {
	d := Parse([]string{"  MAX-AGE = 10 ,  NO-STORE  "})
	if d.MaxAge == nil || *d.MaxAge != 10 {
		t.Fatalf("expected max-age=10, got %+v", d.MaxAge)
	}
	if !d.NoStore {
		t.Fatalf("expected no-store set")
	}
}

func TestParse_UnknownDirectivesDropped(t *testing.T) {
	d := Parse([]string{"foo=bar, max-age=5"})
	if d.MaxAge == nil || *d.MaxAge != 5 {
		t.Fatalf("expected max-age=5 to survive unknown directive")
	}
}

func TestParse_MalformedNumericYieldsAbsent(t *testing.T) {
	d := Parse([]string{"max-age=notanumber"})
	if d.MaxAge != nil {
		t.Fatalf("expected nil MaxAge for malformed numeric, got %v", *d.MaxAge)
	}
}

func TestParse_EmptyOrAbsent(t *testing.T) {
	d := Parse(nil)
	if d != (Directives{}) {
		t.Fatalf("expected zeroed record for absent header")
	}
	d2 := Parse([]string{""})
	if d2 != (Directives{}) {
		t.Fatalf("expected zeroed record for empty header")
	}
}

func TestParse_QuotedArgument(t *testing.T) {
	d := Parse([]string{`max-age="42"`})
	if d.MaxAge == nil || *d.MaxAge != 42 {
		t.Fatalf("expected quoted numeric argument to parse, got %+v", d.MaxAge)
	}
}

func TestRoundTrip(t *testing.T) {
	d := Directives{
		MustRevalidate:       true,
		MaxAge:               intp(120),
		StaleWhileRevalidate: intp(30),
	}
	reparsed := Parse([]string{d.Serialize()})
	if !reflect.DeepEqual(reparsed, d) {
		t.Fatalf("round trip mismatch: %+v != %+v", reparsed, d)
	}
}
