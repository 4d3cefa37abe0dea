package fingerprint

import "testing"

func TestCompute_KeyOrderIndependent(t *testing.T) {
	a, err := Compute("https://api.example.com/x?a=1&b=2")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compute("https://api.example.com/x?b=2&a=1")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("expected same digest regardless of key order, got %s vs %s", a, b)
	}
}

func TestCompute_PrimitiveCoercionCollides(t *testing.T) {
	digest := func(p Params) string { return ComputeParams("https", "api.example.com", "/x", p) }

	a := digest(Params{"n": {Int(10)}})
	b := digest(Params{"n": {Str("10")}})
	if a != b {
		t.Fatalf("Int(10) and Str(\"10\") should collide, got %s vs %s", a, b)
	}

	c := digest(Params{"ok": {Bool(true)}})
	d := digest(Params{"ok": {Str("true")}})
	if c != d {
		t.Fatalf("Bool(true) and Str(\"true\") should collide, got %s vs %s", c, d)
	}
}

func TestCompute_NullPreservedUndefinedOmitted(t *testing.T) {
	digest := func(p Params) string { return ComputeParams("https", "api.example.com", "/x", p) }

	withNull := digest(Params{"a": {Null()}})
	omitted := digest(Params{})
	if withNull == omitted {
		t.Fatalf("a null-valued key must differ from an omitted key")
	}

	withEmptyStr := digest(Params{"a": {Str("")}})
	if withNull == withEmptyStr {
		t.Fatalf("null must differ from an empty string value")
	}
}

func TestCompute_RepeatedKeysOrderSignificant(t *testing.T) {
	digest := func(p Params) string { return ComputeParams("https", "api.example.com", "/x", p) }

	ab := digest(Params{"tag": {Str("a"), Str("b")}})
	ba := digest(Params{"tag": {Str("b"), Str("a")}})
	abc := digest(Params{"tag": {Str("a"), Str("b"), Str("c")}})

	if ab == ba {
		t.Fatalf("tag=a&tag=b must differ from tag=b&tag=a")
	}
	if ab == abc {
		t.Fatalf("tag=a&tag=b must differ from tag=a&tag=b&tag=c")
	}
}

func TestCompute_OriginDiscrimination(t *testing.T) {
	a, _ := Compute("https://api.example.com/x?a=1")
	b, _ := Compute("https://other.example.com/x?a=1")
	if a == b {
		t.Fatalf("different origins with same path/query must produce different digests")
	}
}

func TestCompute_Deterministic(t *testing.T) {
	a, _ := Compute("https://api.example.com/x?a=1&b=2")
	b, _ := Compute("https://api.example.com/x?a=1&b=2")
	if a != b {
		t.Fatalf("expected deterministic digest")
	}
	if len(a) != 64 {
		t.Fatalf("expected 256-bit hex digest (64 chars), got %d", len(a))
	}
}
