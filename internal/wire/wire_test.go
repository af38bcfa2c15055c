package wire

import (
	"encoding/json"
	"testing"
)

func obj(t *testing.T, s string) Object {
	t.Helper()
	o, ok := AsObject(json.RawMessage(s))
	if !ok {
		t.Fatalf("AsObject(%s) failed", s)
	}
	return o
}

func TestCrucial(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`{"crucial":1}`, true},
		{`{"crucial":1.0}`, true},
		{`{"crucial":true}`, true},
		{`{"crucial":"1"}`, true},
		{`{"crucial":0}`, false},
		{`{"crucial":2}`, false},
		{`{"crucial":false}`, false},
		{`{"crucial":null}`, false},
		{`{"crucial":"yes"}`, false},
		{`{}`, false},
	}
	for _, tt := range tests {
		if got := obj(t, tt.in).Crucial(); got != tt.want {
			t.Errorf("Crucial(%s) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFieldAccessors(t *testing.T) {
	o := obj(t, `{"size":64,"half":64.5,"id":"64_1_car","nil":null}`)
	if n, ok := o.Int("size"); !ok || n != 64 {
		t.Errorf("Int(size) = %d, %v", n, ok)
	}
	if _, ok := o.Int("half"); ok {
		t.Error("Int(half) should reject non-integral numbers")
	}
	if _, ok := o.Int("id"); ok {
		t.Error("Int(id) should reject strings")
	}
	if s, ok := o.String("id"); !ok || s != "64_1_car" {
		t.Errorf("String(id) = %q, %v", s, ok)
	}
	if _, ok := o.String("nil"); ok {
		t.Error("String(nil) should reject null")
	}
	if !o.Has("nil") || o.Has("missing") {
		t.Error("Has() mismatch")
	}
}

func TestAsArrayAndObject(t *testing.T) {
	if _, ok := AsArray(json.RawMessage(` [1, "a", {}] `)); !ok {
		t.Error("AsArray should accept arrays")
	}
	if _, ok := AsArray(json.RawMessage(`{"a":1}`)); ok {
		t.Error("AsArray should reject objects")
	}
	if _, ok := AsObject(json.RawMessage(`"64_1_car"`)); ok {
		t.Error("AsObject should reject strings")
	}
}
