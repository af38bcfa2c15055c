// Package wire decodes the loosely typed JSON fields shared by manifests and
// result files. Scheduler outputs are produced by several independent tools,
// so the same field may arrive as a number, a bool, or a string.
package wire

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Object is a decoded JSON object with undecoded values.
type Object map[string]json.RawMessage

// AsObject decodes raw as a JSON object. ok is false for any other JSON type.
func AsObject(raw json.RawMessage) (Object, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var obj Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// AsArray decodes raw as a JSON array.
func AsArray(raw json.RawMessage) ([]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, false
	}
	return arr, true
}

// Has reports whether key is present, even with a null value.
func (o Object) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns the value of key when it is a JSON string.
func (o Object) String(key string) (string, bool) {
	raw, ok := o[key]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Float returns the value of key when it is a JSON number.
func (o Object) Float(key string) (float64, bool) {
	raw, ok := o[key]
	if !ok || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// Int returns the value of key when it is an integral JSON number.
func (o Object) Int(key string) (int, bool) {
	f, ok := o.Float(key)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// Crucial reports whether the crucial flag of the object equals 1.
// Accepts 1, 1.0, true and "1"; anything else, including absence, is false.
func (o Object) Crucial() bool {
	raw, ok := o["crucial"]
	if !ok {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch x := v.(type) {
	case float64:
		return x == 1
	case bool:
		return x
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return err == nil && n == 1
	}
	return false
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
