package dbus

import (
	"errors"
	"math"
	"testing"

	godbus "github.com/godbus/dbus/v5"
)

func TestWrap_NilIsInvalidSentinel(t *testing.T) {
	for _, kind := range []Kind{KindString, KindInteger, KindDouble, KindBoolean} {
		v, err := Wrap(kind, nil)
		if err != nil {
			t.Fatalf("Wrap(%v, nil) error = %v", kind, err)
		}
		if v.Signature().String() != "ai" {
			t.Errorf("Wrap(%v, nil) signature = %s, want ai", kind, v.Signature())
		}
		if !IsInvalid(v) {
			t.Errorf("Wrap(%v, nil) is not the invalid sentinel", kind)
		}
		if Unwrap(v) != nil {
			t.Errorf("Unwrap(invalid) = %v, want nil", Unwrap(v))
		}
	}
}

func TestWrap_Scalars(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		value any
		want  any
		sig   string
	}{
		{"string", KindString, "Battery", "Battery", "s"},
		{"string from number", KindString, 12, "12", "s"},
		{"integer", KindInteger, 42, int32(42), "i"},
		{"integer rounds", KindInteger, 41.6, int32(42), "i"},
		{"integer from bool", KindInteger, true, int32(1), "i"},
		{"double", KindDouble, 12.5, 12.5, "d"},
		{"double from int", KindDouble, int64(3), 3.0, "d"},
		{"boolean", KindBoolean, false, false, "b"},
		{"boolean from number", KindBoolean, 1, true, "b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Wrap(tt.kind, tt.value)
			if err != nil {
				t.Fatalf("Wrap() error = %v", err)
			}
			if v.Value() != tt.want {
				t.Errorf("Wrap() value = %#v, want %#v", v.Value(), tt.want)
			}
			if v.Signature().String() != tt.sig {
				t.Errorf("Wrap() signature = %s, want %s", v.Signature(), tt.sig)
			}
			if IsInvalid(v) {
				t.Error("scalar reported as invalid")
			}
		})
	}
}

func TestWrap_Errors(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		value   any
		wantErr error
	}{
		{"unsupported kind", Kind(99), 1, ErrUnsupportedKind},
		{"NaN", KindDouble, math.NaN(), ErrTypeMismatch},
		{"Inf", KindInteger, math.Inf(1), ErrTypeMismatch},
		{"non-numeric string", KindDouble, "abc", ErrTypeMismatch},
		{"struct", KindInteger, struct{}{}, ErrTypeMismatch},
		{"overflow", KindInteger, 1e12, ErrTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Wrap(tt.kind, tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Wrap() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsInvalid_NonEmptyArray(t *testing.T) {
	if IsInvalid(godbus.MakeVariant([]int32{1})) {
		t.Error("non-empty int array treated as invalid")
	}
	if IsInvalid(godbus.MakeVariant(int32(0))) {
		t.Error("zero treated as invalid")
	}
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"s": KindString, "string": KindString,
		"i": KindInteger, "integer": KindInteger,
		"d": KindDouble, "number": KindDouble,
		"b": KindBoolean, "boolean": KindBoolean,
	}
	for in, want := range tests {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseKind("ay"); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("ParseKind(ay) error = %v, want ErrUnsupportedKind", err)
	}
}
