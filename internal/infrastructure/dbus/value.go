package dbus

import (
	"fmt"
	"math"
	"strconv"

	godbus "github.com/godbus/dbus/v5"
)

// Kind is the wire type of an exported value.
type Kind int

// Supported value kinds.
const (
	KindString Kind = iota
	KindInteger
	KindDouble
	KindBoolean
)

// String returns the D-Bus signature of the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "s"
	case KindInteger:
		return "i"
	case KindDouble:
		return "d"
	case KindBoolean:
		return "b"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind converts a type name ("string", "integer", "double", "boolean"
// or a single-letter signature) into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "s", "string":
		return KindString, nil
	case "i", "int", "integer":
		return KindInteger, nil
	case "d", "double", "float", "number":
		return KindDouble, nil
	case "b", "bool", "boolean":
		return KindBoolean, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
	}
}

// invalidSignature is the signature of the invalid sentinel: an empty int32 array.
var invalidSignature = godbus.SignatureOf([]int32{})

// Invalid returns the variant Venus OS renders as "no data".
func Invalid() godbus.Variant {
	return godbus.MakeVariant([]int32{})
}

// IsInvalid reports whether v is the invalid sentinel.
func IsInvalid(v godbus.Variant) bool {
	if v.Signature() != invalidSignature {
		return false
	}
	arr, ok := v.Value().([]int32)
	return ok && len(arr) == 0
}

// Wrap encodes value as a variant of the given kind.
//
// A nil value encodes as the invalid sentinel regardless of kind. Numeric
// values are converted between integer and double; booleans encode as 0/1
// for numeric kinds.
func Wrap(kind Kind, value any) (godbus.Variant, error) {
	if value == nil {
		return Invalid(), nil
	}
	v, err := Coerce(kind, value)
	if err != nil {
		return godbus.Variant{}, err
	}
	return godbus.MakeVariant(v), nil
}

// Coerce converts value to the Go type backing kind:
// string, int32, float64 or bool.
func Coerce(kind Kind, value any) (any, error) {
	switch kind {
	case KindString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil

	case KindInteger:
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		if f > math.MaxInt32 || f < math.MinInt32 {
			return nil, fmt.Errorf("%w: %v overflows int32", ErrTypeMismatch, value)
		}
		return int32(math.Round(f)), nil

	case KindDouble:
		return toFloat(value)

	case KindBoolean:
		switch b := value.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a boolean", ErrTypeMismatch, b)
			}
			return parsed, nil
		}
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		return f != 0, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKind, kind)
	}
}

// Unwrap returns the Go value inside v, or nil for the invalid sentinel.
func Unwrap(v godbus.Variant) any {
	if IsInvalid(v) {
		return nil
	}
	return v.Value()
}

// ToFloat converts a numeric (or boolean) value to float64.
func ToFloat(value any) (float64, bool) {
	f, err := toFloat(value)
	return f, err == nil
}

func toFloat(value any) (float64, error) {
	var f float64
	switch n := value.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case bool:
		if n {
			f = 1
		}
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not numeric", ErrTypeMismatch, n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: %T", ErrTypeMismatch, value)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: non-finite number", ErrTypeMismatch)
	}
	return f, nil
}
