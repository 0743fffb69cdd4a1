package bridge

import (
	"math"

	"github.com/nerrad567/venus-bridge/internal/infrastructure/dbus"
)

// Converter maps a Signal K value to the value exported on Venus OS, or
// back. ok is false when the input cannot be converted.
type Converter func(v any) (out any, ok bool)

// kelvinThreshold separates Kelvin readings from Celsius ones.
const kelvinThreshold = 200

func number(v any) (float64, bool) {
	return dbus.ToFloat(v)
}

// identity passes numbers, strings and booleans through unchanged.
func identity(v any) (any, bool) {
	switch v.(type) {
	case float64, string, bool:
		return v, true
	}
	f, ok := number(v)
	return f, ok
}

// numeric rejects anything that is not a number.
func numeric(v any) (any, bool) {
	if _, isBool := v.(bool); isBool {
		return nil, false
	}
	return number(v)
}

// kelvinToCelsius converts temperatures above 200 from K to °C; lower
// values are taken to be °C already.
func kelvinToCelsius(v any) (any, bool) {
	f, ok := numeric(v)
	if !ok {
		return nil, false
	}
	t := f.(float64)
	if t > kelvinThreshold {
		t -= 273.15
	}
	return t, true
}

// fractionToPercent scales ratios in [0, 1] to percent. Values above 1 are
// taken to be percent already.
func fractionToPercent(v any) (any, bool) {
	f, ok := numeric(v)
	if !ok {
		return nil, false
	}
	p := f.(float64)
	if p <= 1 {
		p *= 100
	}
	return p, true
}

// fractionToPercentInt is fractionToPercent rounded to a whole percent.
func fractionToPercentInt(v any) (any, bool) {
	p, ok := fractionToPercent(v)
	if !ok {
		return nil, false
	}
	return int(math.Round(p.(float64))), true
}

// pascalToHectopascal converts Pa to hPa.
func pascalToHectopascal(v any) (any, bool) {
	f, ok := numeric(v)
	if !ok {
		return nil, false
	}
	return f.(float64) / 100, true
}

// boolToInt maps on/off to 1/0.
func boolToInt(v any) (any, bool) {
	if b, ok := v.(bool); ok {
		if b {
			return 1, true
		}
		return 0, true
	}
	f, ok := number(v)
	if !ok {
		return nil, false
	}
	if f != 0 {
		return 1, true
	}
	return 0, true
}

// intToBool is the reverse of boolToInt.
func intToBool(v any) (any, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	f, ok := number(v)
	if !ok {
		return nil, false
	}
	return f != 0, true
}

// percentToFraction is the reverse of fractionToPercent, clamped to [0, 1].
func percentToFraction(v any) (any, bool) {
	f, ok := numeric(v)
	if !ok {
		return nil, false
	}
	r := f.(float64) / 100
	return math.Max(0, math.Min(1, r)), true
}
