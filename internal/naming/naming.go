// Package naming derives display names and unit classes for virtual devices
// from their Signal K paths.
package naming

import (
	"strconv"
	"strings"
	"unicode"
)

// DeviceType is the Venus OS device class a Signal K path maps to.
type DeviceType string

// Device types.
const (
	Battery     DeviceType = "battery"
	Tank        DeviceType = "tank"
	Switch      DeviceType = "switch"
	Environment DeviceType = "environment"
)

// labels maps a path subtype to its display label.
var labels = map[string]string{
	"batteries":   "Battery",
	"fuel":        "Fuel",
	"freshWater":  "Fresh Water",
	"wasteWater":  "Waste Water",
	"blackWater":  "Black Water",
	"liveWell":    "Live Well",
	"lubrication": "Lubrication",
	"gasoline":    "Gasoline",
	"diesel":      "Diesel",
	"gas":         "LPG",
	"ballast":     "Ballast",
	"switches":    "Switch",
	"inside":      "Inside",
	"outside":     "Outside",
	"water":       "Water",
}

// genericIDs are instance ids that are dropped when a subtype has one device.
var genericIDs = map[string]bool{
	"0":       true,
	"main":    true,
	"primary": true,
	"default": true,
}

// Name returns the display name for the device at path.
//
// path is split as domain.subtype.instanceId; siblingCount is the number of
// known devices of the same subtype including this one. A generic instance
// id is omitted when the device is the only one of its subtype. Numeric ids
// are shown 1-based.
func Name(path string, deviceType DeviceType, siblingCount int) string {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return capitalize(path)
	}

	titled := deviceType == Environment || deviceType == Switch

	subtype := parts[1]
	label, ok := labels[subtype]
	if !ok {
		if titled {
			label = titleCase(subtype)
		} else {
			label = capitalize(subtype)
		}
	}

	if len(parts) < 3 || parts[2] == "" {
		return label
	}
	id := parts[2]

	if genericIDs[id] && siblingCount <= 1 {
		return label
	}

	return label + " " + displayID(id, titled)
}

func displayID(id string, titled bool) string {
	if n, err := strconv.Atoi(id); err == nil {
		return strconv.Itoa(n + 1)
	}
	if titled {
		return titleCase(id)
	}
	return capitalize(id)
}

// capitalize upper-cases the first rune.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// titleCase turns camelCase into space separated Title Case:
// "anchorLight" becomes "Anchor Light".
func titleCase(s string) string {
	var b strings.Builder
	prevLower := false
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) && prevLower {
			b.WriteByte(' ')
		}
		if i == 0 {
			r = unicode.ToUpper(r)
		}
		b.WriteRune(r)
		prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
	}
	return b.String()
}
