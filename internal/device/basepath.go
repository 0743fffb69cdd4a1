package device

import (
	"strings"

	"github.com/nerrad567/venus-bridge/internal/naming"
)

// tankLeaves are the tank readings stripped to find a tank's base path.
var tankLeaves = map[string]bool{
	"currentLevel":  true,
	"capacity":      true,
	"name":          true,
	"currentVolume": true,
	"voltage":       true,
}

// environmentLeaves are the measurements stripped from environment paths.
var environmentLeaves = map[string]bool{
	"temperature":      true,
	"humidity":         true,
	"relativeHumidity": true,
	"pressure":         true,
}

// Classify returns the device type and base path for a Signal K path.
// ok is false when the path belongs to no supported device.
//
//	electrical.batteries.<id>.…   battery, first three segments
//	electrical.switches.<id>.…    switch, first three segments
//	tanks.<fluid>.<id>.<leaf>     tank, leaf stripped
//	environment.<…>.<measurement> environment, measurement stripped
func Classify(path string) (deviceType naming.DeviceType, basePath string, ok bool) {
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return "", "", false
		}
	}

	switch {
	case len(parts) >= 4 && parts[0] == "electrical" && parts[1] == "batteries":
		return naming.Battery, strings.Join(parts[:3], "."), true

	case len(parts) >= 4 && parts[0] == "electrical" && parts[1] == "switches":
		return naming.Switch, strings.Join(parts[:3], "."), true

	case len(parts) == 4 && parts[0] == "tanks" && tankLeaves[parts[3]]:
		return naming.Tank, strings.Join(parts[:3], "."), true

	case len(parts) >= 3 && parts[0] == "environment" && environmentLeaves[parts[len(parts)-1]]:
		return naming.Environment, strings.Join(parts[:len(parts)-1], "."), true
	}
	return "", "", false
}

// Leaf returns the part of path below basePath ("capacity.stateOfCharge").
func Leaf(path, basePath string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path, basePath), ".")
}

// subtypeKey groups devices for the naming sibling count
// ("electrical.batteries", "tanks.freshWater").
func subtypeKey(basePath string) string {
	parts := strings.SplitN(basePath, ".", 3)
	if len(parts) < 2 {
		return basePath
	}
	return parts[0] + "." + parts[1]
}
