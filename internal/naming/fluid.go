package naming

import "strings"

// Venus OS tank fluid types (/FluidType).
const (
	FluidFuel        = 0
	FluidFreshWater  = 1
	FluidWasteWater  = 2
	FluidLiveWell    = 3
	FluidLubrication = 4
	FluidBlackWater  = 5
	FluidGasoline    = 6
	FluidDiesel      = 7
	FluidLPG         = 8
	FluidBallast     = 11
)

var fluidTypes = map[string]int{
	"fuel":        FluidFuel,
	"freshWater":  FluidFreshWater,
	"wasteWater":  FluidWasteWater,
	"liveWell":    FluidLiveWell,
	"lubrication": FluidLubrication,
	"blackWater":  FluidBlackWater,
	"gasoline":    FluidGasoline,
	"diesel":      FluidDiesel,
	"gas":         FluidLPG,
	"ballast":     FluidBallast,
}

// FluidType returns the fluid type for a tank path (tanks.<fluid>.<id>...).
// ok is false when the fluid is unknown.
func FluidType(path string) (fluid int, ok bool) {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return 0, false
	}
	fluid, ok = fluidTypes[parts[1]]
	return fluid, ok
}
