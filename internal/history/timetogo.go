package history

import (
	"math"
	"time"
)

// Time-to-go fallback: a full battery is assumed to last a day, and no
// estimate is shorter than half an hour.
const (
	fullChargeRuntime = 24 * time.Hour
	minTimeToGo       = 30 * time.Minute
)

// BatteryStatus carries the inputs for TimeToGo. Use NaN for absent values.
type BatteryStatus struct {
	// TimeRemaining is an explicit estimate in seconds, if the source has one.
	TimeRemaining float64

	// Capacity is the nominal capacity in Ah.
	Capacity float64

	// StateOfCharge is a fraction in [0, 1].
	StateOfCharge float64

	// Current is the battery current in A, negative when discharging.
	Current float64
}

// TimeToGo returns the estimated time to go in whole seconds. ok is false
// when no estimate can be made.
func TimeToGo(st BatteryStatus) (seconds int, ok bool) {
	if finite(st.TimeRemaining) && st.TimeRemaining > 0 {
		return int(math.Round(st.TimeRemaining)), true
	}

	socOK := finite(st.StateOfCharge) && st.StateOfCharge >= 0
	if socOK && finite(st.Capacity) && st.Capacity > 0 && finite(st.Current) && st.Current != 0 {
		var hours float64
		if st.Current < 0 {
			hours = st.Capacity * st.StateOfCharge / math.Abs(st.Current)
		} else {
			hours = st.Capacity * (1 - st.StateOfCharge) / st.Current
		}
		if hours >= 0 {
			return int(math.Round(hours * 3600)), true
		}
	}

	if !socOK {
		return 0, false
	}
	fallback := time.Duration(st.StateOfCharge * float64(fullChargeRuntime))
	if fallback < minTimeToGo {
		fallback = minTimeToGo
	}
	return int(fallback / time.Second), true
}
