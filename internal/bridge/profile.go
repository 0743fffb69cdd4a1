package bridge

import (
	"github.com/nerrad567/venus-bridge/internal/infrastructure/dbus"
	"github.com/nerrad567/venus-bridge/internal/naming"
	"github.com/nerrad567/venus-bridge/internal/vedbus"
)

// Venus OS paths written by the bridge beyond the common management set.
const (
	PathDcTemperature      = "/Dc/0/Temperature"
	PathCapacity           = "/Capacity"
	PathHistoryMinVoltage  = "/History/MinimumVoltage"
	PathHistoryMaxVoltage  = "/History/MaximumVoltage"
	PathHistoryDischarged  = "/History/DischargedEnergy"
	PathHistoryCharged     = "/History/ChargedEnergy"
	PathHistoryTotalAh     = "/History/TotalAhDrawn"
	PathLevel              = "/Level"
	PathRemaining          = "/Remaining"
	PathVolume             = "/Volume"
	PathFluidType          = "/FluidType"
	PathRawValue           = "/RawValue"
	PathStatus             = "/Status"
	PathState              = "/State"
	PathDimmingLevel       = "/DimmingLevel"
	PathPosition           = "/Position"
	PathRelayState         = "/Relay/0/State"
	PathTemperature        = "/Temperature"
	PathTemperatureType    = "/TemperatureType"
	PathHumidity           = "/Humidity"
	PathPressure           = "/Pressure"
	temperatureTypeGeneric = 2
)

// Mapping translates one Signal K leaf to a Venus OS path.
type Mapping struct {
	Leaf    string
	Path    string
	Kind    dbus.Kind
	Unit    string
	Convert Converter

	// Reverse is set for paths whose remote writes become Signal K PUTs.
	Reverse Converter
}

// Profile is the static description of one device class.
type Profile struct {
	Type        naming.DeviceType
	ServiceType string
	ProductID   int
	ProductName string
	Static      []vedbus.Property
	Mappings    []Mapping
}

// lookup returns the mapping for a Signal K leaf.
func (p Profile) lookup(leaf string) (Mapping, bool) {
	for _, m := range p.Mappings {
		if m.Leaf == leaf {
			return m, true
		}
	}
	return Mapping{}, false
}

// reverse returns the writable mapping for a Venus OS path.
func (p Profile) reverse(path string) (Mapping, bool) {
	for _, m := range p.Mappings {
		if m.Path == path && m.Reverse != nil {
			return m, true
		}
	}
	return Mapping{}, false
}

func double(path, unit string) vedbus.Property {
	return vedbus.Property{Path: path, Kind: dbus.KindDouble, Unit: unit}
}

// Product ids of the virtual devices.
const (
	ProductIDBattery     = 0xC030
	ProductIDTank        = 0xC031
	ProductIDSwitch      = 0xC032
	ProductIDEnvironment = 0xC033
)

// profiles holds every supported device class.
var profiles = map[naming.DeviceType]Profile{
	naming.Battery: {
		Type:        naming.Battery,
		ServiceType: "battery",
		ProductID:   ProductIDBattery,
		ProductName: "Signal K Battery",
		Static: []vedbus.Property{
			double(vedbus.PathSoc, "%"),
			double(vedbus.PathDcVoltage, "V"),
			double(vedbus.PathDcCurrent, "A"),
			double(vedbus.PathDcPower, "W"),
			double(PathDcTemperature, "C"),
			double(vedbus.PathConsumedAmphours, "Ah"),
			{Path: vedbus.PathTimeToGo, Kind: dbus.KindInteger, Unit: "s"},
			double(PathCapacity, "Ah"),
			double(PathHistoryMinVoltage, "V"),
			double(PathHistoryMaxVoltage, "V"),
			double(PathHistoryDischarged, "kWh"),
			double(PathHistoryCharged, "kWh"),
			double(PathHistoryTotalAh, "Ah"),
			{Path: PathRelayState, Kind: dbus.KindInteger},
		},
		Mappings: []Mapping{
			{Leaf: "voltage", Path: vedbus.PathDcVoltage, Kind: dbus.KindDouble, Unit: "V", Convert: numeric},
			{Leaf: "current", Path: vedbus.PathDcCurrent, Kind: dbus.KindDouble, Unit: "A", Convert: numeric},
			{Leaf: "power", Path: vedbus.PathDcPower, Kind: dbus.KindDouble, Unit: "W", Convert: numeric},
			{Leaf: "temperature", Path: PathDcTemperature, Kind: dbus.KindDouble, Unit: "C", Convert: kelvinToCelsius},
			{Leaf: "capacity.stateOfCharge", Path: vedbus.PathSoc, Kind: dbus.KindDouble, Unit: "%", Convert: fractionToPercent},
			{Leaf: "capacity.timeRemaining", Path: vedbus.PathTimeToGo, Kind: dbus.KindInteger, Unit: "s", Convert: numeric},
			{Leaf: "capacity.nominal", Path: PathCapacity, Kind: dbus.KindDouble, Unit: "Ah", Convert: numeric},
			{Leaf: "relay.state", Path: PathRelayState, Kind: dbus.KindInteger, Convert: boolToInt},
		},
	},

	naming.Tank: {
		Type:        naming.Tank,
		ServiceType: "tank",
		ProductID:   ProductIDTank,
		ProductName: "Signal K Tank",
		Static: []vedbus.Property{
			double(PathLevel, "%"),
			double(PathCapacity, "m3"),
			double(PathRemaining, "m3"),
			double(PathVolume, "m3"),
			{Path: PathFluidType, Kind: dbus.KindInteger},
			{Path: PathStatus, Value: 0, Kind: dbus.KindInteger},
		},
		Mappings: []Mapping{
			{Leaf: "currentLevel", Path: PathLevel, Kind: dbus.KindDouble, Unit: "%", Convert: fractionToPercent},
			{Leaf: "capacity", Path: PathCapacity, Kind: dbus.KindDouble, Unit: "m3", Convert: numeric},
			{Leaf: "currentVolume", Path: PathRemaining, Kind: dbus.KindDouble, Unit: "m3", Convert: numeric},
			{Leaf: "voltage", Path: PathRawValue, Kind: dbus.KindDouble, Unit: "V", Convert: numeric},
			{Leaf: "name", Path: vedbus.PathCustomName, Kind: dbus.KindString, Convert: identity},
		},
	},

	naming.Switch: {
		Type:        naming.Switch,
		ServiceType: "switch",
		ProductID:   ProductIDSwitch,
		ProductName: "Signal K Switch",
		Static: []vedbus.Property{
			{Path: PathState, Kind: dbus.KindInteger},
			{Path: PathDimmingLevel, Kind: dbus.KindInteger, Unit: "%"},
			{Path: PathPosition, Kind: dbus.KindInteger},
		},
		Mappings: []Mapping{
			{Leaf: "state", Path: PathState, Kind: dbus.KindInteger, Convert: boolToInt, Reverse: intToBool},
			{Leaf: "dimmingLevel", Path: PathDimmingLevel, Kind: dbus.KindInteger, Unit: "%",
				Convert: fractionToPercentInt, Reverse: percentToFraction},
			{Leaf: "position", Path: PathPosition, Kind: dbus.KindInteger, Convert: numeric},
		},
	},

	naming.Environment: {
		Type:        naming.Environment,
		ServiceType: "temperature",
		ProductID:   ProductIDEnvironment,
		ProductName: "Signal K Environment",
		Static: []vedbus.Property{
			double(PathTemperature, "C"),
			double(PathHumidity, "%"),
			double(PathPressure, "hPa"),
			{Path: PathTemperatureType, Value: temperatureTypeGeneric, Kind: dbus.KindInteger},
		},
		Mappings: []Mapping{
			{Leaf: "temperature", Path: PathTemperature, Kind: dbus.KindDouble, Unit: "C", Convert: kelvinToCelsius},
			{Leaf: "humidity", Path: PathHumidity, Kind: dbus.KindDouble, Unit: "%", Convert: fractionToPercent},
			{Leaf: "relativeHumidity", Path: PathHumidity, Kind: dbus.KindDouble, Unit: "%", Convert: fractionToPercent},
			{Leaf: "pressure", Path: PathPressure, Kind: dbus.KindDouble, Unit: "hPa", Convert: pascalToHectopascal},
		},
	},
}

// ProfileFor returns the profile of a device class.
func ProfileFor(t naming.DeviceType) (Profile, bool) {
	p, ok := profiles[t]
	return p, ok
}
