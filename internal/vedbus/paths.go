package vedbus

import (
	"fmt"
	"strconv"

	"github.com/nerrad567/venus-bridge/internal/infrastructure/dbus"
)

// Paths present on every device.
const (
	PathProcessName     = "/Mgmt/ProcessName"
	PathProcessVersion  = "/Mgmt/ProcessVersion"
	PathConnection      = "/Mgmt/Connection"
	PathDeviceInstance  = "/DeviceInstance"
	PathProductID       = "/ProductId"
	PathProductName     = "/ProductName"
	PathFirmwareVersion = "/FirmwareVersion"
	PathHardwareVersion = "/HardwareVersion"
	PathConnected       = "/Connected"
	PathCustomName      = "/CustomName"
	PathSerial          = "/Serial"
)

// Battery paths whose signals are always emitted.
const (
	PathSoc              = "/Soc"
	PathDcCurrent        = "/Dc/0/Current"
	PathDcVoltage        = "/Dc/0/Voltage"
	PathDcPower          = "/Dc/0/Power"
	PathConsumedAmphours = "/ConsumedAmphours"
	PathTimeToGo         = "/TimeToGo"
)

// managementPaths reject remote writes.
var managementPaths = map[string]bool{
	PathProcessName:    true,
	PathProcessVersion: true,
	PathDeviceInstance: true,
	PathProductID:      true,
	PathProductName:    true,
	PathConnected:      true,
	PathSerial:         true,
}

// criticalPaths get change signals even when the value did not change;
// systemcalc caches them and ignores unforced updates.
var criticalPaths = map[string]bool{
	PathSoc:              true,
	PathDcCurrent:        true,
	PathDcVoltage:        true,
	PathConsumedAmphours: true,
	PathTimeToGo:         true,
	PathDcPower:          true,
	PathSerial:           true,
	PathDeviceInstance:   true,
}

// IsManagement reports whether path rejects remote writes.
func IsManagement(path string) bool { return managementPaths[path] }

// IsCritical reports whether path always emits change signals.
func IsCritical(path string) bool { return criticalPaths[path] }

// Property is one exported path with its initial value.
type Property struct {
	Path  string
	Value any
	Kind  dbus.Kind
	Unit  string
}

// formatText renders the GetText representation of a value.
func formatText(v any, unit string) string {
	switch x := v.(type) {
	case nil:
		return "---"
	case float64:
		return strconv.FormatFloat(x, 'f', 2, 64) + unit
	case int32:
		return strconv.FormatInt(int64(x), 10) + unit
	case bool:
		if x {
			return "1"
		}
		return "0"
	case string:
		return x
	default:
		return fmt.Sprint(x) + unit
	}
}
