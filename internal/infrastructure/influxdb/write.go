package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/venus-bridge/internal/history"
)

// Measurement names.
const (
	MeasurementBatteryHistory = "battery_history"
	MeasurementReading        = "device_reading"
)

// WriteBatteryHistory records the cumulative history of one battery.
// The write is non-blocking.
func (c *Client) WriteBatteryHistory(basePath string, rec history.Record, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(batteryHistoryPoint(basePath, rec, at))
}

// WriteReading records one numeric value exported on a device path, e.g.
// ("electrical.batteries.house", "/Dc/0/Voltage", 12.9).
func (c *Client) WriteReading(basePath, path string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(readingPoint(basePath, path, value, at))
}

func batteryHistoryPoint(basePath string, rec history.Record, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementBatteryHistory,
		map[string]string{"base_path": basePath},
		map[string]interface{}{
			"min_voltage":       rec.MinVoltage,
			"max_voltage":       rec.MaxVoltage,
			"discharged_energy": rec.DischargedEnergy,
			"charged_energy":    rec.ChargedEnergy,
			"total_ah_drawn":    rec.TotalAhDrawn,
		},
		at,
	)
}

func readingPoint(basePath, path string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementReading,
		map[string]string{
			"base_path": basePath,
			"path":      path,
		},
		map[string]interface{}{"value": value},
		at,
	)
}
