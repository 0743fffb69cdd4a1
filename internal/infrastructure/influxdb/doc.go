// Package influxdb exports bridge telemetry to InfluxDB v2.
//
// Two measurements are written:
//   - battery_history: the cumulative per-battery figures (voltage range,
//     charged/discharged energy, Ah drawn), tagged by base_path
//   - device_reading: every numeric value exported to Venus OS, tagged by
//     base_path and D-Bus path
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteReading("electrical.batteries.house", "/Dc/0/Voltage", 12.9, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; asynchronous write
// errors are delivered to the SetOnError callback.
package influxdb
