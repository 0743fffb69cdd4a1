package influxdb

import (
	"testing"
	"time"

	"github.com/nerrad567/venus-bridge/internal/history"
	"github.com/nerrad567/venus-bridge/internal/infrastructure/config"
)

func TestBatteryHistoryPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := history.Record{
		MinVoltage:       11.9,
		MaxVoltage:       14.4,
		DischargedEnergy: 1.25,
		ChargedEnergy:    0.75,
		TotalAhDrawn:     104.5,
	}

	p := batteryHistoryPoint("electrical.batteries.house", rec, at)

	if p.Name() != MeasurementBatteryHistory {
		t.Errorf("Name() = %q", p.Name())
	}
	if !p.Time().Equal(at) {
		t.Errorf("Time() = %v", p.Time())
	}
	tags := p.TagList()
	if len(tags) != 1 || tags[0].Key != "base_path" || tags[0].Value != "electrical.batteries.house" {
		t.Errorf("tags = %v", tags)
	}

	want := map[string]float64{
		"min_voltage":       11.9,
		"max_voltage":       14.4,
		"discharged_energy": 1.25,
		"charged_energy":    0.75,
		"total_ah_drawn":    104.5,
	}
	fields := p.FieldList()
	if len(fields) != len(want) {
		t.Fatalf("got %d fields, want %d", len(fields), len(want))
	}
	for _, f := range fields {
		if f.Value != want[f.Key] {
			t.Errorf("field %s = %v, want %v", f.Key, f.Value, want[f.Key])
		}
	}
}

func TestReadingPoint(t *testing.T) {
	p := readingPoint("tanks.freshWater.0", "/Level", 42.5, time.Unix(0, 0))

	if p.Name() != MeasurementReading {
		t.Errorf("Name() = %q", p.Name())
	}
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["base_path"] != "tanks.freshWater.0" || tags["path"] != "/Level" {
		t.Errorf("tags = %v", tags)
	}
	fields := p.FieldList()
	if len(fields) != 1 || fields[0].Key != "value" || fields[0].Value != 42.5 {
		t.Errorf("fields = %v", fields)
	}
}

func TestWrites_NotConnected(t *testing.T) {
	var c *Client
	c.WriteBatteryHistory("electrical.batteries.house", history.Record{}, time.Now())
	c.WriteReading("electrical.batteries.house", "/Soc", 50, time.Now())

	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
}

func TestWriteOptions(t *testing.T) {
	tests := []struct {
		name      string
		batch     int
		flush     int
		wantBatch uint
		wantFlush uint
	}{
		{"configured", 500, 2, 500, 2000},
		{"defaults", 0, 0, defaultBatchSize, 10000},
		{"negative", -1, -1, defaultBatchSize, 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := writeOptions(config.InfluxDBConfig{BatchSize: tt.batch, FlushInterval: tt.flush})
			if got := opts.BatchSize(); got != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", got, tt.wantBatch)
			}
			if got := opts.FlushInterval(); got != tt.wantFlush {
				t.Errorf("FlushInterval() = %d, want %d", got, tt.wantFlush)
			}
			if got := opts.Precision(); got != time.Millisecond {
				t.Errorf("Precision() = %v, want 1ms", got)
			}
		})
	}
}
