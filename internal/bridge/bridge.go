package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/venus-bridge/internal/device"
	"github.com/nerrad567/venus-bridge/internal/history"
	"github.com/nerrad567/venus-bridge/internal/infrastructure/config"
	"github.com/nerrad567/venus-bridge/internal/infrastructure/dbus"
	"github.com/nerrad567/venus-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/venus-bridge/internal/naming"
	"github.com/nerrad567/venus-bridge/internal/signalk"
	"github.com/nerrad567/venus-bridge/internal/vedbus"
)

// Publisher sends MQTT messages. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Telemetry receives exported values. *influxdb.Client implements it.
type Telemetry interface {
	WriteReading(basePath, path string, value float64, at time.Time)
	WriteBatteryHistory(basePath string, rec history.Record, at time.Time)
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options wires a Bridge.
type Options struct {
	Bridge  config.BridgeConfig
	SignalK config.SignalKConfig
	Venus   config.VenusConfig
	QoS     byte
	Version string

	// Index derives local indexes. Default: device.HashIndexProvider.
	Index device.IndexProvider

	// Dial opens the bus connection of each new device.
	Dial vedbus.Dialer

	// Factory replaces the Venus OS service factory built on Dial.
	Factory device.Factory

	// History, Telemetry and Publisher are optional.
	History   *history.Engine
	Telemetry Telemetry
	Publisher Publisher
}

// battery holds the latest electrical readings of one battery. NaN marks
// a reading that has not arrived.
type battery struct {
	voltage, current, power      float64
	soc, capacity, timeRemaining float64
	powerSupplied                bool
}

type tank struct {
	capacity, level float64
}

// Bridge translates Signal K updates into Venus OS devices and forwards
// remote writes back as Signal K PUTs.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Dispatched updates for one device are applied in dispatch order, on
//     a worker goroutine owned by that device.
type Bridge struct {
	opts     Options
	registry *device.Registry
	parser   *signalk.Parser
	enabled  map[naming.DeviceType]bool

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	workersMu sync.Mutex
	workers   map[string]*worker
	stopped   bool

	mu        sync.Mutex
	sources   map[string]float64
	batteries map[string]*battery
	tanks     map[string]*tank

	now    func() time.Time
	logger Logger
}

// New creates a bridge and its device registry.
func New(opts Options) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		opts:   opts,
		parser: signalk.NewParser(opts.SignalK.SelfContext),
		enabled: map[naming.DeviceType]bool{
			naming.Battery:     opts.Bridge.Batteries,
			naming.Tank:        opts.Bridge.Tanks,
			naming.Switch:      opts.Bridge.Switches,
			naming.Environment: opts.Bridge.Environment,
		},
		sources:   make(map[string]float64),
		batteries: make(map[string]*battery),
		tanks:     make(map[string]*tank),
		now:       time.Now,
		logger:    noopLogger{},

		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		workers: make(map[string]*worker),
	}

	index := opts.Index
	if index == nil {
		index = device.HashIndexProvider{}
	}
	factory := opts.Factory
	if factory == nil {
		factory = b.newService
	}
	b.registry = device.NewRegistry(index, factory, opts.Venus.CreationWait)
	return b
}

// SetLogger sets the logger for the bridge, its registry and every device
// created afterwards.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
	b.registry.SetLogger(logger)
}

// Registry returns the device registry.
func (b *Bridge) Registry() *device.Registry {
	return b.registry
}

// newService builds and initialises the Venus OS service of a new device.
func (b *Bridge) newService(ctx context.Context, inst device.Instance) (device.Service, error) {
	prof, ok := ProfileFor(inst.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrUnknownDeviceType, inst.Type)
	}
	if b.opts.Dial == nil {
		return nil, errors.New("bridge: no bus dialer configured")
	}

	svc := vedbus.New(b.serviceConfig(prof, inst), b.opts.Dial)
	svc.SetLogger(b.logger)
	svc.SetOnWrite(func(path string, value any) {
		b.WriteBack(inst, path, value)
	})

	if err := svc.Init(ctx); err != nil {
		_ = svc.Close()
		return nil, err
	}
	return svc, nil
}

// serviceConfig describes the virtual device of inst.
func (b *Bridge) serviceConfig(prof Profile, inst device.Instance) vedbus.Config {
	v := b.opts.Venus

	static := append([]vedbus.Property(nil), prof.Static...)
	if inst.Type == naming.Tank {
		if fluid, ok := naming.FluidType(inst.BasePath); ok {
			static = append(static, vedbus.Property{Path: PathFluidType, Value: fluid, Kind: dbus.KindInteger})
		}
	}

	productName := prof.ProductName
	if v.ProductName != "" {
		productName = v.ProductName
	}

	return vedbus.Config{
		Namespace:       v.Namespace,
		ServiceType:     prof.ServiceType,
		InstanceToken:   InstanceToken(inst),
		LocalIndex:      inst.LocalIndex,
		DisplayName:     inst.DisplayName,
		Serial:          Serial(prof, inst),
		ProductID:       prof.ProductID,
		ProductName:     productName,
		ProcessName:     v.ProcessName,
		ProcessVersion:  b.opts.Version,
		FirmwareVersion: b.opts.Version,
		HardwareVersion: "virtual",
		Connection:      "Signal K " + inst.BasePath,
		Static:          static,
		SettingsService: v.SettingsService,

		HeartbeatInterval:         v.HeartbeatInterval,
		HealthInterval:            v.HealthInterval,
		RegistrationCheckInterval: v.RegistrationCheckInterval,
		CallTimeout:               v.CallTimeout,
		Backoff: vedbus.BackoffConfig{
			Initial:     v.Reconnect.InitialDelay,
			Max:         v.Reconnect.MaxDelay,
			MaxAttempts: v.Reconnect.MaxAttempts,
		},
	}
}

// InstanceToken is the last element of a device's service name.
func InstanceToken(inst device.Instance) string {
	return fmt.Sprintf("signalk_%03d", inst.LocalIndex)
}

// Serial is the serial number of a device: "SK", the first three letters of
// the service type and the local index ("SKBAT658").
func Serial(prof Profile, inst device.Instance) string {
	tag := strings.ToUpper(prof.ServiceType)
	if len(tag) > 3 {
		tag = tag[:3]
	}
	return fmt.Sprintf("SK%s%03d", tag, inst.LocalIndex)
}

// HandleMessage decodes one MQTT message and dispatches every update in
// it. Only decoding errors are returned; updates are applied asynchronously.
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	prefix := b.opts.SignalK.Prefix()
	topics := mqtt.Topics{}

	var (
		updates []signalk.Update
		err     error
	)
	if topic == topics.SignalKDelta(prefix) {
		updates, err = b.parser.ParseDelta(payload)
	} else {
		path, ok := topics.PathFromTopic(prefix, topic)
		if !ok {
			return nil
		}
		updates, err = b.parser.ParseValue(path, payload)
	}
	if err != nil {
		return err
	}

	for _, u := range updates {
		b.Dispatch(u.Path, u.Value)
	}
	return nil
}

// HandleUpdate applies one Signal K reading and returns once it is on the
// device. Paths that belong to no enabled device class, have no Venus OS
// mapping, or carry a value the mapped path cannot hold are ignored.
func (b *Bridge) HandleUpdate(ctx context.Context, path string, value any) error {
	b.recordSource(path, value)

	typ, base, ok := device.Classify(path)
	if !ok || !b.enabled[typ] {
		return nil
	}
	prof, ok := ProfileFor(typ)
	if !ok {
		return nil
	}
	m, ok := prof.lookup(device.Leaf(path, base))
	if !ok {
		b.logger.Debug("no mapping for path", "path", path)
		return nil
	}
	v, ok := m.Convert(value)
	if !ok {
		b.logger.Debug("value not convertible, ignored", "path", path, "value", value)
		return nil
	}

	dev, err := b.registry.GetOrCreate(ctx, path)
	if err != nil {
		return err
	}

	b.set(dev, m.Path, v, m.Kind, m.Unit)
	switch typ {
	case naming.Battery:
		b.updateBattery(dev, m.Path, v)
	case naming.Tank:
		b.updateTank(dev, m.Path, v)
	}
	return nil
}

// set writes one property and mirrors numbers to telemetry.
func (b *Bridge) set(dev *device.Device, path string, v any, kind dbus.Kind, unit string) {
	err := dev.Service.UpdateProperty(path, v, kind, unit)
	if err != nil && !errors.Is(err, vedbus.ErrNoSerial) {
		b.logger.Warn("updating property failed", "base_path", dev.BasePath, "path", path, "error", err)
		return
	}
	if b.opts.Telemetry == nil {
		return
	}
	if _, isBool := v.(bool); isBool {
		return
	}
	if f, ok := dbus.ToFloat(v); ok {
		b.opts.Telemetry.WriteReading(dev.BasePath, path, f, b.now())
	}
}

// recordSource caches the charge source currents.
func (b *Bridge) recordSource(path string, value any) {
	for _, src := range b.opts.Bridge.ChargeSourcePaths {
		if src != path {
			continue
		}
		if f, ok := dbus.ToFloat(value); ok {
			b.mu.Lock()
			b.sources[path] = f
			b.mu.Unlock()
		}
		return
	}
}

// sourceCurrentsLocked returns the two charge source readings, NaN where
// unknown. b.mu must be held.
func (b *Bridge) sourceCurrentsLocked() (float64, float64) {
	a, c := math.NaN(), math.NaN()
	if p := b.opts.Bridge.ChargeSourcePaths; len(p) == 2 {
		if f, ok := b.sources[p[0]]; ok {
			a = f
		}
		if f, ok := b.sources[p[1]]; ok {
			c = f
		}
	}
	return a, c
}

func newBattery() *battery {
	nan := math.NaN()
	return &battery{voltage: nan, current: nan, power: nan, soc: nan, capacity: nan, timeRemaining: nan}
}

// updateBattery derives power, history and time-to-go after a reading.
func (b *Bridge) updateBattery(dev *device.Device, path string, v any) {
	f, ok := dbus.ToFloat(v)
	if !ok {
		return
	}

	b.mu.Lock()
	st, found := b.batteries[dev.BasePath]
	if !found {
		st = newBattery()
		b.batteries[dev.BasePath] = st
	}
	switch path {
	case vedbus.PathDcVoltage:
		st.voltage = f
	case vedbus.PathDcCurrent:
		st.current = f
	case vedbus.PathDcPower:
		st.power = f
		st.powerSupplied = true
	case vedbus.PathSoc:
		st.soc = f / 100
	case PathCapacity:
		st.capacity = f
	case vedbus.PathTimeToGo:
		st.timeRemaining = f
	}
	snap := *st
	srcA, srcB := b.sourceCurrentsLocked()
	b.mu.Unlock()

	now := b.now()
	electrical := path == vedbus.PathDcVoltage || path == vedbus.PathDcCurrent || path == vedbus.PathDcPower

	if electrical && path != vedbus.PathDcPower && !snap.powerSupplied && finite(snap.voltage) && finite(snap.current) {
		b.set(dev, vedbus.PathDcPower, snap.voltage*snap.current, dbus.KindDouble, "W")
	}

	if electrical && b.opts.History != nil {
		s := history.NewSample(now)
		s.Voltage = snap.voltage
		s.Current = snap.current
		if snap.powerSupplied {
			s.Power = snap.power
		}
		s.SourceA, s.SourceB = srcA, srcB

		rec := b.opts.History.Update(dev.BasePath, s)
		b.publishHistory(dev, rec)
		if b.opts.Telemetry != nil {
			b.opts.Telemetry.WriteBatteryHistory(dev.BasePath, rec, now)
		}
	}

	if path != vedbus.PathTimeToGo && path != vedbus.PathDcVoltage && path != vedbus.PathDcPower {
		ttg, ok := history.TimeToGo(history.BatteryStatus{
			TimeRemaining: snap.timeRemaining,
			Capacity:      snap.capacity,
			StateOfCharge: snap.soc,
			Current:       snap.current,
		})
		if ok {
			b.set(dev, vedbus.PathTimeToGo, ttg, dbus.KindInteger, "s")
		}
	}
}

// publishHistory exports a battery's cumulative figures.
func (b *Bridge) publishHistory(dev *device.Device, rec history.Record) {
	b.set(dev, vedbus.PathConsumedAmphours, -rec.TotalAhDrawn, dbus.KindDouble, "Ah")
	b.set(dev, PathHistoryMinVoltage, rec.MinVoltage, dbus.KindDouble, "V")
	b.set(dev, PathHistoryMaxVoltage, rec.MaxVoltage, dbus.KindDouble, "V")
	b.set(dev, PathHistoryDischarged, rec.DischargedEnergy, dbus.KindDouble, "kWh")
	b.set(dev, PathHistoryCharged, rec.ChargedEnergy, dbus.KindDouble, "kWh")
	b.set(dev, PathHistoryTotalAh, rec.TotalAhDrawn, dbus.KindDouble, "Ah")
}

// updateTank derives /Volume from capacity and level.
func (b *Bridge) updateTank(dev *device.Device, path string, v any) {
	f, ok := dbus.ToFloat(v)
	if !ok {
		return
	}

	b.mu.Lock()
	st, found := b.tanks[dev.BasePath]
	if !found {
		st = &tank{capacity: math.NaN(), level: math.NaN()}
		b.tanks[dev.BasePath] = st
	}
	switch path {
	case PathCapacity:
		st.capacity = f
	case PathLevel:
		st.level = f
	default:
		b.mu.Unlock()
		return
	}
	capacity, level := st.capacity, st.level
	b.mu.Unlock()

	if finite(capacity) && finite(level) {
		b.set(dev, PathVolume, capacity*level/100, dbus.KindDouble, "m3")
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// WriteBack forwards an accepted remote write on a device as a Signal K
// PUT. Writes to paths without a reverse mapping are only logged.
func (b *Bridge) WriteBack(inst device.Instance, path string, value any) {
	prof, ok := ProfileFor(inst.Type)
	if !ok {
		return
	}
	m, ok := prof.reverse(path)
	if !ok {
		b.logger.Debug("remote write kept local", "base_path", inst.BasePath, "path", path)
		return
	}
	out, ok := m.Reverse(value)
	if !ok {
		b.logger.Warn("remote write not convertible", "base_path", inst.BasePath, "path", path, "value", value)
		return
	}
	if b.opts.Publisher == nil {
		b.logger.Debug("no publisher, remote write dropped", "base_path", inst.BasePath, "path", path)
		return
	}

	req, err := signalk.NewPut(b.opts.SignalK.SelfContext, inst.BasePath+"."+m.Leaf, out)
	if err != nil {
		b.logger.Warn("building put request failed", "base_path", inst.BasePath, "error", err)
		return
	}
	payload, err := req.Encode()
	if err != nil {
		b.logger.Warn("encoding put request failed", "base_path", inst.BasePath, "error", err)
		return
	}

	topic := mqtt.Topics{}.SignalKPut(b.opts.SignalK.Prefix(), b.opts.SignalK.PutTopic)
	if err := b.opts.Publisher.Publish(topic, payload, b.opts.QoS, false); err != nil {
		b.logger.Error("publishing put request failed", "topic", topic, "error", err)
		return
	}
	b.logger.Info("remote write forwarded",
		"path", req.Put.Path,
		"value", out,
		"request_id", req.RequestID,
	)
}

// LogStatus logs the connection state of every device.
func (b *Bridge) LogStatus() {
	b.registry.ForEach(func(d *device.Device) {
		b.logger.Info("device status",
			"base_path", d.BasePath,
			"type", string(d.Type),
			"name", d.DisplayName,
			"status", d.Service.Status(),
		)
	})
}

// Close stops the device workers, then closes every device.
func (b *Bridge) Close() error {
	b.stopWorkers()
	return b.registry.Close()
}
