package vedbus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	godbus "github.com/godbus/dbus/v5"

	"github.com/nerrad567/venus-bridge/internal/infrastructure/dbus"
)

// Default monitor cadences.
const (
	DefaultHeartbeatInterval         = 30 * time.Second
	DefaultHealthInterval            = 60 * time.Second
	DefaultRegistrationCheckInterval = 120 * time.Second
	DefaultCallTimeout               = 5 * time.Second

	// DefaultSettingsService is the settings registrar.
	DefaultSettingsService = "com.victronenergy.settings"
)

// Bus is the transport a Service needs. *dbus.Client implements it.
type Bus interface {
	ExportRoot(h dbus.Handler) error
	ExportPath(path string, h dbus.Handler) error
	UnexportAll()
	RequestName(name string) error
	Emit(path, iface, member string, args ...any) error
	Call(ctx context.Context, dest, path, iface, method string, args ...any) ([]any, error)
	Ping(ctx context.Context) error
	BusID(ctx context.Context) (string, error)
	Close() error
}

// Dialer opens a new, dedicated bus connection.
type Dialer func(ctx context.Context) (Bus, error)

// Logger is the logging interface used by the service.
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

// Config describes one virtual device.
type Config struct {
	// Namespace, ServiceType and InstanceToken form the service name
	// "<Namespace>.<ServiceType>.<InstanceToken>".
	Namespace     string
	ServiceType   string
	InstanceToken string

	LocalIndex  int
	DisplayName string
	Serial      string

	ProductID       int
	ProductName     string
	ProcessName     string
	ProcessVersion  string
	FirmwareVersion string
	HardwareVersion string
	Connection      string

	// Static lists the device-type specific paths exported up front.
	Static []Property

	SettingsService string

	HeartbeatInterval         time.Duration
	HealthInterval            time.Duration
	RegistrationCheckInterval time.Duration
	CallTimeout               time.Duration
	Backoff                   BackoffConfig
}

func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "com.victronenergy"
	}
	if c.SettingsService == "" {
		c.SettingsService = DefaultSettingsService
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.RegistrationCheckInterval <= 0 {
		c.RegistrationCheckInterval = DefaultRegistrationCheckInterval
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
}

// ServiceName returns the well-known bus name of the device.
func (c Config) ServiceName() string {
	return c.Namespace + "." + c.ServiceType + "." + c.InstanceToken
}

// item is one entry of the device data.
type item struct {
	value any
	kind  dbus.Kind
	unit  string
}

// Service is one virtual device on the bus.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Updates for one device must be issued in order by a single caller;
//     the service does not reorder them.
type Service struct {
	cfg  Config
	dial Dialer

	mu          sync.Mutex
	data        map[string]*item
	order       []string
	exported    map[string]bool
	bus         Bus
	state       ConnectionState
	vrmInstance int
	closed      bool

	backoff  *Backoff
	failures chan error
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	onWrite func(path string, value any)
	logger  Logger
}

// New creates a service. Nothing touches the bus until Init.
func New(cfg Config, dial Dialer) *Service {
	cfg.applyDefaults()
	s := &Service{
		cfg:         cfg,
		dial:        dial,
		data:        make(map[string]*item),
		exported:    make(map[string]bool),
		vrmInstance: cfg.LocalIndex,
		backoff:     NewBackoff(cfg.Backoff),
		failures:    make(chan error, 1),
		logger:      noopLogger{},
	}
	s.seed()
	return s
}

// seed fills the management and static paths.
func (s *Service) seed() {
	c := s.cfg
	mgmt := []Property{
		{Path: PathProcessName, Value: c.ProcessName, Kind: dbus.KindString},
		{Path: PathProcessVersion, Value: c.ProcessVersion, Kind: dbus.KindString},
		{Path: PathConnection, Value: c.Connection, Kind: dbus.KindString},
		{Path: PathDeviceInstance, Value: c.LocalIndex, Kind: dbus.KindInteger},
		{Path: PathProductID, Value: c.ProductID, Kind: dbus.KindInteger},
		{Path: PathProductName, Value: c.ProductName, Kind: dbus.KindString},
		{Path: PathFirmwareVersion, Value: c.FirmwareVersion, Kind: dbus.KindString},
		{Path: PathHardwareVersion, Value: c.HardwareVersion, Kind: dbus.KindString},
		{Path: PathConnected, Value: 1, Kind: dbus.KindInteger},
		{Path: PathCustomName, Value: c.DisplayName, Kind: dbus.KindString},
		{Path: PathSerial, Value: c.Serial, Kind: dbus.KindString},
	}
	for _, p := range append(mgmt, c.Static...) {
		v, err := coerce(p.Kind, p.Value)
		if err != nil {
			v = nil
		}
		s.put(p.Path, v, p.Kind, p.Unit)
	}
}

// put stores a value; s.mu must be held or the service not yet shared.
func (s *Service) put(path string, v any, kind dbus.Kind, unit string) {
	if it, ok := s.data[path]; ok {
		it.value = v
		if unit != "" {
			it.unit = unit
		}
		return
	}
	s.data[path] = &item{value: v, kind: kind, unit: unit}
	s.order = append(s.order, path)
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetOnWrite registers the callback for accepted remote writes.
func (s *Service) SetOnWrite(fn func(path string, value any)) {
	s.mu.Lock()
	s.onWrite = fn
	s.mu.Unlock()
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// State returns the connection state.
func (s *Service) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status implements device.Service.
func (s *Service) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%s instance=%d", s.state, s.vrmInstance)
}

// VRMInstance returns the device instance in use: the registrar's
// assignment, or the local index until one is received.
func (s *Service) VRMInstance() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vrmInstance
}

// Value returns the stored value of path.
func (s *Service) Value(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return it.value, true
}

// Paths returns every known path in insertion order.
func (s *Service) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func coerce(kind dbus.Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil, fmt.Errorf("%w: non-finite number", ErrValidation)
	}
	out, err := dbus.Coerce(kind, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return out, nil
}

// UpdateProperty stores value at path, exports the path if needed and emits
// change signals when the value changed or the path is critical.
//
// The kind of a path is fixed by its first update; later values are coerced
// to it. A value that cannot be coerced is rejected with ErrValidation and
// the previous value kept. ErrNoSerial is returned when signals were
// suppressed; the value is still stored.
func (s *Service) UpdateProperty(path string, value any, kind dbus.Kind, unit string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if it, ok := s.data[path]; ok {
		kind = it.kind
	}
	v, err := coerce(kind, value)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", path, err)
	}

	old, existed := s.data[path]
	changed := !existed || old.value != v
	s.put(path, v, kind, unit)

	bus := s.bus
	needExport := bus != nil && s.state == Connected && !s.exported[path]
	if needExport {
		s.exported[path] = true
	}
	s.mu.Unlock()

	if needExport {
		if err := bus.ExportPath(path, s.tree()); err != nil {
			s.logger.Warn("exporting path failed", "service", s.cfg.ServiceName(), "path", path, "error", err)
			s.mu.Lock()
			delete(s.exported, path)
			s.mu.Unlock()
		}
	}

	if !changed && !IsCritical(path) {
		return nil
	}
	return s.emitChanged(bus, path)
}

// emitChanged sends ItemsChanged, and for critical paths the per-path
// BusItem and Properties PropertiesChanged signals, in that order.
func (s *Service) emitChanged(bus Bus, path string) error {
	if bus == nil || s.State() != Connected {
		return nil
	}

	s.mu.Lock()
	serial := s.serialLocked()
	props := s.propsLocked(path)
	s.mu.Unlock()

	if serial == "" {
		s.logger.Debug("signal suppressed, no serial", "service", s.cfg.ServiceName(), "path", path)
		return ErrNoSerial
	}

	items := map[string]map[string]godbus.Variant{path: props}
	if err := bus.Emit(dbus.RootPath, dbus.BusItemInterface, dbus.SignalItemsChanged, items); err != nil {
		s.transportFailed(err)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if !IsCritical(path) {
		return nil
	}
	if err := bus.Emit(path, dbus.BusItemInterface, dbus.SignalPropertiesChanged, props); err != nil {
		s.transportFailed(err)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := bus.Emit(path, dbus.PropertiesInterface, dbus.SignalPropertiesChanged,
		dbus.BusItemInterface, props, []string{}); err != nil {
		s.transportFailed(err)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// serialLocked returns the current serial; s.mu must be held.
func (s *Service) serialLocked() string {
	it, ok := s.data[PathSerial]
	if !ok {
		return ""
	}
	serial, _ := it.value.(string)
	return serial
}

// propsLocked returns {"Value", "Text"} for path; s.mu must be held.
func (s *Service) propsLocked(path string) map[string]godbus.Variant {
	it, ok := s.data[path]
	if !ok {
		return map[string]godbus.Variant{"Value": dbus.Invalid(), "Text": godbus.MakeVariant("---")}
	}
	v, err := dbus.Wrap(it.kind, it.value)
	if err != nil {
		v = dbus.Invalid()
	}
	return map[string]godbus.Variant{
		"Value": v,
		"Text":  godbus.MakeVariant(formatText(it.value, it.unit)),
	}
}

// transportFailed hands a transport error to the supervisor.
func (s *Service) transportFailed(err error) {
	select {
	case s.failures <- err:
	default:
	}
}

// Close cancels the supervisor, closes the connection and clears the
// device data. Safe to call more than once.
func (s *Service) Close() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.wg.Wait()

		s.mu.Lock()
		bus := s.bus
		s.bus = nil
		s.state = Disconnected
		s.data = make(map[string]*item)
		s.order = nil
		s.exported = make(map[string]bool)
		s.mu.Unlock()

		if bus != nil {
			bus.UnexportAll()
			err = bus.Close()
		}
		s.logger.Info("virtual device closed", "service", s.cfg.ServiceName())
	})
	return err
}

// tree adapts the service to dbus.Handler.
func (s *Service) tree() dbus.Handler {
	return (*objectTree)(s)
}

type objectTree Service

func (t *objectTree) svc() *Service { return (*Service)(t) }

// Value implements dbus.Handler.
func (t *objectTree) Value(path string) (godbus.Variant, bool) {
	s := t.svc()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[path]; !ok {
		return godbus.Variant{}, false
	}
	return s.propsLocked(path)["Value"], true
}

// Text implements dbus.Handler.
func (t *objectTree) Text(path string) (string, bool) {
	s := t.svc()
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.data[path]
	if !ok {
		return "", false
	}
	return formatText(it.value, it.unit), true
}

// Items implements dbus.Handler.
func (t *objectTree) Items() map[string]map[string]godbus.Variant {
	s := t.svc()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemsLocked()
}

func (s *Service) itemsLocked() map[string]map[string]godbus.Variant {
	out := make(map[string]map[string]godbus.Variant, len(s.order))
	for _, p := range s.order {
		out[p] = s.propsLocked(p)
	}
	return out
}

// SetValue implements dbus.Handler. Management paths and unknown paths are
// rejected; an unchanged value is accepted without signals.
func (t *objectTree) SetValue(path string, v godbus.Variant) int32 {
	s := t.svc()
	if IsManagement(path) {
		return dbus.SetRejected
	}

	s.mu.Lock()
	it, ok := s.data[path]
	if !ok || s.closed {
		s.mu.Unlock()
		return dbus.SetRejected
	}
	nv, err := coerce(it.kind, dbus.Unwrap(v))
	if err != nil {
		s.mu.Unlock()
		s.logger.Debug("remote write rejected", "service", s.cfg.ServiceName(), "path", path, "error", err)
		return dbus.SetRejected
	}
	if it.value == nv {
		s.mu.Unlock()
		return dbus.SetOK
	}
	it.value = nv
	bus := s.bus
	onWrite := s.onWrite
	s.mu.Unlock()

	if err := s.emitChanged(bus, path); err != nil && !errors.Is(err, ErrNoSerial) {
		s.logger.Warn("emitting change failed", "service", s.cfg.ServiceName(), "path", path, "error", err)
	}
	if onWrite != nil {
		onWrite(path, nv)
	}
	return dbus.SetOK
}
