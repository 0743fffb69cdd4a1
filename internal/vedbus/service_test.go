package vedbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	godbus "github.com/godbus/dbus/v5"

	"github.com/nerrad567/venus-bridge/internal/infrastructure/dbus"
)

type signal struct {
	path, iface, member string
	args                []any
}

type call struct {
	dest, path, iface, method string
	args                      []any
}

// fakeBus records everything the service does to the transport.
type fakeBus struct {
	mu sync.Mutex

	root    dbus.Handler
	exports map[string]int
	names   []string
	signals []signal
	calls   []call
	closed  bool

	assignment  any
	settingErr  error
	nameErr     error
	emitErr     error
	pingErr     error
	busIDErr    error
	itemsFailed int
}

func newFakeBus() *fakeBus {
	return &fakeBus{exports: make(map[string]int)}
}

func (b *fakeBus) ExportRoot(h dbus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.root = h
	return nil
}

func (b *fakeBus) ExportPath(path string, _ dbus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exports[path]++
	return nil
}

func (b *fakeBus) UnexportAll() {}

func (b *fakeBus) RequestName(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nameErr != nil {
		return b.nameErr
	}
	b.names = append(b.names, name)
	return nil
}

func (b *fakeBus) Emit(path, iface, member string, args ...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.emitErr != nil {
		return b.emitErr
	}
	b.signals = append(b.signals, signal{path: path, iface: iface, member: member, args: args})
	return nil
}

func (b *fakeBus) Call(_ context.Context, dest, path, iface, method string, args ...any) ([]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call{dest: dest, path: path, iface: iface, method: method, args: args})
	switch method {
	case "AddSetting":
		return nil, b.settingErr
	case "GetValue":
		if b.assignment == nil {
			return nil, errors.New("no such setting")
		}
		return []any{godbus.MakeVariant(b.assignment)}, nil
	case "GetItems":
		if b.itemsFailed > 0 {
			b.itemsFailed--
			return nil, errors.New("unknown service")
		}
		return []any{}, nil
	}
	return nil, nil
}

func (b *fakeBus) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pingErr
}

func (b *fakeBus) BusID(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return "bus-id", b.busIDErr
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBus) handler() dbus.Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.root
}

func (b *fakeBus) exportCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exports[path]
}

func (b *fakeBus) takeSignals() []signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.signals
	b.signals = nil
	return out
}

func (b *fakeBus) countCalls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (b *fakeBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// fakeDialer hands out a fresh fakeBus per dial.
type fakeDialer struct {
	mu        sync.Mutex
	buses     []*fakeBus
	configure func(n int, b *fakeBus)
	fail      func(n int) error
}

func (d *fakeDialer) dial(context.Context) (Bus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.buses)
	if d.fail != nil {
		if err := d.fail(n); err != nil {
			d.buses = append(d.buses, nil)
			return nil, err
		}
	}
	b := newFakeBus()
	if d.configure != nil {
		d.configure(n, b)
	}
	d.buses = append(d.buses, b)
	return b, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buses)
}

func (d *fakeDialer) bus(n int) *fakeBus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buses[n]
}

func testConfig() Config {
	return Config{
		ServiceType:    "battery",
		InstanceToken:  "signalk_658",
		LocalIndex:     658,
		DisplayName:    "Main Battery",
		Serial:         "SK658",
		ProductID:      0xB001,
		ProductName:    "Signal K Battery",
		ProcessName:    "venusbridge",
		ProcessVersion: "test",
		Connection:     "Signal K",
		Static: []Property{
			{Path: PathSoc, Kind: dbus.KindDouble, Unit: "%"},
			{Path: "/Dc/0/Temperature", Kind: dbus.KindDouble, Unit: "C"},
		},
	}
}

func startService(t *testing.T, cfg Config, d *fakeDialer) *Service {
	t.Helper()
	s := New(cfg, d.dial)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServiceName(t *testing.T) {
	s := New(testConfig(), nil)
	if got := s.Config().ServiceName(); got != "com.victronenergy.battery.signalk_658" {
		t.Errorf("ServiceName() = %q", got)
	}
}

func TestInit_ExportsAndClaimsName(t *testing.T) {
	d := &fakeDialer{}
	s := startService(t, testConfig(), d)
	b := d.bus(0)

	if s.State() != Connected {
		t.Errorf("State() = %v, want connected", s.State())
	}
	for _, p := range []string{PathProcessName, PathDeviceInstance, PathSerial, PathSoc} {
		if b.exportCount(p) != 1 {
			t.Errorf("export count for %s = %d, want 1", p, b.exportCount(p))
		}
	}
	if len(b.names) != 1 || b.names[0] != "com.victronenergy.battery.signalk_658" {
		t.Errorf("names = %v", b.names)
	}

	sigs := b.takeSignals()
	if len(sigs) != 1 || sigs[0].member != dbus.SignalItemsChanged || sigs[0].path != dbus.RootPath {
		t.Fatalf("announcement signals = %+v, want one root ItemsChanged", sigs)
	}
	items, ok := sigs[0].args[0].(map[string]map[string]godbus.Variant)
	if !ok {
		t.Fatalf("announcement payload type = %T", sigs[0].args[0])
	}
	if got := items[PathSerial]["Value"].Value(); got != "SK658" {
		t.Errorf("announced serial = %v", got)
	}
	if !dbus.IsInvalid(items[PathSoc]["Value"]) {
		t.Errorf("unset /Soc should announce as invalid, got %v", items[PathSoc]["Value"])
	}
}

func TestInit_DialFailure(t *testing.T) {
	d := &fakeDialer{fail: func(int) error { return errors.New("connection refused") }}
	s := New(testConfig(), d.dial)

	err := s.Init(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Init() error = %v, want ErrTransport", err)
	}
	if s.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
}

func TestInit_NameRefused(t *testing.T) {
	d := &fakeDialer{configure: func(_ int, b *fakeBus) { b.nameErr = dbus.ErrNameTaken }}
	s := New(testConfig(), d.dial)

	err := s.Init(context.Background())
	if !errors.Is(err, ErrNameNotAcquired) {
		t.Fatalf("Init() error = %v, want ErrNameNotAcquired", err)
	}
	if !d.bus(0).isClosed() {
		t.Error("bus should be closed after a refused name")
	}
	if s.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
}

func TestInit_RegistrarAssignsInstance(t *testing.T) {
	d := &fakeDialer{configure: func(_ int, b *fakeBus) { b.assignment = "battery:42" }}
	s := startService(t, testConfig(), d)

	if got := s.VRMInstance(); got != 42 {
		t.Errorf("VRMInstance() = %d, want 42", got)
	}
	if v, _ := s.Value(PathDeviceInstance); v != int32(42) {
		t.Errorf("/DeviceInstance = %v, want 42", v)
	}

	b := d.bus(0)
	b.mu.Lock()
	first := b.calls[0]
	b.mu.Unlock()
	if first.dest != DefaultSettingsService || first.method != "AddSetting" {
		t.Fatalf("first call = %+v", first)
	}
	if first.args[0] != "Devices/signalk_658" || first.args[1] != "ClassAndVrmInstance" {
		t.Errorf("AddSetting args = %v", first.args)
	}
	if v := first.args[2].(godbus.Variant).Value(); v != "battery:658" {
		t.Errorf("proposal = %v, want battery:658", v)
	}
}

func TestInit_RegistrarFailureKeepsLocalIndex(t *testing.T) {
	d := &fakeDialer{configure: func(_ int, b *fakeBus) { b.settingErr = errors.New("no registrar") }}
	s := startService(t, testConfig(), d)

	if s.State() != Connected {
		t.Errorf("State() = %v, want connected", s.State())
	}
	if got := s.VRMInstance(); got != 658 {
		t.Errorf("VRMInstance() = %d, want 658", got)
	}
	if v, _ := s.Value(PathDeviceInstance); v != int32(658) {
		t.Errorf("/DeviceInstance = %v, want 658", v)
	}
}

func TestParseAssignment(t *testing.T) {
	tests := []struct {
		name    string
		reply   any
		want    int
		wantErr bool
	}{
		{name: "plain", reply: "battery:42", want: 42},
		{name: "variant", reply: godbus.MakeVariant("battery:7"), want: 7},
		{name: "wrong class", reply: "tank:42", wantErr: true},
		{name: "garbage", reply: "battery:", wantErr: true},
		{name: "not a string", reply: int32(3), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAssignment("battery", tt.reply)
			if tt.wantErr {
				if !errors.Is(err, ErrRegistration) {
					t.Fatalf("error = %v, want ErrRegistration", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("parseAssignment() = %d, %v; want %d", got, err, tt.want)
			}
		})
	}
}

func TestUpdateProperty_ExportsOnce(t *testing.T) {
	d := &fakeDialer{}
	s := startService(t, testConfig(), d)
	b := d.bus(0)

	if err := s.UpdateProperty("/Level", 50, dbus.KindDouble, "%"); err != nil {
		t.Fatalf("UpdateProperty() error = %v", err)
	}
	if err := s.UpdateProperty("/Level", 75, dbus.KindDouble, "%"); err != nil {
		t.Fatalf("UpdateProperty() error = %v", err)
	}

	if n := b.exportCount("/Level"); n != 1 {
		t.Errorf("export count = %d, want 1", n)
	}
	v, ok := b.handler().Value("/Level")
	if !ok || v.Value() != float64(75) {
		t.Errorf("GetValue(/Level) = %v, %v; want 75", v, ok)
	}
	if text, _ := b.handler().Text("/Level"); text != "75.00%" {
		t.Errorf("GetText(/Level) = %q", text)
	}
}

func TestUpdateProperty_KindFixedAtFirstExport(t *testing.T) {
	d := &fakeDialer{}
	s := startService(t, testConfig(), d)

	if err := s.UpdateProperty("/Relay/0/State", 1, dbus.KindInteger, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateProperty("/Relay/0/State", 0.0, dbus.KindDouble, ""); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Value("/Relay/0/State"); v != int32(0) {
		t.Errorf("value = %#v, want int32(0)", v)
	}
}

func TestUpdateProperty_RejectsInvalid(t *testing.T) {
	d := &fakeDialer{}
	s := startService(t, testConfig(), d)

	if err := s.UpdateProperty("/Dc/0/Voltage", 12.5, dbus.KindDouble, "V"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateProperty("/Dc/0/Voltage", "twelve", dbus.KindDouble, "V"); !errors.Is(err, ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
	if v, _ := s.Value("/Dc/0/Voltage"); v != 12.5 {
		t.Errorf("value = %v, want previous 12.5", v)
	}
}

func TestUpdateProperty_CriticalPathsAlwaysSignal(t *testing.T) {
	d := &fakeDialer{}
	s := startService(t, testConfig(), d)
	b := d.bus(0)
	b.takeSignals()

	for i := 0; i < 2; i++ {
		if err := s.UpdateProperty(PathSoc, 80.0, dbus.KindDouble, "%"); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(b.takeSignals()); n != 6 {
		t.Errorf("critical path signals = %d, want 6", n)
	}

	for i := 0; i < 2; i++ {
		if err := s.UpdateProperty("/Dc/0/Temperature", 21.0, dbus.KindDouble, "C"); err != nil {
			t.Fatal(err)
		}
	}
	sigs := b.takeSignals()
	if len(sigs) != 1 || sigs[0].member != dbus.SignalItemsChanged {
		t.Errorf("non-critical signals = %+v, want a single ItemsChanged", sigs)
	}
}

func TestUpdateProperty_SignalOrder(t *testing.T) {
	d := &fakeDialer{}
	s := startService(t, testConfig(), d)
	b := d.bus(0)
	b.takeSignals()

	if err := s.UpdateProperty(PathDcVoltage, 12.8, dbus.KindDouble, "V"); err != nil {
		t.Fatal(err)
	}
	sigs := b.takeSignals()
	want := []signal{
		{path: dbus.RootPath, iface: dbus.BusItemInterface, member: dbus.SignalItemsChanged},
		{path: PathDcVoltage, iface: dbus.BusItemInterface, member: dbus.SignalPropertiesChanged},
		{path: PathDcVoltage, iface: dbus.PropertiesInterface, member: dbus.SignalPropertiesChanged},
	}
	if len(sigs) != len(want) {
		t.Fatalf("signals = %+v", sigs)
	}
	for i, w := range want {
		if sigs[i].path != w.path || sigs[i].iface != w.iface || sigs[i].member != w.member {
			t.Errorf("signal %d = %s %s.%s, want %s %s.%s",
				i, sigs[i].path, sigs[i].iface, sigs[i].member, w.path, w.iface, w.member)
		}
	}

	items := sigs[0].args[0].(map[string]map[string]godbus.Variant)
	if len(items) != 1 || items[PathDcVoltage]["Text"].Value() != "12.80V" {
		t.Errorf("ItemsChanged payload = %v", items)
	}
	if sigs[2].args[0] != dbus.BusItemInterface {
		t.Errorf("Properties.PropertiesChanged interface arg = %v", sigs[2].args[0])
	}
}

func TestUpdateProperty_NoSerialSuppressesSignals(t *testing.T) {
	cfg := testConfig()
	cfg.Serial = ""
	d := &fakeDialer{}
	s := startService(t, cfg, d)
	b := d.bus(0)

	err := s.UpdateProperty(PathSoc, 55.0, dbus.KindDouble, "%")
	if !errors.Is(err, ErrNoSerial) {
		t.Fatalf("error = %v, want ErrNoSerial", err)
	}
	if sigs := b.takeSignals(); len(sigs) != 0 {
		t.Errorf("signals = %+v, want none", sigs)
	}
	if v, _ := s.Value(PathSoc); v != 55.0 {
		t.Errorf("value = %v, want stored 55", v)
	}
}

func TestSetValue(t *testing.T) {
	d := &fakeDialer{}
	s := startService(t, testConfig(), d)
	b := d.bus(0)
	h := b.handler()

	var writes []string
	s.SetOnWrite(func(path string, value any) {
		writes = append(writes, path+"="+value.(string))
	})

	if got := h.SetValue(PathSerial, godbus.MakeVariant("hijack")); got != dbus.SetRejected {
		t.Errorf("SetValue(/Serial) = %d, want rejected", got)
	}
	if got := h.SetValue("/Nope", godbus.MakeVariant(1)); got != dbus.SetRejected {
		t.Errorf("SetValue(unknown) = %d, want rejected", got)
	}

	b.takeSignals()
	if got := h.SetValue(PathCustomName, godbus.MakeVariant("House Bank")); got != dbus.SetOK {
		t.Fatalf("SetValue(/CustomName) = %d, want ok", got)
	}
	if got := h.SetValue(PathCustomName, godbus.MakeVariant("House Bank")); got != dbus.SetOK {
		t.Fatalf("repeat SetValue(/CustomName) = %d, want ok", got)
	}

	if len(writes) != 1 || writes[0] != "/CustomName=House Bank" {
		t.Errorf("writes = %v, want one", writes)
	}
	if n := len(b.takeSignals()); n != 1 {
		t.Errorf("signals = %d, want 1", n)
	}
	if v, _ := s.Value(PathSerial); v != "SK658" {
		t.Errorf("serial changed to %v", v)
	}
}

func TestSupervisor_ReconnectsAfterFailedPing(t *testing.T) {
	cfg := testConfig()
	cfg.HealthInterval = 10 * time.Millisecond
	cfg.Backoff = BackoffConfig{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond}

	d := &fakeDialer{configure: func(n int, b *fakeBus) {
		if n == 0 {
			b.pingErr = errors.New("daemon gone")
		}
	}}
	s := startService(t, cfg, d)

	eventually(t, "second dial", func() bool { return d.dials() >= 2 })
	eventually(t, "connected again", func() bool { return s.State() == Connected })

	if !d.bus(0).isClosed() {
		t.Error("failed bus should be closed")
	}
	if n := d.bus(1).exportCount(PathSoc); n != 1 {
		t.Errorf("paths re-exported %d times on new bus, want 1", n)
	}
}

func TestSupervisor_ReconnectsAfterFailedHeartbeat(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.Backoff = BackoffConfig{Initial: 50 * time.Millisecond, Max: 50 * time.Millisecond}

	d := &fakeDialer{configure: func(n int, b *fakeBus) {
		if n == 0 {
			b.busIDErr = errors.New("no reply")
		}
	}}
	s := startService(t, cfg, d)

	eventually(t, "reconnecting", func() bool { return s.State() == Reconnecting })
	eventually(t, "second dial", func() bool { return d.dials() >= 2 })
	eventually(t, "connected again", func() bool { return s.State() == Connected })

	if !d.bus(0).isClosed() {
		t.Error("bus that missed its heartbeat should be closed")
	}

	// Heartbeats on the new bus rewrite /Connected.
	if err := s.UpdateProperty(PathConnected, 0, dbus.KindInteger, ""); err != nil {
		t.Fatalf("UpdateProperty(/Connected) error = %v", err)
	}
	eventually(t, "/Connected refreshed", func() bool {
		v, _ := s.Value(PathConnected)
		return v == int32(1)
	})
	if s.State() != Connected {
		t.Errorf("State() = %v after healthy heartbeats, want connected", s.State())
	}
}

func TestSupervisor_GivesUpAfterMaxAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.HealthInterval = 10 * time.Millisecond
	cfg.Backoff = BackoffConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 2}

	d := &fakeDialer{
		configure: func(_ int, b *fakeBus) { b.pingErr = errors.New("daemon gone") },
		fail: func(n int) error {
			if n > 0 {
				return errors.New("connection refused")
			}
			return nil
		},
	}
	s := startService(t, cfg, d)

	eventually(t, "terminal disconnect", func() bool { return s.State() == Disconnected })
	time.Sleep(30 * time.Millisecond)
	if n := d.dials(); n != 3 {
		t.Errorf("dials = %d, want 3 (initial plus two retries)", n)
	}
}

func TestSupervisor_EmitFailureTriggersReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.Backoff = BackoffConfig{Initial: time.Millisecond}

	d := &fakeDialer{}
	s := startService(t, cfg, d)

	b := d.bus(0)
	b.mu.Lock()
	b.emitErr = errors.New("broken pipe")
	b.mu.Unlock()

	if err := s.UpdateProperty(PathSoc, 10.0, dbus.KindDouble, "%"); !errors.Is(err, ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
	eventually(t, "reconnect", func() bool { return d.dials() == 2 && s.State() == Connected })
}

func TestSupervisor_ReregistersWhenNameLost(t *testing.T) {
	cfg := testConfig()
	cfg.RegistrationCheckInterval = 10 * time.Millisecond

	d := &fakeDialer{configure: func(_ int, b *fakeBus) { b.itemsFailed = 1 }}
	s := startService(t, cfg, d)
	b := d.bus(0)

	eventually(t, "second registration", func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.names) >= 2
	})
	if d.dials() != 1 {
		t.Errorf("dials = %d, re-registration should reuse the connection", d.dials())
	}
	if s.State() != Connected {
		t.Errorf("State() = %v, want connected", s.State())
	}
	if b.countCalls("AddSetting") < 4 {
		t.Errorf("AddSetting calls = %d, want registrar contacted again", b.countCalls("AddSetting"))
	}
}

func TestClose(t *testing.T) {
	d := &fakeDialer{}
	s := startService(t, testConfig(), d)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if !d.bus(0).isClosed() {
		t.Error("bus not closed")
	}
	if s.State() != Disconnected {
		t.Errorf("State() = %v", s.State())
	}
	if len(s.Paths()) != 0 {
		t.Errorf("device data not cleared: %v", s.Paths())
	}
	if err := s.UpdateProperty(PathSoc, 1.0, dbus.KindDouble, ""); !errors.Is(err, ErrClosed) {
		t.Errorf("UpdateProperty after Close = %v, want ErrClosed", err)
	}
}
