package vedbus

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	godbus "github.com/godbus/dbus/v5"

	"github.com/nerrad567/venus-bridge/internal/infrastructure/dbus"
)

// Settings registrar object model.
const (
	settingsPath      = "/Settings"
	settingsInterface = "com.victronenergy.Settings"
	classAndInstance  = "ClassAndVrmInstance"
)

// Init connects, exports the object model, registers with the settings
// registrar, claims the service name and starts the supervisor.
//
// Only a failed dial (ErrTransport) or a refused name (ErrNameNotAcquired)
// is returned. Registrar and announcement failures are logged and the local
// index stays the device instance.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	s.state = Connecting
	s.mu.Unlock()

	bus, err := s.dial(ctx)
	if err != nil {
		s.setState(Disconnected)
		return fmt.Errorf("%w: %s: %w", ErrTransport, s.cfg.ServiceName(), err)
	}

	if err := s.register(ctx, bus); err != nil {
		_ = bus.Close()
		s.setState(Disconnected)
		return err
	}
	s.backoff.Reset()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.supervise(runCtx)

	s.logger.Info("virtual device registered",
		"service", s.cfg.ServiceName(),
		"device_instance", s.VRMInstance(),
		"name", s.cfg.DisplayName,
	)
	return nil
}

func (s *Service) setState(st ConnectionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// register runs the staged registration on bus: export, registrar, name,
// announcement. On success the bus becomes the service's connection.
func (s *Service) register(ctx context.Context, bus Bus) error {
	s.mu.Lock()
	paths := append([]string(nil), s.order...)
	s.exported = make(map[string]bool, len(paths))
	for _, p := range paths {
		s.exported[p] = true
	}
	s.mu.Unlock()

	tree := s.tree()
	if err := bus.ExportRoot(tree); err != nil {
		s.logger.Warn("exporting root failed", "service", s.cfg.ServiceName(), "error", err)
	}
	for _, p := range paths {
		if err := bus.ExportPath(p, tree); err != nil {
			s.logger.Warn("exporting path failed", "service", s.cfg.ServiceName(), "path", p, "error", err)
			s.mu.Lock()
			delete(s.exported, p)
			s.mu.Unlock()
		}
	}

	if n, err := s.requestInstance(ctx, bus); err != nil {
		s.logger.Warn("settings registration failed, using local index",
			"service", s.cfg.ServiceName(),
			"local_index", s.cfg.LocalIndex,
			"error", err,
		)
	} else {
		s.mu.Lock()
		s.vrmInstance = n
		s.put(PathDeviceInstance, int32(n), dbus.KindInteger, "")
		s.mu.Unlock()
	}

	if err := bus.RequestName(s.cfg.ServiceName()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNameNotAcquired, s.cfg.ServiceName(), err)
	}

	s.mu.Lock()
	s.bus = bus
	s.state = Connected
	s.mu.Unlock()

	if err := s.announce(bus); err != nil {
		s.logger.Warn("service announcement failed", "service", s.cfg.ServiceName(), "error", err)
	}
	return nil
}

// settingsKey is the registrar key holding the class and instance.
func (s *Service) settingsKey() string {
	return "Devices/" + s.cfg.InstanceToken + "/" + classAndInstance
}

// requestInstance proposes "<serviceType>:<localIndex>" to the registrar and
// returns the instance it assigns.
func (s *Service) requestInstance(ctx context.Context, bus Bus) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	proposal := fmt.Sprintf("%s:%d", s.cfg.ServiceType, s.cfg.LocalIndex)
	group := "Devices/" + s.cfg.InstanceToken

	if _, err := bus.Call(ctx, s.cfg.SettingsService, settingsPath, settingsInterface, "AddSetting",
		group, classAndInstance, godbus.MakeVariant(proposal), "s",
		godbus.MakeVariant(int32(0)), godbus.MakeVariant(int32(0))); err != nil {
		return 0, fmt.Errorf("%w: AddSetting: %w", ErrRegistration, err)
	}
	if s.cfg.DisplayName != "" {
		if _, err := bus.Call(ctx, s.cfg.SettingsService, settingsPath, settingsInterface, "AddSetting",
			group, "CustomName", godbus.MakeVariant(s.cfg.DisplayName), "s",
			godbus.MakeVariant(int32(0)), godbus.MakeVariant(int32(0))); err != nil {
			s.logger.Debug("registering custom name failed", "service", s.cfg.ServiceName(), "error", err)
		}
	}

	body, err := bus.Call(ctx, s.cfg.SettingsService, settingsPath+"/"+s.settingsKey(),
		dbus.BusItemInterface, "GetValue")
	if err != nil {
		return 0, fmt.Errorf("%w: GetValue: %w", ErrRegistration, err)
	}
	if len(body) == 0 {
		return 0, fmt.Errorf("%w: empty reply", ErrRegistration)
	}
	return parseAssignment(s.cfg.ServiceType, body[0])
}

// parseAssignment extracts N from a "<serviceType>:N" registrar value.
func parseAssignment(serviceType string, reply any) (int, error) {
	if v, ok := reply.(godbus.Variant); ok {
		reply = v.Value()
	}
	str, ok := reply.(string)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected reply type %T", ErrRegistration, reply)
	}
	re := regexp.MustCompile("^" + regexp.QuoteMeta(serviceType) + `:(\d+)$`)
	m := re.FindStringSubmatch(str)
	if m == nil {
		return 0, fmt.Errorf("%w: unexpected assignment %q", ErrRegistration, str)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRegistration, err)
	}
	return n, nil
}

// announce broadcasts the full item set from the root.
func (s *Service) announce(bus Bus) error {
	s.mu.Lock()
	serial := s.serialLocked()
	items := s.itemsLocked()
	s.mu.Unlock()

	if serial == "" {
		return fmt.Errorf("%w: %w", ErrAnnouncement, ErrNoSerial)
	}
	if err := bus.Emit(dbus.RootPath, dbus.BusItemInterface, dbus.SignalItemsChanged, items); err != nil {
		return fmt.Errorf("%w: %w", ErrAnnouncement, err)
	}
	return nil
}
