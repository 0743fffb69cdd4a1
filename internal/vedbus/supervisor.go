package vedbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/venus-bridge/internal/infrastructure/dbus"
)

// supervise owns the connection after Init: heartbeat, bus health,
// registration check and reconnect retries all run on this goroutine.
func (s *Service) supervise(ctx context.Context) {
	defer s.wg.Done()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	health := time.NewTicker(s.cfg.HealthInterval)
	defer health.Stop()
	regCheck := time.NewTicker(s.cfg.RegistrationCheckInterval)
	defer regCheck.Stop()

	var retry <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			if s.State() != Connected {
				continue
			}
			if err := s.heartbeat(ctx); err != nil {
				retry = s.lost(err)
			}

		case <-health.C:
			if s.State() != Connected {
				continue
			}
			if err := s.checkHealth(ctx); err != nil {
				retry = s.lost(err)
			}

		case <-regCheck.C:
			if s.State() != Connected {
				continue
			}
			if err := s.checkRegistration(ctx); err != nil {
				s.logger.Warn("service registration lost, re-registering",
					"service", s.cfg.ServiceName(), "error", err)
				if err := s.reregister(ctx); err != nil {
					retry = s.lost(err)
				}
			}

		case err := <-s.failures:
			if s.State() != Connected {
				continue
			}
			retry = s.lost(err)

		case <-retry:
			retry = s.reconnect(ctx)
		}
	}
}

// heartbeat refreshes /Connected and makes a round trip to the daemon.
func (s *Service) heartbeat(ctx context.Context) error {
	if err := s.UpdateProperty(PathConnected, 1, dbus.KindInteger, ""); err != nil && !errors.Is(err, ErrNoSerial) {
		return err
	}
	bus := s.currentBus()
	if bus == nil {
		return fmt.Errorf("%w: no connection", ErrTransport)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	if _, err := bus.BusID(ctx); err != nil {
		return fmt.Errorf("%w: heartbeat: %w", ErrTransport, err)
	}
	return nil
}

// checkHealth pings the bus daemon.
func (s *Service) checkHealth(ctx context.Context) error {
	bus := s.currentBus()
	if bus == nil {
		return fmt.Errorf("%w: no connection", ErrTransport)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	if err := bus.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrTransport, err)
	}
	return nil
}

// checkRegistration enumerates the device's own items through its service
// name, which fails when the peer no longer resolves it.
func (s *Service) checkRegistration(ctx context.Context) error {
	bus := s.currentBus()
	if bus == nil {
		return fmt.Errorf("%w: no connection", ErrTransport)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	if _, err := bus.Call(ctx, s.cfg.ServiceName(), dbus.RootPath, dbus.BusItemInterface, "GetItems"); err != nil {
		return fmt.Errorf("%w: %w", ErrRegistration, err)
	}
	return nil
}

// reregister repeats the full registration on the current connection.
func (s *Service) reregister(ctx context.Context) error {
	bus := s.currentBus()
	if bus == nil {
		return fmt.Errorf("%w: no connection", ErrTransport)
	}
	return s.register(ctx, bus)
}

func (s *Service) currentBus() Bus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus
}

// lost drops the connection and schedules the first retry.
func (s *Service) lost(err error) <-chan time.Time {
	s.mu.Lock()
	bus := s.bus
	s.bus = nil
	s.state = Reconnecting
	s.exported = make(map[string]bool)
	s.mu.Unlock()

	if bus != nil {
		bus.UnexportAll()
		_ = bus.Close()
	}
	s.logger.Warn("connection lost", "service", s.cfg.ServiceName(), "error", err)

	// A failure signalled before the bus was dropped is stale now.
	select {
	case <-s.failures:
	default:
	}
	return s.schedule()
}

// schedule returns the timer for the next retry, or nil once the retry
// budget is spent.
func (s *Service) schedule() <-chan time.Time {
	delay, ok := s.backoff.Next()
	if !ok {
		s.setState(Disconnected)
		s.logger.Error("giving up on device after repeated reconnect failures",
			"service", s.cfg.ServiceName(),
			"attempts", s.backoff.Attempts(),
		)
		return nil
	}
	s.setState(Reconnecting)
	s.logger.Info("reconnect scheduled",
		"service", s.cfg.ServiceName(),
		"attempt", s.backoff.Attempts(),
		"delay", delay,
	)
	return time.After(delay)
}

// reconnect dials and registers again. On failure the next retry is
// scheduled.
func (s *Service) reconnect(ctx context.Context) <-chan time.Time {
	s.setState(Connecting)

	bus, err := s.dial(ctx)
	if err != nil {
		s.logger.Warn("reconnect failed", "service", s.cfg.ServiceName(), "error", err)
		return s.schedule()
	}
	if err := s.register(ctx, bus); err != nil {
		_ = bus.Close()
		s.logger.Warn("re-registration failed", "service", s.cfg.ServiceName(), "error", err)
		return s.schedule()
	}

	s.backoff.Reset()
	s.logger.Info("reconnected", "service", s.cfg.ServiceName(), "device_instance", s.VRMInstance())
	return nil
}
