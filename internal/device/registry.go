package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/venus-bridge/internal/infrastructure/dbus"
	"github.com/nerrad567/venus-bridge/internal/naming"
)

// DefaultCreationWait bounds how long a caller waits for another caller's
// in-flight creation.
const DefaultCreationWait = 5 * time.Second

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Instance is the identity of one virtual device.
type Instance struct {
	BasePath    string
	Type        naming.DeviceType
	LocalIndex  int
	DisplayName string
}

// Service is the protocol service behind a device.
type Service interface {
	UpdateProperty(path string, value any, kind dbus.Kind, unit string) error
	Status() string
	Close() error
}

// Factory builds and initialises the service for a new device.
type Factory func(ctx context.Context, inst Instance) (Service, error)

// Device is a created device.
type Device struct {
	Instance
	Service Service
}

// entry is either ready (dev set) or creating (dev nil, ready open).
type entry struct {
	dev   *Device
	ready chan struct{}
	err   error
}

// Registry maps base paths to devices.
//
// All public methods are thread-safe.
type Registry struct {
	index   IndexProvider
	factory Factory
	wait    time.Duration

	mu       sync.Mutex
	entries  map[string]*entry
	siblings map[string]int
	closed   bool

	logger Logger
}

// NewRegistry creates a registry. wait <= 0 selects DefaultCreationWait.
func NewRegistry(index IndexProvider, factory Factory, wait time.Duration) *Registry {
	if wait <= 0 {
		wait = DefaultCreationWait
	}
	return &Registry{
		index:    index,
		factory:  factory,
		wait:     wait,
		entries:  make(map[string]*entry),
		siblings: make(map[string]int),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// GetOrCreate returns the device owning path, creating it on first use.
//
// If another caller is creating the same device, GetOrCreate waits up to
// the creation bound and returns ErrCreationTimeout when it expires. A
// failed creation is forgotten, so the next call retries from scratch.
func (r *Registry) GetOrCreate(ctx context.Context, path string) (*Device, error) {
	typ, base, ok := Classify(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDeviceType, path)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if e, found := r.entries[base]; found {
		if e.dev != nil {
			r.mu.Unlock()
			return e.dev, nil
		}
		r.mu.Unlock()
		return r.await(ctx, base, e)
	}

	e := &entry{ready: make(chan struct{})}
	r.entries[base] = e
	key := subtypeKey(base)
	r.siblings[key]++
	siblings := r.siblings[key]
	r.mu.Unlock()

	dev, err := r.create(ctx, typ, base, siblings)

	r.mu.Lock()
	closed := r.closed
	if err == nil && closed {
		err = ErrClosed
	}
	if err != nil {
		delete(r.entries, base)
		r.siblings[key]--
		e.err = err
	} else {
		e.dev = dev
	}
	close(e.ready)
	r.mu.Unlock()

	if closed && dev != nil {
		// Close ran while the device was being created.
		if closeErr := dev.Service.Close(); closeErr != nil {
			r.logger.Warn("closing device created during shutdown", "base_path", base, "error", closeErr)
		}
		return nil, ErrClosed
	}
	if err != nil {
		r.logger.Error("device creation failed", "base_path", base, "error", err)
		return nil, err
	}
	r.logger.Info("device created",
		"base_path", base,
		"type", string(typ),
		"local_index", dev.LocalIndex,
		"name", dev.DisplayName,
	)
	return dev, nil
}

func (r *Registry) await(ctx context.Context, base string, e *entry) (*Device, error) {
	timer := time.NewTimer(r.wait)
	defer timer.Stop()

	select {
	case <-e.ready:
		if e.err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCreationFailed, base, e.err)
		}
		return e.dev, nil
	case <-timer.C:
		r.logger.Warn("dropping update, device still being created", "base_path", base, "wait", r.wait)
		return nil, fmt.Errorf("%w: %s", ErrCreationTimeout, base)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) create(ctx context.Context, typ naming.DeviceType, base string, siblings int) (*Device, error) {
	idx, err := r.index.Index(ctx, base, string(typ))
	if err != nil {
		return nil, fmt.Errorf("%w: index for %s: %w", ErrCreationFailed, base, err)
	}

	inst := Instance{
		BasePath:    base,
		Type:        typ,
		LocalIndex:  idx,
		DisplayName: naming.Name(base, typ, siblings),
	}

	svc, err := r.factory(ctx, inst)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCreationFailed, base, err)
	}
	return &Device{Instance: inst, Service: svc}, nil
}

// Get returns the ready device for basePath.
func (r *Registry) Get(basePath string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[basePath]
	if !ok || e.dev == nil {
		return nil, false
	}
	return e.dev, true
}

// Remove closes and forgets the device at basePath.
func (r *Registry) Remove(basePath string) error {
	r.mu.Lock()
	e, ok := r.entries[basePath]
	if !ok || e.dev == nil {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, basePath)
	r.siblings[subtypeKey(basePath)]--
	r.mu.Unlock()

	return e.dev.Service.Close()
}

// ForEach calls fn for every ready device in base path order.
func (r *Registry) ForEach(fn func(*Device)) {
	for _, d := range r.ready() {
		fn(d)
	}
}

// Len returns the number of ready devices.
func (r *Registry) Len() int {
	return len(r.ready())
}

func (r *Registry) ready() []*Device {
	r.mu.Lock()
	devs := make([]*Device, 0, len(r.entries))
	for _, e := range r.entries {
		if e.dev != nil {
			devs = append(devs, e.dev)
		}
	}
	r.mu.Unlock()

	sort.Slice(devs, func(i, j int) bool { return devs[i].BasePath < devs[j].BasePath })
	return devs
}

// Close closes every device service. Later calls return ErrClosed. An
// in-flight creation is not cancelled; its service is closed as soon as it
// completes, and its caller gets ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	var firstErr error
	for _, d := range r.ready() {
		r.logger.Info("closing device", "base_path", d.BasePath, "status", d.Service.Status())
		if err := d.Service.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
