package dbus

import (
	"context"
	"fmt"
	"sync"

	godbus "github.com/godbus/dbus/v5"
)

// Well-known bus addresses accepted by Dial.
const (
	AddressSystem  = "system"
	AddressSession = "session"
)

// Client is one D-Bus connection owned by a single virtual device.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Exported handlers are invoked from godbus dispatch goroutines.
type Client struct {
	conn *godbus.Conn

	mu       sync.Mutex
	exported map[godbus.ObjectPath]struct{}
	names    []string
	closed   bool
}

// Dial connects and authenticates to the bus at address. "system" (or "")
// selects the system bus, "session" the session bus; anything else is a
// D-Bus address such as "tcp:host=venus.local,port=78".
func Dial(ctx context.Context, address string) (*Client, error) {
	var (
		conn *godbus.Conn
		err  error
	)
	switch address {
	case "", AddressSystem:
		conn, err = godbus.ConnectSystemBus(godbus.WithContext(ctx))
	case AddressSession:
		conn, err = godbus.ConnectSessionBus(godbus.WithContext(ctx))
	default:
		conn, err = godbus.Connect(address, godbus.WithContext(ctx))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Client{
		conn:     conn,
		exported: make(map[godbus.ObjectPath]struct{}),
	}, nil
}

func (c *Client) live() (*godbus.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// ExportRoot publishes the root object (GetItems plus the flattened maps).
func (c *Client) ExportRoot(h Handler) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	r := &root{h: h}
	if err := exportPair(conn, RootPath, r, rootProperties(r)); err != nil {
		return err
	}
	c.markExported(RootPath)
	return nil
}

// ExportPath publishes a single property path. Exporting an already
// exported path is a no-op.
func (c *Client) ExportPath(path string, h Handler) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if c.isExported(path) {
		return nil
	}
	i := &item{path: path, h: h}
	if err := exportPair(conn, path, i, itemProperties(i)); err != nil {
		return err
	}
	c.markExported(path)
	return nil
}

func exportPair(conn *godbus.Conn, path string, busItem, props any) error {
	op := godbus.ObjectPath(path)
	if !op.IsValid() {
		return fmt.Errorf("%w: invalid object path %q", ErrExportFailed, path)
	}
	if err := conn.Export(busItem, op, BusItemInterface); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExportFailed, path, err)
	}
	if err := conn.Export(props, op, PropertiesInterface); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExportFailed, path, err)
	}
	return nil
}

func (c *Client) isExported(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.exported[godbus.ObjectPath(path)]
	return ok
}

func (c *Client) markExported(path string) {
	c.mu.Lock()
	c.exported[godbus.ObjectPath(path)] = struct{}{}
	c.mu.Unlock()
}

// UnexportAll removes every exported object.
func (c *Client) UnexportAll() {
	conn, err := c.live()
	if err != nil {
		return
	}
	c.mu.Lock()
	paths := make([]godbus.ObjectPath, 0, len(c.exported))
	for p := range c.exported {
		paths = append(paths, p)
	}
	c.exported = make(map[godbus.ObjectPath]struct{})
	c.mu.Unlock()

	for _, p := range paths {
		_ = conn.Export(nil, p, BusItemInterface)
		_ = conn.Export(nil, p, PropertiesInterface)
	}
}

// RequestName claims a well-known name without queueing. ErrNameTaken is
// returned when another connection already owns it.
func (c *Client) RequestName(name string) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(name, godbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("%w: RequestName %s: %w", ErrCallFailed, name, err)
	}
	switch reply {
	case godbus.RequestNameReplyPrimaryOwner, godbus.RequestNameReplyAlreadyOwner:
	default:
		return fmt.Errorf("%w: %s", ErrNameTaken, name)
	}

	c.mu.Lock()
	c.names = append(c.names, name)
	c.mu.Unlock()
	return nil
}

// Emit sends a signal from path.
func (c *Client) Emit(path, iface, member string, args ...any) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if err := conn.Emit(godbus.ObjectPath(path), iface+"."+member, args...); err != nil {
		return fmt.Errorf("%w: emit %s.%s: %w", ErrCallFailed, iface, member, err)
	}
	return nil
}

// Call invokes iface.method on dest at path and returns the reply body.
func (c *Client) Call(ctx context.Context, dest, path, iface, method string, args ...any) ([]any, error) {
	conn, err := c.live()
	if err != nil {
		return nil, err
	}
	call := conn.Object(dest, godbus.ObjectPath(path)).CallWithContext(ctx, iface+"."+method, 0, args...)
	if call.Err != nil {
		return nil, fmt.Errorf("%w: %s %s.%s: %w", ErrCallFailed, dest, iface, method, call.Err)
	}
	return call.Body, nil
}

// Ping checks the bus daemon with org.freedesktop.DBus.Peer.Ping.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	if call := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.Peer.Ping", 0); call.Err != nil {
		return fmt.Errorf("%w: ping: %w", ErrCallFailed, call.Err)
	}
	return nil
}

// BusID returns the daemon's id; a cheap round trip used as a heartbeat.
func (c *Client) BusID(ctx context.Context) (string, error) {
	conn, err := c.live()
	if err != nil {
		return "", err
	}
	var id string
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.GetId", 0).Store(&id); err != nil {
		return "", fmt.Errorf("%w: GetId: %w", ErrCallFailed, err)
	}
	return id, nil
}

// Connected reports whether the underlying connection is still open.
func (c *Client) Connected() bool {
	conn, err := c.live()
	if err != nil {
		return false
	}
	return conn.Connected()
}

// Close releases owned names and closes the connection. Safe to call
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	names := c.names
	c.names = nil
	c.mu.Unlock()

	for _, n := range names {
		_, _ = conn.ReleaseName(n)
	}
	return conn.Close()
}
