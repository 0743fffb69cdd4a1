// Package dbus provides the D-Bus transport used to publish virtual Venus OS
// devices.
//
// This package manages:
//   - Dialling the system bus or an explicit address (TCP for remote GX devices)
//   - Exporting the com.victronenergy.BusItem object model and its
//     org.freedesktop.DBus.Properties mirror
//   - Emitting change signals
//   - Request/response calls, name ownership and daemon pings
//   - The value codec: typed scalars to variants and the "invalid" sentinel
//
// Each virtual device dials its own Client; connections are never shared
// between devices.
//
// Usage:
//
//	c, err := dbus.Dial(ctx, "system")
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	if err := c.ExportRoot(handler); err != nil {
//	    return err
//	}
//	if err := c.RequestName("com.victronenergy.battery.sk_658"); err != nil {
//	    return err
//	}
package dbus
