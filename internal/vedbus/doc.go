// Package vedbus publishes one virtual Venus OS device on D-Bus.
//
// A Service owns a dedicated bus connection and exports the
// com.victronenergy.BusItem object model for its paths, mirrored through
// org.freedesktop.DBus.Properties. On connect it registers in stages:
//
//  1. export every known path locally
//  2. propose "{serviceType}:{localIndex}" to the settings registrar and
//     adopt the instance it assigns (keeps the local index on failure)
//  3. claim the well-known service name (must succeed)
//  4. announce the full item set with ItemsChanged (best effort)
//
// A single supervisor goroutine then runs the heartbeat, daemon health and
// registration checks. Transport failures move the service to Reconnecting
// with exponential backoff; a lost name binding triggers a full
// re-registration on the existing connection.
//
// Change signals are emitted only once the device has a serial number.
package vedbus
