// Package bridge connects Signal K to Venus OS.
//
// Every Signal K update is classified into a device class, converted to
// Venus OS units and written to the virtual device owning its base path,
// which is created on first use. Units:
//
//	temperature   K → °C (values above 200 are taken as Kelvin)
//	ratios        0..1 → % (values above 1 are taken as percent)
//	pressure      Pa → hPa
//	switch state  bool → 0/1
//
// Batteries additionally get derived properties: /Dc/0/Power when the
// source supplies none, /ConsumedAmphours and /History/* from the history
// engine, and /TimeToGo. Tanks get /Volume and /FluidType.
//
// Messages from the broker are decoded by HandleMessage and each reading
// is queued with Dispatch on a worker owned by its base path. A device
// still registering on D-Bus delays only its own readings.
//
// Accepted remote writes to a switch's /State or /DimmingLevel are sent
// back to Signal K as PUT requests.
package bridge
