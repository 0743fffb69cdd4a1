// Package device maps Signal K paths onto virtual Venus OS devices.
//
// The Registry owns the base path to device mapping. A device is created
// lazily on the first update for a new base path: an IndexProvider derives
// its local index, naming derives its display name and a Factory builds its
// protocol service. Concurrent updates for a base path that is still being
// created wait on the creation (bounded) instead of creating it twice.
//
//	electrical.batteries.house.voltage ──┐
//	electrical.batteries.house.current ──┼──▶ base "electrical.batteries.house"
//	electrical.batteries.house.capacity… ┘        index 305, "Battery House"
//
// Two index schemes exist: HashIndexProvider (stateless, the default) and
// SQLiteIndexProvider, which persists the first index handed out for each
// base path. Neither resolves collisions between distinct base paths.
package device
