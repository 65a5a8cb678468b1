// Package session owns the per-connection IRC state machine.
//
// Ownership boundary:
// - connection phase (Disconnected -> Connecting -> Registering -> Ready)
// - channel rosters, own nickname and ISUPPORT features
// - the closed set of domain events derived from inbound frames
//
// A Machine is owned by exactly one goroutine. Other components observe it
// only through the events and snapshots it returns.
package session
