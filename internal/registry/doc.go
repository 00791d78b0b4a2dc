// Package registry tracks the connections currently being served and fans
// messages out to them.
//
// Register, Deregister and Broadcast all serialize on a single mutex. A
// broadcast therefore sees a stable membership for its whole fan-out and a
// peer can never be removed (and closed by its owner) in the middle of a
// write. The lock is held across every peer write, so broadcast latency grows
// with the number of peers.
package registry
