// Package transport carries messages between nodes over persistent TCP
// links.
//
// Framing is one JSON object per line; the only required field is the
// sender's logical clock value at send time. A node's listening endpoint
// is derived deterministically from its id: port = basePort + id.
//
// The listener side tolerates malformed lines (logged and dropped) and
// connection loss (that receive loop ends, others continue). The dialer
// side retries refused connections up to a bounded budget, then reports
// failure instead of blocking. Send never retries - retry policy belongs
// to the node, not the transport.
package transport

import (
	"net"
	"strconv"
)

// DefaultBasePort matches the reference deployment's port scheme.
const DefaultBasePort = 5000

// Message is the wire record. Immutable once constructed.
type Message struct {
	Clock int64 `json:"clock"`
}

// Addr resolves a node id to its well-known endpoint.
func Addr(host string, basePort, nodeID int) string {
	return net.JoinHostPort(host, strconv.Itoa(basePort+nodeID))
}
