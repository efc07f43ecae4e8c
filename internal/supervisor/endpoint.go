package supervisor

import (
	"net"
	"strconv"
)

// Endpoint is the address the managed process announced. It is immutable
// once discovered.
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the websocket URL, e.g. ws://localhost:9515.
func (e Endpoint) URL() string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "ws"
	}
	return scheme + "://" + e.Address()
}

// String implements fmt.Stringer.
func (e Endpoint) String() string {
	return e.URL()
}

// IsZero reports whether no endpoint has been discovered.
func (e Endpoint) IsZero() bool {
	return e.Port == 0
}
