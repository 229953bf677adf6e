// Package netaddr provides the Address value type shared by the wire
// codec, the session table, and the transport wrappers.
package netaddr

import (
	"fmt"
	"net"
)

// Address is a (host, port) tuple. Two addresses are equal iff both
// components match.
type Address struct {
	Host string
	Port uint16
}

// String renders the address as host:port, used as the ClientPool key.
func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Equal reports whether a and other refer to the same endpoint.
func (a Address) Equal(other Address) bool {
	return a.Host == other.Host && a.Port == other.Port
}

// FromUDPAddr converts a resolved net.UDPAddr into an Address.
func FromUDPAddr(addr *net.UDPAddr) Address {
	return Address{Host: addr.IP.String(), Port: uint16(addr.Port)}
}

// UDPAddr resolves the Address back into a net.UDPAddr suitable for
// net.DialUDP/WriteToUDP.
func (a Address) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", a.String())
}

// WithPort returns a copy of a with Port replaced.
func (a Address) WithPort(port uint16) Address {
	return Address{Host: a.Host, Port: port}
}
