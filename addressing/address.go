package addressing

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Address is a resolvable host and port pair.
type Address struct {
	Host string
	Port int
}

// New returns an address for the given host and port.
func New(host string, port int) Address {
	return Address{Host: host, Port: port}
}

// Local returns an address on localhost.
func Local(port int) Address {
	return Address{Host: "localhost", Port: port}
}

// Parse converts a "host:port" string into an Address.
func Parse(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid port in address %q: %w", s, err)
	}
	return Address{Host: host, Port: port}, nil
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Equal reports whether two addresses have the same host and port.
func (a Address) Equal(other Address) bool {
	return a.Host == other.Host && a.Port == other.Port
}

// List is an ordered collection of addresses.
type List []Address

// ParseList converts a whitespace-separated list of "host:port" strings.
func ParseList(s string) (List, error) {
	var list List
	for _, part := range strings.Fields(s) {
		addr, err := Parse(part)
		if err != nil {
			return nil, err
		}
		list = append(list, addr)
	}
	return list, nil
}

func (l List) String() string {
	parts := make([]string, len(l))
	for i, a := range l {
		parts[i] = a.String()
	}
	return strings.Join(parts, " ")
}
