package netmon

import (
	"fmt"
	"net/netip"
)

// NetworkAddress is an IP address assigned to an interface.
type NetworkAddress struct {
	Family       AddressFamily
	IP           netip.Addr
	Broadcast    netip.Addr
	PrefixLength uint8
	Scope        AddressScope
	// OS-specific flags
	Flags uint32
}

// Prefix returns the subnet of the address.
func (a NetworkAddress) Prefix() netip.Prefix {
	p, err := a.IP.WithZone("").Prefix(int(a.PrefixLength))
	if err != nil {
		return netip.Prefix{}
	}
	return p
}

// IsLoopback reports whether the address is a loopback address.
func (a NetworkAddress) IsLoopback() bool {
	return a.IP.IsLoopback()
}

// IsDeprecated reports whether the address should not be used for new connections.
func (a NetworkAddress) IsDeprecated() bool {
	return a.Flags&AddrFlagDeprecated != 0
}

// Compare orders addresses by IP.
func (a NetworkAddress) Compare(b NetworkAddress) int {
	return a.IP.Compare(b.IP)
}

func (a NetworkAddress) String() string {
	return fmt.Sprintf("%s/%d", a.IP, a.PrefixLength)
}
