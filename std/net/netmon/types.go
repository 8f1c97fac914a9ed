package netmon

import "strings"

// Capability flags of a monitor backend.
type Capability uint32

const (
	CapNone Capability = 0
	// Can enumerate interfaces and addresses.
	CapEnum Capability = 1 << 0
	// Reports interface addition and removal.
	CapIfAddRemove Capability = 1 << 1
	// Reports interface state changes.
	CapStateChange Capability = 1 << 2
	// Reports MTU changes.
	CapMtuChange Capability = 1 << 3
	// Reports address addition and removal.
	CapAddrAddRemove Capability = 1 << 4
)

func (c Capability) String() string {
	if c == CapNone {
		return "none"
	}
	names := []string{}
	for _, n := range []struct {
		c    Capability
		name string
	}{
		{CapEnum, "enum"},
		{CapIfAddRemove, "if-add-remove"},
		{CapStateChange, "state-change"},
		{CapMtuChange, "mtu-change"},
		{CapAddrAddRemove, "addr-add-remove"},
	} {
		if c&n.c != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// InterfaceType is the hardware type of an interface.
type InterfaceType uint8

const (
	InterfaceTypeUnknown InterfaceType = iota
	InterfaceTypeLoopback
	InterfaceTypeEthernet
)

func (t InterfaceType) String() string {
	switch t {
	case InterfaceTypeLoopback:
		return "loopback"
	case InterfaceTypeEthernet:
		return "ethernet"
	default:
		return "unknown"
	}
}

// InterfaceState is the operational state of an interface.
type InterfaceState uint8

const (
	InterfaceStateUnknown InterfaceState = iota
	// Interface is administratively down.
	InterfaceStateDown
	// Interface is administratively up but has no carrier.
	InterfaceStateNoCarrier
	// Carrier is up, but the interface is waiting for an external event.
	InterfaceStateDormant
	// Interface can transmit and receive packets.
	InterfaceStateRunning
)

func (s InterfaceState) String() string {
	switch s {
	case InterfaceStateDown:
		return "down"
	case InterfaceStateNoCarrier:
		return "no-carrier"
	case InterfaceStateDormant:
		return "dormant"
	case InterfaceStateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// AddressFamily of a NetworkAddress.
type AddressFamily uint8

const (
	AddressFamilyUnspecified AddressFamily = iota
	AddressFamilyV4
	AddressFamilyV6
)

func (f AddressFamily) String() string {
	switch f {
	case AddressFamilyV4:
		return "inet"
	case AddressFamilyV6:
		return "inet6"
	default:
		return "unspecified"
	}
}

// AddressScope of a NetworkAddress.
type AddressScope uint8

const (
	AddressScopeNowhere AddressScope = iota
	AddressScopeHost
	AddressScopeLink
	AddressScopeGlobal
)

func (s AddressScope) String() string {
	switch s {
	case AddressScopeNowhere:
		return "nowhere"
	case AddressScopeHost:
		return "host"
	case AddressScopeLink:
		return "link"
	default:
		return "global"
	}
}

// Interface flags, with the values of the Linux IFF_* constants.
const (
	FlagUp           uint32 = 0x1
	FlagBroadcast    uint32 = 0x2
	FlagLoopback     uint32 = 0x8
	FlagPointToPoint uint32 = 0x10
	FlagRunning      uint32 = 0x40
	FlagMulticast    uint32 = 0x1000
	FlagLowerUp      uint32 = 0x10000
	FlagDormant      uint32 = 0x20000
)

// Address flags, with the values of the Linux IFA_F_* constants.
const (
	AddrFlagSecondary  uint32 = 0x01
	AddrFlagNoDad      uint32 = 0x02
	AddrFlagDeprecated uint32 = 0x20
	AddrFlagTentative  uint32 = 0x40
	AddrFlagPermanent  uint32 = 0x80
)
