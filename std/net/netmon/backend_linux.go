//go:build linux

package netmon

import (
	"github.com/named-data/ndnnet/std/net/netlink"
	"golang.org/x/sys/unix"
)

func newPlatformBackend(cfg *Config, sig *Signals, onFatal func(error)) (backend, error) {
	conn, err := netlink.Dial(unix.NETLINK_ROUTE, cfg.Netlink)
	if err != nil {
		return nil, err
	}
	return newNetlinkBackend(conn, netlink.NewSequencer(), sig, onFatal)
}
