package netmon

import (
	"fmt"
	"os"
	"time"

	"github.com/named-data/ndnnet/std/log"
	nm "github.com/named-data/ndnnet/std/net/netmon"
	"github.com/named-data/ndnnet/std/utils/toolutils"
	"github.com/spf13/cobra"
)

type ListTool struct {
	timeout time.Duration
}

func (t *ListTool) String() string {
	return "netmon-list"
}

func (t *ListTool) run(_ *cobra.Command, args []string) {
	config, cleanup := loadConfig(t, args)
	defer cleanup()

	m := nm.New(config)
	defer m.Close()

	if m.Capabilities()&nm.CapEnum == 0 {
		log.Fatal(t, "Network monitor cannot enumerate interfaces", "err", m.Err())
	}

	completed := make(chan struct{}, 1)
	m.OnEnumerationCompleted.Connect(func(struct{}) { completed <- struct{}{} })
	if err := m.Start(); err != nil {
		log.Fatal(t, "Unable to start network monitor", "err", err)
	}

	select {
	case <-completed:
	case <-time.After(t.timeout):
		log.Fatal(t, "Timeout waiting for interface enumeration")
	}

	for _, ni := range m.ListNetworkInterfaces() {
		printInterface(ni)
	}
}

func printInterface(ni *nm.NetworkInterface) {
	p := toolutils.StatusPrinter{File: os.Stdout, Padding: 12}
	fmt.Fprintf(os.Stdout, "%d: %s\n", ni.Index(), ni.Name())
	p.Print("type", ni.Type())
	p.Print("state", ni.State())
	p.Print("flags", fmt.Sprintf("%#x", ni.Flags()))
	p.Print("mtu", ni.Mtu())
	if mac := ni.EthernetAddress(); len(mac) > 0 {
		p.Print("ether", mac)
	}
	if brd := ni.EthernetBroadcastAddress(); len(brd) > 0 {
		p.Print("brd", brd)
	}
	for _, addr := range ni.NetworkAddresses() {
		value := fmt.Sprintf("%s scope %s", addr, addr.Scope)
		if addr.Broadcast.IsValid() {
			value += fmt.Sprintf(" brd %s", addr.Broadcast)
		}
		if addr.IsDeprecated() {
			value += " deprecated"
		}
		p.Print(addr.Family.String(), value)
	}
}
