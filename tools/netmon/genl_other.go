//go:build !linux

package netmon

import (
	"errors"
	"time"

	"github.com/named-data/ndnnet/std/log"
	"github.com/spf13/cobra"
)

type GenlFamilyTool struct {
	timeout time.Duration
}

func (t *GenlFamilyTool) String() string {
	return "netmon-genl-family"
}

func (t *GenlFamilyTool) run(_ *cobra.Command, args []string) {
	log.Fatal(t, "Generic netlink is only available on Linux", "err", errors.ErrUnsupported)
}
