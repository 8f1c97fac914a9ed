package cmd

import (
	"github.com/named-data/ndnnet/std/utils"
	"github.com/named-data/ndnnet/tools/netmon"
	"github.com/spf13/cobra"
)

const banner = `
  _   _ ____  _   _            _
 | \ | |  _ \| \ | |_ __   ___| |_
 |  \| | | | |  \| | '_ \ / _ \ __|
 | |\  | |_| | |\  | | | |  __/ |_
 |_| \_|____/|_| \_|_| |_|\___|\__|

Network monitoring for NDN applications
`

var CmdNDNnet = &cobra.Command{
	Use:     "ndnnet",
	Short:   "Network monitoring for NDN applications",
	Long:    banner[1:],
	Version: utils.NDNnetVersion,
}

func init() {
	cobra.EnableCommandSorting = false
	CmdNDNnet.Root().CompletionOptions.HiddenDefaultCmd = true
	CmdNDNnet.PersistentFlags().BoolP("help", "h", false, "Print usage")
	CmdNDNnet.PersistentFlags().Lookup("help").Hidden = true

	CmdNDNnet.AddGroup(&cobra.Group{ID: "netmon", Title: "Network Monitor"})
	CmdNDNnet.AddCommand(netmon.CmdNetmon())
}
