package netmon

import (
	"time"

	"github.com/named-data/ndnnet/std/log"
	nm "github.com/named-data/ndnnet/std/net/netmon"
	"github.com/spf13/cobra"
)

// CmdNetmon returns the network monitor command tree.
func CmdNetmon() *cobra.Command {
	cmd := &cobra.Command{
		GroupID: "netmon",
		Use:     "netmon",
		Short:   "Network interface monitor",
		Long: `Network interface monitor

Enumerates the network interfaces of the host and follows changes
to links and addresses through rtnetlink.`,
	}

	list := &ListTool{}
	cmdList := &cobra.Command{
		Use:     "list [CONFIG-FILE]",
		Short:   "Print network interfaces and addresses",
		Args:    cobra.MaximumNArgs(1),
		Example: `  ndnnet netmon list`,
		Run:     list.run,
	}
	cmdList.Flags().DurationVarP(&list.timeout, "timeout", "t", 5*time.Second, "time to wait for the enumeration")
	cmd.AddCommand(cmdList)

	watch := &WatchTool{}
	cmdWatch := &cobra.Command{
		Use:   "watch [CONFIG-FILE]",
		Short: "Print network changes until interrupted",
		Long: `Print network changes until interrupted.
If metrics.listen is configured, a Prometheus exporter is served on /metrics.`,
		Args:    cobra.MaximumNArgs(1),
		Example: `  ndnnet netmon watch netmon.yml`,
		Run:     watch.run,
	}
	cmdWatch.Flags().StringVar(&watch.listen, "metrics", "", "Prometheus exporter listen address, overrides metrics.listen")
	cmd.AddCommand(cmdWatch)

	genl := &GenlFamilyTool{}
	cmdGenl := &cobra.Command{
		Use:     "genl-family NAME",
		Short:   "Query a generic netlink family",
		Args:    cobra.ExactArgs(1),
		Example: `  ndnnet netmon genl-family nl80211`,
		Run:     genl.run,
	}
	cmdGenl.Flags().DurationVarP(&genl.timeout, "timeout", "t", 5*time.Second, "time to wait for the kernel")
	cmd.AddCommand(cmdGenl)

	return cmd
}

// loadConfig reads the optional configuration file and sets up logging.
// The returned function closes the log file.
func loadConfig(tag any, args []string) (*nm.Config, func()) {
	config := nm.DefaultConfig()
	if len(args) > 0 {
		var err error
		if config, err = nm.ReadConfig(args[0]); err != nil {
			log.Fatal(tag, "Unable to read configuration", "err", err)
		}
	}

	logger, closer, err := log.Open(config.LogFile, config.LogLevel)
	if err != nil {
		log.Fatal(tag, "Unable to open log", "err", err)
	}
	log.SetDefault(logger)

	return config, func() { closer() }
}
