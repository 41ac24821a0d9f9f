package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&confPathFlag, "conf", "/etc/xorp-fea/conf.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "one of trace, debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&logTimeFlag, "log-time", false, "include timestamps in the log")
}

var (
	rootCmd = &cobra.Command{
		Use:   "xorp-fea",
		Short: "Keep a view of the kernel's interfaces and routes over netlink.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Get the built version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("built commit: %s\n", builtCommit)
		},
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Track the kernel and serve what we learn.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := ReadConf(confPathFlag)
			if err != nil {
				return err
			}
			return run(cmd.Context(), conf, confPathFlag)
		},
	}

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Print the kernel's current state and exit.",
	}

	dumpLinksCmd = &cobra.Command{
		Use:   "links",
		Short: "Print every link.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dump(cmd.Context(), cmd.OutOrStdout(), confPathFlag, dumpLinks)
		},
	}

	dumpAddrsCmd = &cobra.Command{
		Use:   "addrs",
		Short: "Print every address.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dump(cmd.Context(), cmd.OutOrStdout(), confPathFlag, dumpAddrs)
		},
	}

	dumpRoutesCmd = &cobra.Command{
		Use:   "routes",
		Short: "Print every route.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dump(cmd.Context(), cmd.OutOrStdout(), confPathFlag, dumpRoutes)
		},
	}

	getLinkCmd = &cobra.Command{
		Use:   "get-link <index>",
		Short: "Ask the kernel for a single link.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("bad interface index %q: %w", args[0], err)
			}
			return getLink(cmd.Context(), cmd.OutOrStdout(), confPathFlag, uint32(index))
		},
	}

	confPathFlag string
	logLevelFlag string
	logTimeFlag  bool
	builtCommit  = "dev"
)

func init() {
	// Disable completion please!
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Add the different sub-commands
	dumpCmd.AddCommand(dumpLinksCmd, dumpAddrsCmd, dumpRoutesCmd)
	rootCmd.AddCommand(versionCmd, runCmd, dumpCmd, getLinkCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
