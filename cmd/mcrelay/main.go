package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mcrelay",
		Short:         "mcrelay relays Minecraft connections and mediates cookie requests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newDecodeCmd(), newConfigCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			if BuildTime == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "mcrelay %s\n", Version)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mcrelay %s (%s)\n", Version, BuildTime)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mcrelay: %v\n", err)
		os.Exit(1)
	}
}
