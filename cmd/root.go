package cmd

import (
	"fmt"
	"os"

	"jrpc/cmd/call"
	"jrpc/cmd/serve"

	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "jrpc",
		Short: "RPC server transport and dispatch core",
		Long: fmt.Sprintf(`jrpc (v%s)

A multiplexed RPC server over a binary frame protocol, with heartbeat based
liveness, a bounded business pool and an interceptor chain around every call.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of jrpc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("jrpc v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(call.CallCmd)
	RootCmd.AddCommand(call.PingCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
