package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "sandboxd",
	Short: "Sandboxd - sandboxed tool execution supervisor",
	Long: `Sandboxd runs untrusted, model-authored instructions inside ephemeral
Docker containers with no network access and hard resource limits.

It exposes an HTTP API for tool discovery, tool execution, and artifact
download. Each job gets its own workspace directory bind-mounted into
the container; everything the job produces stays downloadable after the
container is gone.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to config file (default: ./sandboxd.yaml, $HOME/.sandboxd/sandboxd.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
