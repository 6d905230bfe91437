// Command localclaw runs the personal automation gateway and talks to a
// running instance over its control API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/localclaw/internal/model"
)

var configPath string

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "localclaw",
	Short: "Multi-channel polling gateway with local AI replies",
	Long: `localclaw polls your mail, notification and course inboxes, drafts
replies with a local Ollama model and, when allowed, sends them.

Run "localclaw serve" to start the gateway. The other commands talk to a
running gateway or manage its configuration and credentials.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", model.DefaultConfigPath(), "Path to the configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
