// Command chat is a terminal client for the messenger service. It wires
// the REST client, the websocket event channel and the sync engine into
// an interactive message view.
package main

import (
	"fmt"
	"os"

	"github.com/messenger/client-go/internal/logger"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	flagServerURL string
	flagSocketURL string
	flagToken     string
	flagUserID    string
)

var rootCmd = &cobra.Command{
	Use:     "chat",
	Short:   "Terminal client for the messenger service",
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	logger.SetPrefix("chat")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&flagServerURL, "server", "", "REST base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagSocketURL, "socket", "", "event channel URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token (or CHAT_TOKEN, or prompted)")
	rootCmd.PersistentFlags().StringVarP(&flagUserID, "user", "u", "", "own user id (or CHAT_USER_ID)")

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(friendsCmd)
	rootCmd.AddCommand(openCmd)
}
