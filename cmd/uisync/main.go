// Command uisync serves the demo application and manages uisync.json.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/uisync/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if ue, ok := errors.As(err); ok {
			fmt.Fprint(os.Stderr, ue.Format())
		} else {
			fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "uisync",
		Short: "Server runtime for synchronized component UIs",
		Long: `uisync keeps a server-side component tree in sync with a thin
browser client.

The server parses client bursts, dispatches invocations to connectors
under the session lock, and answers with UIDL responses over HTTP, or
pushes them over WebSocket, streaming or long polling.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		initCmd(),
		explainCmd(),
		versionCmd(),
	)
	return rootCmd
}

// success prints a success message.
func success(w *os.File, format string, args ...any) {
	fmt.Fprintf(w, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(w *os.File, format string, args ...any) {
	fmt.Fprintf(w, "  %s\n", fmt.Sprintf(format, args...))
}
