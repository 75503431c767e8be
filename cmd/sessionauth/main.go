// Command sessionauth signs in to ReviewPulse from a terminal and keeps the
// session across invocations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "dev"

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sessionauth",
		Short: "Sign in to ReviewPulse and call its API",
		Long: `sessionauth signs in against the configured Cognito user pool, answers
one-time code challenges and keeps the session between runs.

Settings come from $XDG_CONFIG_HOME/sessionauth/config.yaml (or --config)
and can be overridden with flags.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	registerConfigFlags(root.PersistentFlags())

	root.AddCommand(
		loginCmd(),
		whoamiCmd(),
		logoutCmd(),
		tokenCmd(),
		routeCmd(),
		apiCmd(),
		statusCmd(),
		serveCmd(),
		demoCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}
