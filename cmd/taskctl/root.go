package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:8080"

type rootOptions struct {
	server  string
	timeout time.Duration
}

func (o *rootOptions) client() (*serverClient, error) {
	return newServerClient(o.server, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "taskctl",
		Short:         "Submit and follow analysis tasks on a taskwatch server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("TASKWATCH_URL")
	if server == "" {
		server = defaultServerURL
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "taskwatch server URL (env TASKWATCH_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-request timeout")

	root.AddCommand(
		submitCmd(opts),
		statusCmd(opts),
		resultCmd(opts),
		clearCmd(opts),
		resumeCmd(opts),
		watchCmd(opts),
	)
	return root
}
