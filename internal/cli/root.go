// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Execute runs the gradchat command line and returns the process exit code.
func Execute() int {
	a := newApp(os.Stdout, os.Stderr)
	root := newRootCommand(a)
	if err := root.ExecuteContext(context.Background()); err != nil {
		a.errorf("%v", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "gradchat",
		Short: "Chat with models hosted on the Gradient network",
		Long: `gradchat sends prompts to the Gradient chat service and prints the replies.

It keeps the recent turns of a conversation as context, records every
exchange under a per-run log directory, and can resume named sessions.

Configuration is read from ~/.gradchat/config.toml (or config.yaml /
config.json); GRADCHAT_* environment variables override it.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path (.toml, .yaml or .json)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "diagnostic log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logDir, "log-dir", "", "parent directory for per-run exchange logs")

	root.AddCommand(
		newAskCommand(a),
		newChatCommand(a),
		newModelsCommand(a),
		newSessionsCommand(a),
		newConfigCommand(a),
		newDoctorCommand(a),
		newVersionCommand(a),
	)
	return root
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "gradchat %s\n", Version)
			fmt.Fprintf(a.stdout, "Git Commit: %s\n", GitCommit)
			fmt.Fprintf(a.stdout, "Build Date: %s\n", BuildDate)
			fmt.Fprintf(a.stdout, "Go Version: %s\n", runtime.Version())
			fmt.Fprintf(a.stdout, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
