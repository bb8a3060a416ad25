// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/gradchat/internal/model"
	"github.com/jeranaias/gradchat/internal/session"
	"github.com/jeranaias/gradchat/internal/storage"
)

func newSessionsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Manage saved chat sessions",
		Long: `List, show and delete the conversations saved by "gradchat chat --session".

Running "gradchat sessions" without a subcommand lists them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listSessions(cmd, false)
		},
	}

	var jsonOut bool
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved sessions, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listSessions(cmd, jsonOut)
		},
	}
	list.Flags().BoolVar(&jsonOut, "json", false, "print the list as JSON")

	var showJSON bool
	show := &cobra.Command{
		Use:   "show NAME",
		Short: "Print a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			conv, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if showJSON {
				return NewJSONResponse("sessions show", conv.Messages()).Print(a.stdout)
			}
			printConversation(a, args[0], conv)
			return nil
		},
	}
	show.Flags().BoolVar(&showJSON, "json", false, "print the messages as JSON")

	del := &cobra.Command{
		Use:     "delete NAME",
		Aliases: []string{"rm"},
		Short:   "Delete a saved session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			mgr := session.NewManager(store, a.cfg.SessionConfig(), a.logger)
			if err := mgr.Forget(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, SuccessStyle.Render("Deleted session "+args[0]+"."))
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func (a *app) listSessions(cmd *cobra.Command, jsonOut bool) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if jsonOut {
		return outputJSON(a.stdout, "sessions list", func() (any, error) {
			return store.List(cmd.Context())
		})
	}

	metas, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, storage.FormatSessionList(metas))
	return nil
}

func printConversation(a *app, name string, conv *model.Conversation) {
	fmt.Fprintln(a.stdout, TitleStyle.Render(name))
	fmt.Fprintln(a.stdout, RenderSeparator(50))
	for _, msg := range conv.Messages() {
		fmt.Fprintln(a.stdout, formatHistoryLine(msg, 0))
		if msg.Reasoning != "" {
			fmt.Fprintln(a.stdout, DimStyle.Render("  reasoning: "+msg.Reasoning))
		}
	}
}
