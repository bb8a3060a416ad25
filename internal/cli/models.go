// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newModelsCommand(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models the service offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			transport := a.newTransport(a.cfg, a.logger)
			models := transport.ListModels(cmd.Context())
			if models == nil {
				models = []string{}
			}

			if jsonOut {
				return NewJSONResponse("models", models).Print(a.stdout)
			}
			if len(models) == 0 {
				fmt.Fprintln(a.stderr, WarningStyle.Render("No models available (the model list could not be fetched)."))
				return nil
			}
			fmt.Fprint(a.stdout, formatModelList(models, a.cfg.Generation.Model))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the list as JSON")
	return cmd
}

// formatModelList renders one model per line, marking current with "*".
func formatModelList(models []string, current string) string {
	var sb strings.Builder
	for _, m := range models {
		marker := "  "
		if m == current {
			marker = "* "
		}
		sb.WriteString(marker + m + "\n")
	}
	return sb.String()
}
