// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/gradchat/internal/config"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long: `View and modify configuration.

Running "gradchat config" without a subcommand shows the effective
configuration, including environment overrides.`,
		Example: `  gradchat config show
  gradchat config get generation.model
  gradchat config set generation.context_size 8
  gradchat config init`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showConfig(false)
		},
	}

	var jsonOut bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showConfig(jsonOut)
		},
	}
	show.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")

	path := &cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(a.stdout, a.configFileForWrite())
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := a.configFileForWrite()
			if _, err := os.Stat(target); err == nil && !force {
				return usageErrorf("%s already exists (use --force to overwrite)", target)
			}
			if err := config.SaveTOML(config.Default(), target); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, SuccessStyle.Render("Wrote "+target))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	get := &cobra.Command{
		Use:   "get KEY",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.cfg.Get(args[0])
			if err != nil {
				return withKeyHint(err)
			}
			fmt.Fprintln(a.stdout, v)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a value in the configuration file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.setConfig(args[0], args[1])
		},
	}

	cmd.AddCommand(show, path, initCmd, get, set)
	return cmd
}

func (a *app) showConfig(jsonOut bool) error {
	if jsonOut {
		return NewJSONResponse("config show", a.cfg).Print(a.stdout)
	}
	text, err := a.cfg.TOML()
	if err != nil {
		return err
	}
	if file := a.activeConfigFile(); file != "" {
		fmt.Fprintln(a.stdout, DimStyle.Render("# "+file))
	} else {
		fmt.Fprintln(a.stdout, DimStyle.Render("# defaults (no config file)"))
	}
	fmt.Fprint(a.stdout, text)
	return nil
}

// configFileForWrite is the --config path, the file Load found, or the
// default TOML path.
func (a *app) configFileForWrite() string {
	if file := a.activeConfigFile(); file != "" {
		return file
	}
	return config.ConfigPath()
}

// setConfig changes one key in the file on disk. Environment overrides are
// not written back. Only TOML files can be rewritten.
func (a *app) setConfig(key, value string) error {
	target := a.configFileForWrite()
	if ext := strings.ToLower(filepath.Ext(target)); ext != ".toml" {
		return usageErrorf("config set only rewrites TOML files, not %s", filepath.Base(target))
	}

	cfg := config.Default()
	if _, err := os.Stat(target); err == nil {
		cfg, err = config.ReadFile(target)
		if err != nil {
			return err
		}
	}

	if err := cfg.Set(key, value); err != nil {
		return withKeyHint(err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveTOML(cfg, target); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s = %s\n", key, value)
	return nil
}

func withKeyHint(err error) error {
	if errors.Is(err, config.ErrUnknownKey) {
		return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(config.GetAllKeys(), ", "))
	}
	return err
}
