// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tether-dev/tether/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long:  "Merge defaults, the config file and TETHER_ environment overrides, validate the result and print it. Tokens are masked.",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a commented default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	})

	return cmd
}

func runConfig(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	v, err := config.New(path)
	if err != nil {
		return err
	}
	if _, err := config.FromViper(v); err != nil {
		return err
	}

	out, err := config.Dump(v)
	if err != nil {
		return err
	}
	if used := v.ConfigFileUsed(); used != "" {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		def, err := config.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = def
	}

	wrote, err := config.WriteDefault(path)
	if err != nil {
		return err
	}
	if !wrote {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, left unchanged\n", path)
		return nil
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
