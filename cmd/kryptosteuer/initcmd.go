// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kryptosteuer/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "write a starter config file populated with the built-in defaults",
	Args:  cobra.MaximumNArgs(1),
	// The root command's PersistentPreRunE loads an existing config file;
	// init exists precisely when there is none yet, so skip the load.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "kryptosteuer.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, not overwriting", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
		return nil
	},
}
