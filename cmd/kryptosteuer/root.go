// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

// Package main is the kryptosteuer CLI entry point: a Cobra command tree
// with Viper-backed configuration loaded in PersistentPreRunE, so config
// errors surface before any subcommand runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kryptosteuer/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kryptosteuer",
	Short: "FIFO crypto tax engine for German private individuals",
	Long: "kryptosteuer computes §23 EStG private-sale gains/losses and §22 Nr. 3 " +
		"other income from exchange exports, using first-in-first-out lot matching " +
		"and historical EUR valuation.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
}

// Execute runs the command tree, exiting 1 on a CLI/config error. Exit
// codes: 0 success, 1 fatal configuration error, 2 at least one
// error-severity diagnostic was emitted during a run.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kryptosteuer:", err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
