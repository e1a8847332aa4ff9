// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ioengine/ioengine/pkg/ioengine"
)

// NewLoadCmd creates the load subcommand.
func NewLoadCmd() *cobra.Command {
	var (
		call   string
		unload bool
	)

	cmd := &cobra.Command{
		Use:   "load <dir>...",
		Short: "Load packages and list their services",
		Long: `Load each package directory in order, then print the package
table and the registered services. Loading stops at the first
package that fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, args, call, unload)
		},
	}

	cmd.Flags().StringVar(&call, "call", "", "operation to invoke after loading (service.operation)")
	cmd.Flags().BoolVar(&unload, "unload", false, "unload every package before exiting")

	return cmd
}

func runLoad(cmd *cobra.Command, dirs []string, call string, unload bool) (err error) {
	var target callTarget
	if call != "" {
		if target, err = parseCallTarget(call); err != nil {
			return err
		}
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer func() {
		if closeErr := eng.Close(ctx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for _, dir := range dirs {
		if _, err := eng.LoadPackage(ctx, dir); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	printPackages(out, eng.Packages())
	printServices(out, eng.Services())

	if call != "" {
		if err := target.invoke(ctx, eng, out); err != nil {
			return err
		}
	}

	if unload {
		for _, p := range eng.Packages() {
			if err := eng.UnloadPackage(ctx, p.ID); err != nil {
				return err
			}
			//nolint:errcheck // output write errors are not actionable
			fmt.Fprintf(out, "unloaded %s (%s)\n", p.Name, p.ID)
		}
	}
	return nil
}

func printPackages(out io.Writer, packages []ioengine.PackageInfo) {
	//nolint:errcheck // output write errors are not actionable
	fmt.Fprintf(out, "packages: %d\n", len(packages))
	for _, p := range packages {
		version := p.Version
		if version == "" {
			version = "-"
		}
		//nolint:errcheck // output write errors are not actionable
		fmt.Fprintf(out, "  %s %s %s services=%d dir=%s\n", p.ID, p.Name, version, p.Services, p.Dir)
	}
}
