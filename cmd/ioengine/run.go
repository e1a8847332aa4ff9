// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	var call string

	cmd := &cobra.Command{
		Use:   "run <script.lua>",
		Short: "Execute a Lua script and list the services it registered",
		Long: `Execute a Lua script in a fresh namespace with the base api
(showMessage, register, log, newRequestId), then list the services
it registered. With --call, invoke one operation afterwards:
  ioengine run greet.lua --call greeter.run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd, args[0], call)
		},
	}

	cmd.Flags().StringVar(&call, "call", "", "operation to invoke after the script (service.operation)")

	return cmd
}

func runScript(cmd *cobra.Command, path, call string) (err error) {
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

	source, err := os.ReadFile(path) //nolint:gosec // the script path is supplied by the user
	if err != nil {
		return oops.In("cli").With("script", path).Wrapf(err, "read script")
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

	if err := eng.Execute(ctx, string(source)); err != nil {
		return err
	}
	printServices(cmd.OutOrStdout(), eng.Services())

	if call != "" {
		return target.invoke(ctx, eng, cmd.OutOrStdout())
	}
	return nil
}
