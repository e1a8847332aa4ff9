// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ioengine/ioengine/internal/lifecycle"
	"github.com/ioengine/ioengine/pkg/errutil"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>...",
		Short: "Validate package descriptors without running them",
		Long: `Validates each package's config.yaml against the descriptor schema,
checks its version and capability patterns, and compiles the entry
point. Nothing is executed. Exits non-zero if any package is invalid.

Useful in CI pipelines to catch packaging errors early:
  ioengine validate packages/*`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, dir := range args {
				d, err := lifecycle.Check(dir)
				if err != nil {
					failed++
					errutil.LogError(logger, "package invalid", err, "dir", dir)
					//nolint:errcheck // output write errors are not actionable
					fmt.Fprintf(out, "FAIL %s: %s\n", dir, lifecycle.FormatSchemaError(err))
					continue
				}
				//nolint:errcheck // output write errors are not actionable
				fmt.Fprintf(out, "ok   %s (%s)\n", dir, d.DisplayName())
				if d.Version != "" {
					if _, err := d.SemVer(); err != nil {
						//nolint:errcheck // output write errors are not actionable
						fmt.Fprintf(out, "     warning: version %q is not a semantic version\n", string(d.Version))
					}
				}
			}

			if failed > 0 {
				return oops.In("cli").Errorf("validation failed: %d of %d packages invalid", failed, len(args))
			}
			return nil
		},
	}
}
