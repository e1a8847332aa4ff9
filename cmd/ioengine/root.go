// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ioengine/ioengine/internal/logging"
	"github.com/ioengine/ioengine/pkg/ioengine"
)

const serviceName = "ioengine"

// NewRootCmd creates the root command for the ioengine CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ioengine",
		Short: "ioengine - a minimal Lua extension host",
		Long: `ioengine runs Lua extension code in isolated namespaces.
Packages register services through a small host API; the host
lists and invokes them.`,
		SilenceUsage: true,
	}

	addConfigFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewLoadCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewServeCmd())

	return cmd
}

// setup loads the configuration and builds the logger for cmd.
func setup(cmd *cobra.Command) (*Config, *slog.Logger, error) {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.Setup(serviceName, version, cfg.LogFormat, level, cmd.ErrOrStderr())
	return cfg, logger, nil
}

// newEngine builds an engine from cfg. showMessage output goes to out.
func newEngine(cfg *Config, logger *slog.Logger, out io.Writer, opts ...ioengine.Option) (*ioengine.Engine, error) {
	base := []ioengine.Option{
		ioengine.WithLogger(logger),
		ioengine.WithMessageSink(func(text string) {
			//nolint:errcheck // output write errors are not actionable
			fmt.Fprintln(out, text)
		}),
		ioengine.WithCompileCacheSize(cfg.CompileCache),
	}
	if cfg.FullStdlib {
		base = append(base, ioengine.WithFullStdlib())
	}
	return ioengine.New(append(base, opts...)...)
}

// callTarget is a "service.operation" reference given with --call.
type callTarget struct {
	service   string
	operation string
}

func parseCallTarget(s string) (callTarget, error) {
	service, op, ok := strings.Cut(s, ".")
	if !ok || service == "" || op == "" {
		return callTarget{}, oops.In("cli").With("call", s).
			Errorf("--call must look like service.operation, got %q", s)
	}
	return callTarget{service: service, operation: op}, nil
}

// invoke calls the target operation on the first service with a matching name.
func (t callTarget) invoke(ctx context.Context, eng *ioengine.Engine, out io.Writer) error {
	for _, svc := range eng.Services() {
		if svc.Name() != t.service {
			continue
		}
		results, err := svc.Call(ctx, t.operation)
		if err != nil {
			return err
		}
		for _, r := range results {
			//nolint:errcheck // output write errors are not actionable
			fmt.Fprintf(out, "%v\n", r)
		}
		return nil
	}
	return oops.In("cli").Code(ioengine.CodeOperationNotFound).
		With("service", t.service).
		Errorf("no service named %q", t.service)
}

// printServices writes one line per registered service.
func printServices(out io.Writer, services []*ioengine.Service) {
	//nolint:errcheck // output write errors are not actionable
	fmt.Fprintf(out, "services: %d\n", len(services))
	for i, svc := range services {
		//nolint:errcheck // output write errors are not actionable
		fmt.Fprintf(out, "  [%d] %s\n", i, svc)
	}
}
