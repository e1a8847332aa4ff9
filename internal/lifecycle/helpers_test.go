// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package lifecycle_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ioengine/ioengine/internal/capability"
	"github.com/ioengine/ioengine/internal/lifecycle"
	"github.com/ioengine/ioengine/internal/registry"
	"github.com/ioengine/ioengine/internal/sandbox"
)

type messages struct {
	mu   sync.Mutex
	list []string
}

func (m *messages) sink(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = append(m.list, text)
}

func (m *messages) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.list...)
}

type fixture struct {
	manager  *lifecycle.Manager
	registry *registry.Registry
	messages *messages
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	msgs := &messages{}
	reg := registry.New()
	surface := capability.NewSurface().
		With(capability.NameShowMessage, capability.ShowMessage(msgs.sink)).
		With(capability.NameRegister, sandbox.Register)

	m := lifecycle.NewManager(sandbox.NewStateFactory(), reg, surface,
		lifecycle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() {
		require.NoError(t, m.Close(context.Background()))
	})
	return &fixture{manager: m, registry: reg, messages: msgs}
}

// writePackage creates root/name with the given files and returns its path.
func writePackage(t *testing.T, root, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return dir
}

const echoDescriptor = `
name: echo
version: 1.0.0
entrypoint: main.lua
`

const echoSource = `
api.register{
	type = "service",
	name = "echo",
	run = function() api.showMessage("hi") end,
}
`
