// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package lifecycle_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ioengine/ioengine/internal/capability"
	"github.com/ioengine/ioengine/internal/errcode"
	"github.com/ioengine/ioengine/internal/lifecycle"
	"github.com/ioengine/ioengine/internal/registry"
	"github.com/ioengine/ioengine/internal/sandbox"
	"github.com/ioengine/ioengine/pkg/errutil"
)

func TestManager_Load_EchoScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := writePackage(t, t.TempDir(), "echo", map[string]string{
		"config.yaml": echoDescriptor,
		"main.lua":    echoSource,
	})

	d, err := f.manager.Load(ctx, dir)
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, 1, d.Services())
	assert.Equal(t, []string{dir}, f.manager.SearchPath())

	svc, ok := f.registry.At(0)
	require.True(t, ok)
	assert.Equal(t, d.ID, svc.Origin())
	_, err = svc.Call(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, f.messages.all())

	require.NoError(t, f.manager.Unload(ctx, d.ID))
	assert.Empty(t, f.manager.SearchPath())
	_, ok = f.manager.Get(d.ID)
	assert.False(t, ok)

	err = f.manager.Unload(ctx, d.ID)
	errutil.AssertErrorCode(t, err, errcode.PackageNotFound)

	// Services outlive the package and stay callable.
	assert.Equal(t, 1, f.registry.Len())
	_, err = svc.Call(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "hi"}, f.messages.all())
}

func TestManager_Load_FreshIDs(t *testing.T) {
	f := newFixture(t)
	dir := writePackage(t, t.TempDir(), "echo", map[string]string{
		"config.yaml": echoDescriptor,
		"main.lua":    echoSource,
	})

	a, err := f.manager.Load(context.Background(), dir)
	require.NoError(t, err)
	b, err := f.manager.Load(context.Background(), dir)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, []string{dir, dir}, f.manager.SearchPath())
	assert.Equal(t, 2, f.manager.Len())
	assert.Equal(t, 2, f.registry.Len())

	require.NoError(t, f.manager.Unload(context.Background(), a.ID))
	assert.Equal(t, []string{dir}, f.manager.SearchPath())
}

func TestManager_Load_DescriptorErrorsLeaveNoTrace(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name  string
		files map[string]string
	}{
		{"no descriptor", map[string]string{"main.lua": echoSource}},
		{"malformed descriptor", map[string]string{"config.yaml": "entrypoint: [", "main.lua": echoSource}},
		{"missing entrypoint key", map[string]string{"config.yaml": "name: echo", "main.lua": echoSource}},
		{"missing entrypoint file", map[string]string{"config.yaml": "entrypoint: absent.lua"}},
		{"entrypoint is a directory", map[string]string{"config.yaml": "entrypoint: src", "src/x.lua": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			dir := writePackage(t, root, tt.name, tt.files)

			_, err := f.manager.Load(context.Background(), dir)
			errutil.AssertErrorCode(t, err, errcode.Descriptor)
			assert.Empty(t, f.manager.SearchPath())
			assert.Empty(t, f.manager.Packages())
			assert.Empty(t, f.manager.Enforcer().Packages())
			assert.Equal(t, 0, f.registry.Len())
		})
	}
}

func TestManager_Load_EntrypointSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	outside := filepath.Join(root, "outside.lua")
	require.NoError(t, os.WriteFile(outside, []byte(echoSource), 0o600))
	dir := writePackage(t, root, "escape", map[string]string{"config.yaml": "entrypoint: main.lua"})
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "main.lua")))

	f := newFixture(t)
	_, err := f.manager.Load(context.Background(), dir)
	errutil.AssertErrorCode(t, err, errcode.Descriptor)
	assert.Equal(t, 0, f.registry.Len())
}

func TestManager_Load_FailingEntrypointRollsBack(t *testing.T) {
	f := newFixture(t)
	dir := writePackage(t, t.TempDir(), "broken", map[string]string{
		"config.yaml": "entrypoint: main.lua",
		"main.lua": `
			api.register{type = "service", name = "first"}
			error("model weights missing")
		`,
	})

	_, err := f.manager.Load(context.Background(), dir)
	errutil.AssertErrorCode(t, err, errcode.Execution)
	assert.Contains(t, err.Error(), "model weights missing")

	assert.Empty(t, f.manager.SearchPath())
	assert.Empty(t, f.manager.Packages())
	assert.Empty(t, f.manager.Enforcer().Packages())
	assert.Equal(t, 0, f.registry.Len(), "registrations of a failed load are discarded")
}

func TestManager_Load_UnsupportedTypeFails(t *testing.T) {
	f := newFixture(t)
	dir := writePackage(t, t.TempDir(), "model", map[string]string{
		"config.yaml": "entrypoint: main.lua",
		"main.lua":    `api.register{type = "model", name = "unet"}`,
	})

	_, err := f.manager.Load(context.Background(), dir)
	errutil.AssertErrorCode(t, err, errcode.UnsupportedOperation)
	assert.Empty(t, f.manager.SearchPath())
	assert.Equal(t, 0, f.registry.Len())
}

func TestManager_Load_LockReleasedAfterFailure(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	broken := writePackage(t, root, "broken", map[string]string{
		"config.yaml": "entrypoint: main.lua",
		"main.lua":    `error("boom")`,
	})
	echo := writePackage(t, root, "echo", map[string]string{
		"config.yaml": echoDescriptor,
		"main.lua":    echoSource,
	})

	_, err := f.manager.Load(context.Background(), broken)
	require.Error(t, err)
	_, err = f.manager.Load(context.Background(), echo)
	require.NoError(t, err)
}

func TestManager_Load_LooseVersionWarns(t *testing.T) {
	var buf bytes.Buffer
	m := lifecycle.NewManager(sandbox.NewStateFactory(), registry.New(), capability.NewSurface(),
		lifecycle.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	t.Cleanup(func() {
		require.NoError(t, m.Close(context.Background()))
	})
	dir := writePackage(t, t.TempDir(), "loose", map[string]string{
		"config.yaml": "name: 42\nversion: 1.0\nentrypoint: main.lua\n",
		"main.lua":    "",
	})

	d, err := m.Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "42", d.DisplayName())
	assert.Contains(t, buf.String(), "package version is not a semantic version")
	assert.Contains(t, buf.String(), "version=1.0")
}

func TestManager_Load_PackageAccessors(t *testing.T) {
	f := newFixture(t)
	dir := writePackage(t, t.TempDir(), "unet2d", map[string]string{
		"config.yaml": `
name: unet2d
version: 0.1.0
entrypoint: main.lua
config:
  epochs: 3
_secret: hidden
`,
		"main.lua": `
			local info = api.getServiceInfo()
			local config = api.getConfig()
			config.epochs = 99
			api.register{
				type = "service",
				name = info.name,
				id = info.id,
				dir = info.package_dir,
				secret = info._secret,
				epochs = api.getConfig().epochs,
			}
		`,
	})

	d, err := f.manager.Load(context.Background(), dir)
	require.NoError(t, err)

	svc, _ := f.registry.At(0)
	fields := svc.Fields()
	assert.Equal(t, "unet2d", fields["name"])
	assert.Equal(t, d.ID, fields["id"])
	assert.Equal(t, dir, fields["dir"])
	assert.Equal(t, int64(3), fields["epochs"])
	assert.NotContains(t, fields, "secret")
}

func TestManager_Load_NoConfigGivesNil(t *testing.T) {
	f := newFixture(t)
	dir := writePackage(t, t.TempDir(), "bare", map[string]string{
		"config.yaml": "entrypoint: main.lua",
		"main.lua":    `assert(api.getConfig() == nil)`,
	})

	_, err := f.manager.Load(context.Background(), dir)
	require.NoError(t, err)
}

func TestManager_Load_CapabilitiesRestrictSurface(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	quiet := writePackage(t, root, "quiet", map[string]string{
		"config.yaml": "entrypoint: main.lua\ncapabilities: [api.register, api.getConfig]",
		"main.lua": `
			assert(api.showMessage == nil)
			assert(api.getServiceInfo == nil)
			api.register{type = "service", name = "quiet"}
		`,
	})
	loud := writePackage(t, root, "loud", map[string]string{
		"config.yaml": "entrypoint: main.lua\ncapabilities: [api.register]",
		"main.lua":    `api.showMessage("hello")`,
	})

	d, err := f.manager.Load(context.Background(), quiet)
	require.NoError(t, err)
	assert.Equal(t, []string{"api.register", "api.getConfig"}, f.manager.Enforcer().Grants(d.ID))

	_, err = f.manager.Load(context.Background(), loud)
	errutil.AssertErrorCode(t, err, errcode.Execution)
	assert.Empty(t, f.messages.all())

	require.NoError(t, f.manager.Unload(context.Background(), d.ID))
	assert.False(t, f.manager.Enforcer().IsRegistered(d.ID))
}

func TestManager_SiblingModulesAreIsolated(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	main := `
		local helper = require("helper")
		api.register{type = "service", name = helper.name, pkg = api.getServiceInfo().name}
	`
	a := writePackage(t, root, "a", map[string]string{
		"config.yaml": "name: a\nentrypoint: main.lua",
		"main.lua":    main,
		"helper.lua":  `return {name = "helper-a"}`,
	})
	b := writePackage(t, root, "b", map[string]string{
		"config.yaml":     "name: b\nentrypoint: main.lua",
		"main.lua":        main,
		"helper/init.lua": `return {name = "helper-b"}`,
	})

	_, err := f.manager.Load(context.Background(), a)
	require.NoError(t, err)
	_, err = f.manager.Load(context.Background(), b)
	require.NoError(t, err)

	first, _ := f.registry.At(0)
	second, _ := f.registry.At(1)
	assert.Equal(t, "helper-a", first.Name())
	assert.Equal(t, "helper-b", second.Name())
	assert.Equal(t, []string{b, a}, f.manager.SearchPath())
}

func TestManager_ConcurrentLoads(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	root := t.TempDir()

	const n = 8
	dirs := make([]string, n)
	for i := range n {
		dirs[i] = writePackage(t, root, fmt.Sprintf("pkg%d", i), map[string]string{
			"config.yaml": fmt.Sprintf("name: pkg%d\nentrypoint: main.lua", i),
			"main.lua": fmt.Sprintf(`
				for j = 1, 3 do
					api.register{type = "service", name = "pkg%d", index = j, ["key%d"] = true}
				end
			`, i, i),
		})
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.manager.Load(context.Background(), dirs[i])
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, n, f.manager.Len())
	assert.Len(t, f.manager.SearchPath(), n)
	require.Equal(t, 3*n, f.registry.Len())

	perPackage := make(map[string][]int64)
	for _, svc := range f.registry.Services() {
		name := svc.Name()
		assert.Equal(t, []string{"index", "key" + name[len("pkg"):], "name", "type"}, svc.Keys())
		index, _ := svc.Get("index")
		perPackage[name] = append(perPackage[name], index.(int64))
	}
	for i := range n {
		// A package's records are committed together and in order.
		assert.Equal(t, []int64{1, 2, 3}, perPackage[fmt.Sprintf("pkg%d", i)])
	}
}

func TestManager_DiscoverAndLoadAll(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	writePackage(t, root, "b-echo", map[string]string{
		"config.yaml": echoDescriptor,
		"main.lua":    echoSource,
	})
	writePackage(t, root, "a-broken", map[string]string{
		"config.yaml": "entrypoint: main.lua",
		"main.lua":    `error("boom")`,
	})
	writePackage(t, root, "c-notes", map[string]string{"README.md": "not a package"})
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), nil, 0o600))

	dirs, err := f.manager.Discover(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a-broken"), filepath.Join(root, "b-echo")}, dirs)

	loaded, err := f.manager.LoadAll(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "echo", loaded[0].DisplayName())
	assert.Equal(t, 1, f.registry.Len())
}

func TestManager_Discover_MissingRoot(t *testing.T) {
	f := newFixture(t)
	dirs, err := f.manager.Discover(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestManager_Packages_SortedByLoadOrder(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	var ids []string
	for i := range 3 {
		dir := writePackage(t, root, fmt.Sprintf("p%d", i), map[string]string{
			"config.yaml": "entrypoint: main.lua",
			"main.lua":    "",
		})
		d, err := f.manager.Load(context.Background(), dir)
		require.NoError(t, err)
		ids = append(ids, d.ID)
	}

	var got []string
	for _, d := range f.manager.Packages() {
		got = append(got, d.ID)
	}
	assert.Equal(t, ids, got)
}

func TestManager_Close(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := writePackage(t, t.TempDir(), "echo", map[string]string{
		"config.yaml": echoDescriptor,
		"main.lua":    echoSource,
	})
	d, err := f.manager.Load(ctx, dir)
	require.NoError(t, err)

	require.NoError(t, f.manager.Close(ctx))
	assert.True(t, d.Locals.IsClosed())
	assert.Empty(t, f.manager.SearchPath())
	assert.Empty(t, f.manager.Packages())

	_, err = f.manager.Load(ctx, dir)
	errutil.AssertErrorCode(t, err, errcode.EngineClosed)

	svc, _ := f.registry.At(0)
	_, err = svc.Call(ctx, "run")
	errutil.AssertErrorCode(t, err, errcode.NamespaceClosed)
}

func TestManager_Unload_ClosesNamespaceWithoutServices(t *testing.T) {
	f := newFixture(t)
	dir := writePackage(t, t.TempDir(), "silent", map[string]string{
		"config.yaml": "entrypoint: main.lua",
		"main.lua":    "x = 1",
	})
	d, err := f.manager.Load(context.Background(), dir)
	require.NoError(t, err)

	require.NoError(t, f.manager.Unload(context.Background(), d.ID))
	assert.True(t, d.Locals.IsClosed())
}
