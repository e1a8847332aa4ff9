// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

//go:build integration

package engine_test

import (
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/ioengine/ioengine/pkg/ioengine"
)

var _ = Describe("Ad-hoc execution", func() {
	var env *testEnv

	BeforeEach(func() {
		env = newTestEnv()
	})

	It("registers a service and runs it", func() {
		Expect(env.engine.Execute(env.ctx, `
local function run() api.showMessage("hello") end
api.register{type = "service", name = "test", run = run, _hidden = true}
`)).To(Succeed())

		services := env.engine.Services()
		Expect(services).To(HaveLen(1))
		Expect(services[0].Keys()).To(Equal([]string{"name", "run", "type"}))

		_, err := services[0].Call(env.ctx, "run")
		Expect(err).NotTo(HaveOccurred())
		Expect(env.messages.all()).To(Equal([]string{"hello"}))
	})

	It("rejects registrations of other types without side effects", func() {
		err := env.engine.Execute(env.ctx, `api.register{type = "model", name = "m"}`)
		Expect(ioengine.HasCode(err, ioengine.CodeUnsupportedOperation)).To(BeTrue())
		Expect(env.engine.Services()).To(BeEmpty())
	})
})

var _ = Describe("Package lifecycle", func() {
	var env *testEnv

	BeforeEach(func() {
		env = newTestEnv()
	})

	It("trains and predicts with the unet2d example", func() {
		id, err := env.engine.LoadPackage(env.ctx, examplesDir()+"/unet2d")
		Expect(err).NotTo(HaveOccurred())
		Expect(id).NotTo(BeEmpty())

		svc, ok := env.engine.Service(0)
		Expect(ok).To(BeTrue())
		Expect(svc.Name()).To(Equal("unet2d"))
		Expect(svc.Keys()).NotTo(ContainElement("_net"))

		_, err = svc.Call(env.ctx, "predict", 1)
		Expect(ioengine.HasCode(err, ioengine.CodeExecution)).To(BeTrue())

		_, err = svc.Call(env.ctx, "train")
		Expect(err).NotTo(HaveOccurred())
		Expect(env.messages.all()).To(HaveLen(3))
		Expect(env.messages.all()[0]).To(HavePrefix("epoch 1/3"))

		out, err := svc.Call(env.ctx, "predict", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(1))
		Expect(out[0]).To(HaveKeyWithValue("mask", true))
		Expect(out[0]).To(HaveKeyWithValue("score", BeNumerically("~", 2.083, 0.001)))
	})

	It("runs the echo scenario end to end", func() {
		id, err := env.engine.LoadPackage(env.ctx, examplesDir()+"/echo")
		Expect(err).NotTo(HaveOccurred())

		svc, ok := env.engine.Service(0)
		Expect(ok).To(BeTrue())
		_, err = svc.Call(env.ctx, "run")
		Expect(err).NotTo(HaveOccurred())
		Expect(env.messages.all()).To(Equal([]string{"hi"}))

		out, err := svc.Call(env.ctx, "echo", "a", int64(2))
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal([]any{"a", int64(2)}))

		Expect(env.engine.UnloadPackage(env.ctx, id)).To(Succeed())
		err = env.engine.UnloadPackage(env.ctx, id)
		Expect(ioengine.HasCode(err, ioengine.CodePackageNotFound)).To(BeTrue())
	})

	It("leaves no trace when the entry point raises", func() {
		dir := writePackage(GinkgoT().TempDir(), "raises", map[string]string{
			"config.yaml": "entrypoint: main.lua\n",
			"main.lua":    `api.register{type = "service", name = "x"}; error("fail")`,
		})

		_, err := env.engine.LoadPackage(env.ctx, dir)
		Expect(err).To(HaveOccurred())
		Expect(env.engine.SearchPath()).NotTo(ContainElement(dir))
		Expect(env.engine.Packages()).To(BeEmpty())
		Expect(env.engine.Services()).To(BeEmpty())
	})

	It("keeps sibling modules of different packages apart", func() {
		root := GinkgoT().TempDir()
		for _, name := range []string{"left", "right"} {
			writePackage(root, name, map[string]string{
				"config.yaml": "entrypoint: main.lua\n",
				"util.lua":    fmt.Sprintf(`return %q`, name),
				"main.lua": `
local util = require("util")
api.register{type = "service", name = util, whoami = function() return util end}
`,
			})
		}

		ids, err := env.engine.LoadAll(env.ctx, root)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(HaveLen(2))

		for _, svc := range env.engine.Services() {
			out, err := svc.Call(env.ctx, "whoami")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]any{svc.Name()}))
		}
	})

	It("loads many packages concurrently", func() {
		const n = 16
		root := GinkgoT().TempDir()
		dirs := make([]string, n)
		for i := range n {
			dirs[i] = writePackage(root, fmt.Sprintf("p%02d", i), map[string]string{
				"config.yaml": "entrypoint: main.lua\n",
				"main.lua":    fmt.Sprintf(`api.register{type = "service", name = "p%02d", n = %d}`, i, i),
			})
		}

		var wg sync.WaitGroup
		for _, dir := range dirs {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := env.engine.LoadPackage(env.ctx, dir)
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		Expect(env.engine.Packages()).To(HaveLen(n))
		Expect(env.engine.Services()).To(HaveLen(n))
		for _, svc := range env.engine.Services() {
			Expect(svc.Keys()).To(Equal([]string{"n", "name", "type"}))
		}
	})
})
