// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package lifecycle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ioengine/ioengine/internal/lifecycle"
)

func TestSearchPath(t *testing.T) {
	var p lifecycle.SearchPath

	p.Prepend("/a")
	p.Prepend("/b")
	p.Prepend("/a")
	assert.Equal(t, []string{"/a", "/b", "/a"}, p.Dirs())
	assert.True(t, p.Contains("/b"))

	assert.True(t, p.Remove("/a"))
	assert.Equal(t, []string{"/b", "/a"}, p.Dirs())
	assert.False(t, p.Remove("/missing"))
	assert.Equal(t, 2, p.Len())

	dirs := p.Dirs()
	dirs[0] = "/changed"
	assert.Equal(t, []string{"/b", "/a"}, p.Dirs())

	p.Clear()
	assert.Equal(t, 0, p.Len())
	assert.False(t, p.Contains("/a"))
}
