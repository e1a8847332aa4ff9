// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package lifecycle_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioengine/ioengine/internal/lifecycle"
)

func TestGenerateSchema(t *testing.T) {
	data, err := lifecycle.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, lifecycle.SchemaID, schema["$id"])
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"entrypoint"}, schema["required"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"entrypoint", "name", "version", "description", "capabilities", "config"} {
		assert.Contains(t, props, key)
	}
	for _, key := range []string{"ID", "PackageDir", "Locals", "Extra"} {
		assert.NotContains(t, props, key)
	}
}

func TestValidateSchema(t *testing.T) {
	require.NoError(t, lifecycle.ValidateSchema([]byte("entrypoint: main.lua\nextra: {nested: [1, 2]}\n")))

	err := lifecycle.ValidateSchema([]byte("name: echo\n"))
	require.Error(t, err)
	assert.NotContains(t, lifecycle.FormatSchemaError(err), "schema validation failed: ")
	assert.Empty(t, lifecycle.FormatSchemaError(nil))
}

func TestValidateSchema_NonStringKeys(t *testing.T) {
	require.NoError(t, lifecycle.ValidateSchema([]byte("entrypoint: main.lua\nconfig:\n  1: one\n  true: yes\n")))
}
