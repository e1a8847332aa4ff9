// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

// Package lifecycle loads and unloads extension packages.
//
// A package is a directory holding a config.yaml descriptor and the Lua entry
// point it names. Loading evaluates the entry point in a namespace of its own
// and commits the services it registers; unloading forgets the package.
package lifecycle

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/ioengine/ioengine/internal/capability"
	"github.com/ioengine/ioengine/internal/errcode"
	"github.com/ioengine/ioengine/internal/registry"
	"github.com/ioengine/ioengine/internal/sandbox"
)

// DescriptorFile is the descriptor file name inside a package directory.
const DescriptorFile = "config.yaml"

// Scalar is a descriptor field that accepts any YAML scalar and keeps it as
// written, so "version: 1.0" stays "1.0" and "name: 42" stays "42".
type Scalar string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return oops.In("lifecycle").With("line", node.Line).Errorf("expected a scalar, got a %s", nodeKind(node))
	}
	if node.ShortTag() == "!!null" {
		*s = ""
		return nil
	}
	*s = Scalar(node.Value)
	return nil
}

// JSONSchema implements jsonschema.JSONSchemer.
func (Scalar) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		AnyOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "number"},
			{Type: "boolean"},
			{Type: "null"},
		},
	}
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	default:
		return "node"
	}
}

// Descriptor is a package's config.yaml plus the values assigned by the host
// when the package is loaded.
type Descriptor struct {
	// Entrypoint is the Lua file evaluated at load, relative to the package directory.
	Entrypoint string `yaml:"entrypoint" json:"entrypoint" jsonschema:"minLength=1"`

	Name        Scalar `yaml:"name,omitempty" json:"name,omitempty"`
	Version     Scalar `yaml:"version,omitempty" json:"version,omitempty"`
	Description Scalar `yaml:"description,omitempty" json:"description,omitempty"`

	// Capabilities are glob grants over the api surface, e.g. "api.*".
	// An empty list grants everything.
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`

	// Config is handed to the package through api.getConfig().
	Config any `yaml:"config,omitempty" json:"config,omitempty"`

	// Extra holds any other top-level keys, preserved as written.
	Extra map[string]any `yaml:",inline" json:"-"`

	// Assigned at load.
	ID         string             `yaml:"-" json:"-"`
	PackageDir string             `yaml:"-" json:"-"` // absolute
	Locals     *sandbox.Namespace `yaml:"-" json:"-"`

	batch *registry.Batch
}

// ParseDescriptor validates data against the descriptor schema, decodes it
// and checks the constraints the schema cannot express. Every failure has
// code DESCRIPTOR_ERROR.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, oops.In("lifecycle").Code(errcode.Descriptor).Wrap(err)
	}

	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, oops.In("lifecycle").Code(errcode.Descriptor).Wrapf(err, "invalid YAML")
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// ReadDescriptor reads and parses the descriptor of the package in dir.
// PackageDir is set to the absolute form of dir.
func ReadDescriptor(dir string) (*Descriptor, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, oops.In("lifecycle").Code(errcode.Descriptor).With("dir", dir).Wrap(err)
	}

	path := filepath.Join(abs, DescriptorFile)
	data, err := os.ReadFile(path) //nolint:gosec // path is the descriptor of a caller-chosen package
	if err != nil {
		return nil, oops.In("lifecycle").Code(errcode.Descriptor).
			With("path", path).
			Hint("a package directory must contain " + DescriptorFile).
			Wrapf(err, "read descriptor")
	}

	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, oops.In("lifecycle").With("path", path).Wrap(err)
	}
	d.PackageDir = abs
	return d, nil
}

// Validate checks the constraints not covered by the JSON schema.
func (d *Descriptor) Validate() error {
	if d.Entrypoint == "" {
		return oops.In("lifecycle").Code(errcode.Descriptor).Errorf("entrypoint is required")
	}
	if !filepath.IsLocal(filepath.FromSlash(d.Entrypoint)) {
		return oops.In("lifecycle").Code(errcode.Descriptor).
			With("entrypoint", d.Entrypoint).
			Errorf("entrypoint %q must be a relative path inside the package", d.Entrypoint)
	}
	for i, pattern := range d.Capabilities {
		if pattern == "" {
			return oops.In("lifecycle").Code(errcode.Descriptor).
				With("index", i).
				Errorf("capability %d is empty", i)
		}
		if _, err := glob.Compile(pattern, '.'); err != nil {
			return oops.In("lifecycle").Code(errcode.Descriptor).
				With("capability", pattern).
				Wrapf(err, "capability %d (%q)", i, pattern)
		}
	}
	return nil
}

// SemVer parses Version as a strict semantic version. Versions are not
// required to be semantic; the manager only warns about them.
func (d *Descriptor) SemVer() (*semver.Version, error) {
	v, err := semver.StrictNewVersion(string(d.Version))
	if err != nil {
		return nil, oops.In("lifecycle").
			With("version", d.Version).
			Wrapf(err, "version %q is not a semantic version", d.Version)
	}
	return v, nil
}

// Grants returns the capability patterns to enforce for the package.
func (d *Descriptor) Grants() []string {
	if len(d.Capabilities) == 0 {
		return capability.DefaultGrants
	}
	return d.Capabilities
}

// Info returns what api.getServiceInfo() hands the package: every public
// descriptor key plus id and package_dir.
func (d *Descriptor) Info() map[string]any {
	info := make(map[string]any, len(d.Extra)+8)
	for k, v := range d.Extra {
		if !strings.HasPrefix(k, registry.PrivateMarker) {
			info[k] = v
		}
	}
	info["entrypoint"] = d.Entrypoint
	set := func(key string, value Scalar) {
		if value != "" {
			info[key] = string(value)
		}
	}
	set("name", d.Name)
	set("version", d.Version)
	set("description", d.Description)
	if len(d.Capabilities) > 0 {
		info["capabilities"] = d.Capabilities
	}
	if d.Config != nil {
		info["config"] = d.Config
	}
	info["id"] = d.ID
	info["package_dir"] = d.PackageDir
	return info
}

// Services returns how many services the package has registered so far.
func (d *Descriptor) Services() int {
	if d.batch == nil {
		return 0
	}
	return d.batch.Published()
}

// DisplayName returns Name, or the directory name when Name is empty.
func (d *Descriptor) DisplayName() string {
	if d.Name != "" {
		return string(d.Name)
	}
	return filepath.Base(d.PackageDir)
}

// entrypointSource reads the entry point, refusing paths that resolve
// outside the package directory through symlinks.
func (d *Descriptor) entrypointSource() (string, error) {
	path := filepath.Join(d.PackageDir, filepath.FromSlash(d.Entrypoint))
	errb := oops.In("lifecycle").Code(errcode.Descriptor).
		With("package_dir", d.PackageDir).
		With("entrypoint", d.Entrypoint)

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", errb.Hint("the entrypoint named in " + DescriptorFile + " must exist").Wrapf(err, "resolve entrypoint")
	}
	root, err := filepath.EvalSymlinks(d.PackageDir)
	if err != nil {
		return "", errb.Wrapf(err, "resolve package directory")
	}
	if rel, err := filepath.Rel(root, resolved); err != nil || !filepath.IsLocal(rel) {
		return "", errb.Errorf("entrypoint %q resolves outside the package", d.Entrypoint)
	}

	data, err := os.ReadFile(resolved) //nolint:gosec // resolved is checked to stay inside the package
	if err != nil {
		return "", errb.Wrapf(err, "read entrypoint")
	}
	return string(data), nil
}

// Check validates the package in dir without running it: the descriptor
// must be valid and the entry point must exist inside the package and
// compile. A syntax error fails with EXECUTION_ERROR, as it would on load.
func Check(dir string) (*Descriptor, error) {
	d, err := ReadDescriptor(dir)
	if err != nil {
		return nil, err
	}
	source, err := d.entrypointSource()
	if err != nil {
		return nil, err
	}
	var cache *sandbox.Cache
	if _, err := cache.Compile(d.Entrypoint, source); err != nil {
		return nil, oops.In("lifecycle").With("package_dir", d.PackageDir).Wrap(err)
	}
	return d, nil
}
