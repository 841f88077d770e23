package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pelletier/go-toml/v2"
)

// Format is a manifest encoding.
type Format string

const (
	FormatHCL  Format = "hcl"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// DetectFormat infers the format from a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return FormatHCL, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unsupported manifest extension %q", filepath.Ext(path))
}

// Parse decodes a single manifest document.
func Parse(data []byte, filename string, format Format) (*Bundle, error) {
	var b Bundle
	switch format {
	case FormatHCL:
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCL(data, filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL manifest %s: %w", filename, diags)
		}
		if diags := gohcl.DecodeBody(file.Body, nil, &b); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL manifest %s: %w", filename, diags)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to decode YAML manifest %s: %w", filename, err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to decode TOML manifest %s: %w", filename, err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}
	return &b, nil
}

// LoadFile reads and validates one manifest file.
func LoadFile(path string) (*Bundle, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	b, err := Parse(data, path, format)
	if err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return b, nil
}

// LoadDir merges every manifest under root matching the doublestar pattern,
// in lexical path order, and validates the result as one bundle.
func LoadDir(root, pattern string) (*Bundle, error) {
	fsys := os.DirFS(root)
	matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to search manifests in %s: %w", root, err)
	}
	sort.Strings(matches)

	bundle := &Bundle{}
	for _, rel := range matches {
		format, err := DetectFormat(rel)
		if err != nil {
			continue
		}
		data, err := fs.ReadFile(fsys, rel)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest %s: %w", rel, err)
		}
		b, err := Parse(data, filepath.Join(root, rel), format)
		if err != nil {
			return nil, err
		}
		bundle.Merge(b)
	}
	if err := bundle.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bundle in %s: %w", root, err)
	}
	return bundle, nil
}

// Load accepts either a single manifest file or a directory.
func Load(path, pattern string) (*Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path, pattern)
	}
	return LoadFile(path)
}
