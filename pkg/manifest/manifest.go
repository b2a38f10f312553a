// Package manifest reads and validates the per-version package manifest
// (xel.json) across the tagged history of a repository.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultFileName is the manifest file expected at the repository root.
const DefaultFileName = "xel.json"

// DefaultRange is used when a manifest omits a runtime or engine requirement.
const DefaultRange = "*"

var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Manifest is the raw manifest as written by the package author.
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description"`
	Author       string            `json:"author"`
	License      string            `json:"license"`
	Main         string            `json:"main"`
	Xel          string            `json:"xel"`
	Engine       string            `json:"engine"`
	Tags         []string          `json:"tags"`
	Dependencies map[string]string `json:"dependencies"`

	// Deprecated is kept raw: the key's presence marks the package
	// deprecated, and a string value is the reason.
	Deprecated json.RawMessage `json:"deprecated,omitempty"`
}

// IsDeprecated reports whether the manifest carries a deprecated key.
func (m *Manifest) IsDeprecated() bool {
	return m.Deprecated != nil
}

// DeprecatedReason returns the deprecation message, or "" when the value is
// not a string.
func (m *Manifest) DeprecatedReason() string {
	if m.Deprecated == nil {
		return ""
	}
	var reason string
	if err := json.Unmarshal(m.Deprecated, &reason); err != nil {
		return ""
	}
	return reason
}

// Read parses the manifest file named fileName in dir.
func Read(dir, fileName string) (*Manifest, error) {
	if fileName == "" {
		fileName = DefaultFileName
	}
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fileName, err)
	}
	m.Name = strings.TrimSpace(m.Name)
	return &m, nil
}

// Dependency is one declared dependency range.
type Dependency struct {
	Name  string `json:"name"`
	Range string `json:"range"`
}

// Record is a validated manifest for one tag.
type Record struct {
	Tag          string
	Version      string
	Major        uint64
	Minor        uint64
	Patch        uint64
	Prerelease   bool
	RuntimeRange string
	EngineRange  string
	License      string
	Main         string
	Tags         []string
	Deprecated   bool
	Dependencies []Dependency
}

// Result is the outcome of version discovery: one record per tag in
// ascending version order, plus package-level metadata taken from the
// earliest record.
type Result struct {
	Name             string
	Description      string
	Author           string
	Tags             []string
	Deprecated       bool
	DeprecatedReason string
	Records          []Record
}

// SourceTags returns the source tag of every record, in record order.
func (r *Result) SourceTags() []string {
	tags := make([]string, len(r.Records))
	for i, rec := range r.Records {
		tags[i] = rec.Tag
	}
	return tags
}
