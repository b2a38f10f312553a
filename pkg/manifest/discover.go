package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/xelpkg/registry/pkg/semver"
)

// ErrNoVersions is returned by Discover when there are no tags to inspect.
var ErrNoVersions = errors.New("no version tags to index")

// Reason identifies which manifest rule a tag violated.
type Reason string

const (
	ReasonUnreadable             Reason = "unreadable-manifest"
	ReasonMissingName            Reason = "missing-name"
	ReasonInvalidName            Reason = "invalid-name"
	ReasonMissingVersion         Reason = "missing-version"
	ReasonInvalidVersion         Reason = "invalid-version"
	ReasonVersionMismatch        Reason = "version-mismatch"
	ReasonInvalidRuntimeRange    Reason = "invalid-runtime-range"
	ReasonInvalidEngineRange     Reason = "invalid-engine-range"
	ReasonInvalidDependencyRange Reason = "invalid-dependency-range"
	ReasonMissingMain            Reason = "missing-main"
	ReasonMainNotFound           Reason = "main-not-found"
	ReasonNameChanged            Reason = "name-changed"
)

var reasonMessages = map[Reason]string{
	ReasonUnreadable:             "manifest could not be read",
	ReasonMissingName:            "package name is required",
	ReasonInvalidName:            "package name must contain only lowercase letters, numbers, and underscores",
	ReasonMissingVersion:         "version is required",
	ReasonInvalidVersion:         "invalid version",
	ReasonVersionMismatch:        "version does not match tag",
	ReasonInvalidRuntimeRange:    "invalid xel version requirement",
	ReasonInvalidEngineRange:     "invalid engine version requirement",
	ReasonInvalidDependencyRange: "invalid dependency version requirement",
	ReasonMissingMain:            "main file is required",
	ReasonMainNotFound:           "main file does not exist",
	ReasonNameChanged:            "package name cannot change throughout the package history",
}

// ValidationError reports the first rule a tag's manifest broke.
type ValidationError struct {
	Reason Reason
	Tag    string
	Detail string
}

func (e *ValidationError) Error() string {
	msg := reasonMessages[e.Reason]
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return fmt.Sprintf("tag %s: %s", e.Tag, msg)
}

// Checkout is the mutable working tree discovery reads manifests from.
type Checkout interface {
	Checkout(tag string) error
	Dir() string
}

// Discoverer validates the manifest of every tag in a checkout.
type Discoverer struct {
	FileName string
	Logger   *slog.Logger
}

// NewDiscoverer returns a Discoverer for manifests named fileName.
func NewDiscoverer(fileName string, logger *slog.Logger) *Discoverer {
	if fileName == "" {
		fileName = DefaultFileName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{FileName: fileName, Logger: logger}
}

// Discover checks out each tag in order and validates its manifest. Tags
// must already be sorted by ascending version; they are visited strictly
// one at a time because each checkout rewrites the working tree. Tags that
// clean to an already seen version are skipped. The first failure aborts
// discovery.
func (d *Discoverer) Discover(ctx context.Context, co Checkout, tags []string) (*Result, error) {
	if len(tags) == 0 {
		return nil, ErrNoVersions
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	res := &Result{}
	var first *Manifest

	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cleanTag := semver.Clean(tag)
		if seen.Contains(cleanTag) {
			d.Logger.Warn("skipping duplicate version tag", "tag", tag, "version", cleanTag)
			continue
		}
		seen.Add(cleanTag)

		if err := co.Checkout(tag); err != nil {
			return nil, fmt.Errorf("checkout %s: %w", tag, err)
		}
		m, err := Read(co.Dir(), d.FileName)
		if err != nil {
			return nil, &ValidationError{Reason: ReasonUnreadable, Tag: tag, Detail: err.Error()}
		}
		rec, err := d.validate(co.Dir(), tag, cleanTag, m)
		if err != nil {
			return nil, err
		}

		if first == nil {
			first = m
			res.Name = m.Name
		} else if m.Name != res.Name {
			return nil, &ValidationError{
				Reason: ReasonNameChanged,
				Tag:    tag,
				Detail: fmt.Sprintf("%q became %q", res.Name, m.Name),
			}
		}
		res.Records = append(res.Records, *rec)
		d.Logger.Debug("validated manifest", "tag", tag, "version", rec.Version)
	}

	res.Description = first.Description
	res.Author = first.Author
	res.Tags = normalizeTags(first.Tags)
	res.Deprecated = first.IsDeprecated()
	res.DeprecatedReason = first.DeprecatedReason()
	return res, nil
}

func (d *Discoverer) validate(dir, tag, cleanTag string, m *Manifest) (*Record, error) {
	fail := func(r Reason, detail string) (*Record, error) {
		return nil, &ValidationError{Reason: r, Tag: tag, Detail: detail}
	}

	if m.Name == "" {
		return fail(ReasonMissingName, "")
	}
	if !namePattern.MatchString(m.Name) {
		return fail(ReasonInvalidName, m.Name)
	}

	if m.Version == "" {
		return fail(ReasonMissingVersion, "")
	}
	version, ok := semver.Valid(m.Version)
	if !ok {
		return fail(ReasonInvalidVersion, m.Version)
	}
	if version != cleanTag {
		return fail(ReasonVersionMismatch, fmt.Sprintf("manifest %s, tag %s", version, cleanTag))
	}

	runtime, ok := cleanRequirement(m.Xel)
	if !ok {
		return fail(ReasonInvalidRuntimeRange, m.Xel)
	}
	engine, ok := cleanRequirement(m.Engine)
	if !ok {
		return fail(ReasonInvalidEngineRange, m.Engine)
	}

	deps := make([]Dependency, 0, len(m.Dependencies))
	for name, r := range m.Dependencies {
		if _, ok := cleanRequirement(r); !ok {
			return fail(ReasonInvalidDependencyRange, name+"@"+r)
		}
		deps = append(deps, Dependency{Name: name, Range: r})
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })

	if m.Main == "" {
		return fail(ReasonMissingMain, "")
	}
	if !fileExists(dir, m.Main) {
		return fail(ReasonMainNotFound, m.Main)
	}

	major, minor, patch, _ := semver.Triple(version)
	return &Record{
		Tag:          tag,
		Version:      version,
		Major:        major,
		Minor:        minor,
		Patch:        patch,
		Prerelease:   semver.IsPrerelease(version),
		RuntimeRange: runtime,
		EngineRange:  engine,
		License:      m.License,
		Main:         m.Main,
		Tags:         normalizeTags(m.Tags),
		Deprecated:   m.IsDeprecated(),
		Dependencies: deps,
	}, nil
}

// cleanRequirement validates a version or range and reduces it to its
// minimal representative version. An empty requirement means any version.
func cleanRequirement(req string) (string, bool) {
	if strings.TrimSpace(req) == "" {
		req = DefaultRange
	}
	if _, ok := semver.Valid(req); !ok && !semver.ValidRange(req) {
		return "", false
	}
	return semver.MinVersion(req), true
}

// fileExists reports whether rel names a regular file inside dir. Paths that
// escape dir are treated as missing.
func fileExists(dir, rel string) bool {
	full := filepath.Join(dir, filepath.FromSlash(rel))
	if r, err := filepath.Rel(dir, full); err != nil || strings.HasPrefix(r, "..") {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && !info.IsDir()
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
