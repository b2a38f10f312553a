// Package semver answers the version questions the indexer asks of manifest
// and tag strings: is this a version, is this a range, which of two versions
// is newer, and what is the lowest version a range admits.
//
// Versions are strict three-part semantic versions. Valid tolerates one
// leading "v" and surrounding whitespace; Clean also strips any run of
// leading "=" and "v". Build metadata is dropped.
package semver

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

func parse(s string) (*mm.Version, bool) {
	return parseStrict(strings.TrimLeft(strings.TrimSpace(s), "=v"))
}

func parseStrict(s string) (*mm.Version, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return nil, false
	}
	v, err := mm.StrictNewVersion(s)
	if err != nil {
		return nil, false
	}
	return v, true
}

func format(v *mm.Version) string {
	out := fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
	if pre := v.Prerelease(); pre != "" {
		out += "-" + pre
	}
	return out
}

// Valid reports whether s is a semantic version and returns its cleaned form.
func Valid(s string) (string, bool) {
	v, ok := parseStrict(s)
	if !ok {
		return "", false
	}
	return format(v), true
}

// Clean returns the cleaned form of s, or "" if s is not a version.
func Clean(s string) string {
	v, ok := parse(s)
	if !ok {
		return ""
	}
	return format(v)
}

// ValidRange reports whether s is a version constraint expression.
func ValidRange(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	_, err := mm.NewConstraint(s)
	return err == nil
}

// Compare returns -1, 0 or 1 according to the precedence of a and b.
// Invalid versions sort before valid ones.
func Compare(a, b string) int {
	va, okA := parse(a)
	vb, okB := parse(b)
	switch {
	case !okA && !okB:
		return strings.Compare(a, b)
	case !okA:
		return -1
	case !okB:
		return 1
	}
	return va.Compare(vb)
}

// Newer reports whether a has higher precedence than b.
func Newer(a, b string) bool {
	return Compare(a, b) > 0
}

// Sort orders versions by ascending precedence. The sort is stable so
// strings that clean to the same version keep their input order.
func Sort(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return Compare(versions[i], versions[j]) < 0
	})
}

// IsPrerelease reports whether v carries a pre-release tag.
func IsPrerelease(v string) bool {
	pv, ok := parse(v)
	return ok && pv.Prerelease() != ""
}

// Triple returns the numeric major, minor and patch components of v.
func Triple(v string) (major, minor, patch uint64, ok bool) {
	pv, ok := parse(v)
	if !ok {
		return 0, 0, 0, false
	}
	return pv.Major(), pv.Minor(), pv.Patch(), true
}

var versionToken = regexp.MustCompile(`\d+(?:\.(?:\d+|[xX*]))?(?:\.(?:\d+|[xX*]))?(?:-[0-9A-Za-z.-]+)?`)

// MinVersion returns the lowest version admitted by a version or range.
// A version is returned cleaned. A range yields the lowest candidate drawn
// from its comparators that satisfies it. Input that is neither is returned
// unchanged.
func MinVersion(s string) string {
	if v, ok := Valid(s); ok {
		return v
	}
	c, err := mm.NewConstraint(s)
	if err != nil {
		return s
	}

	candidates := []*mm.Version{mm.MustParse("0.0.0")}
	for _, tok := range versionToken.FindAllString(s, -1) {
		base, ok := fillWildcards(tok)
		if !ok {
			continue
		}
		candidates = append(candidates, base)
		p, m, M := base.IncPatch(), base.IncMinor(), base.IncMajor()
		candidates = append(candidates, &p, &m, &M)
	}

	var lowest *mm.Version
	for _, cand := range candidates {
		if !c.Check(cand) {
			continue
		}
		if lowest == nil || cand.LessThan(lowest) {
			lowest = cand
		}
	}
	if lowest == nil {
		return s
	}
	return format(lowest)
}

// fillWildcards turns a partial or x-range token into a concrete version by
// replacing missing and wildcard components with zero.
func fillWildcards(tok string) (*mm.Version, bool) {
	core, pre, _ := strings.Cut(tok, "-")
	parts := strings.Split(core, ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	for i, p := range parts {
		if p == "x" || p == "X" || p == "*" {
			parts[i] = "0"
			pre = ""
		}
	}
	v := strings.Join(parts, ".")
	if pre != "" {
		v += "-" + pre
	}
	pv, err := mm.StrictNewVersion(v)
	if err != nil {
		return nil, false
	}
	return pv, true
}
